package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Диалектные различия схемы. Запросы репозиториев общие ($N плейсхолдеры
// понимают и postgres, и sqlite3).
var dialects = map[string]*strings.Replacer{
	"postgres": strings.NewReplacer(
		"{{serial}}", "SERIAL PRIMARY KEY",
		"{{json}}", "JSONB",
		"{{now}}", "NOW()",
	),
	"sqlite3": strings.NewReplacer(
		"{{serial}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
		"{{json}}", "TEXT",
		"{{now}}", "CURRENT_TIMESTAMP",
	),
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS positions (
		id VARCHAR(36) PRIMARY KEY,
		venue VARCHAR(50) NOT NULL,
		instrument VARCHAR(64) NOT NULL,
		side VARCHAR(5) NOT NULL DEFAULT 'long',
		size DECIMAL(30, 8) NOT NULL,
		requested_leverage DECIMAL(10, 2) NOT NULL,
		effective_leverage DECIMAL(10, 2) NOT NULL,
		take_profit DECIMAL(10, 4) NOT NULL,
		stop_loss DECIMAL(10, 4) NOT NULL,
		venue_position_id VARCHAR(128) NOT NULL DEFAULT '',
		entry_price DECIMAL(30, 10) NOT NULL DEFAULT 0,
		liquidation_price DECIMAL(30, 10) NOT NULL DEFAULT 0,
		quantity DECIMAL(30, 10) NOT NULL DEFAULT 0,
		state VARCHAR(10) NOT NULL,
		close_reason VARCHAR(20) NOT NULL DEFAULT '',
		realized_pnl DECIMAL(30, 10),
		last_error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT {{now}},
		updated_at TIMESTAMP NOT NULL DEFAULT {{now}},
		opened_at TIMESTAMP,
		closed_at TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_positions_state ON positions (state)`,
	`CREATE TABLE IF NOT EXISTS position_transitions (
		id {{serial}},
		position_id VARCHAR(36) NOT NULL,
		from_state VARCHAR(10) NOT NULL DEFAULT '',
		to_state VARCHAR(10) NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		realized_pnl DECIMAL(30, 10),
		created_at TIMESTAMP NOT NULL DEFAULT {{now}}
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transitions_position ON position_transitions (position_id, id)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id {{serial}},
		timestamp TIMESTAMP NOT NULL DEFAULT {{now}},
		type VARCHAR(20) NOT NULL,
		severity VARCHAR(10) NOT NULL DEFAULT 'info',
		position_id VARCHAR(36),
		message TEXT NOT NULL,
		meta {{json}}
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_timestamp ON notifications (timestamp)`,
}

// Migrate создаёт таблицы, если их нет
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	d, ok := dialects[driver]
	if !ok {
		return fmt.Errorf("unsupported database driver %q", driver)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, d.Replace(stmt)); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
