package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"leverage/internal/models"
)

// Ошибки репозитория позиций
var (
	ErrPositionNotFound = errors.New("position not found")
)

// execer - *sql.DB или *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// PositionRepository - работа с таблицей positions
//
// Таблица хранит последний снимок позиции; история переходов - в position_transitions.
type PositionRepository struct {
	db *sql.DB
}

// NewPositionRepository создает новый экземпляр репозитория
func NewPositionRepository(db *sql.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

const positionColumns = `id, venue, instrument, side, size, requested_leverage, effective_leverage,
	take_profit, stop_loss, venue_position_id, entry_price, liquidation_price, quantity,
	state, close_reason, realized_pnl, last_error, created_at, updated_at, opened_at, closed_at`

// Upsert сохраняет снимок позиции
func (r *PositionRepository) Upsert(ctx context.Context, pos *models.Position) error {
	return upsertPosition(ctx, r.db, pos)
}

func upsertPosition(ctx context.Context, ex execer, pos *models.Position) error {
	query := `
		INSERT INTO positions (` + positionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (id) DO UPDATE SET
			venue_position_id = excluded.venue_position_id,
			effective_leverage = excluded.effective_leverage,
			entry_price = excluded.entry_price,
			liquidation_price = excluded.liquidation_price,
			quantity = excluded.quantity,
			state = excluded.state,
			close_reason = excluded.close_reason,
			realized_pnl = excluded.realized_pnl,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at,
			opened_at = excluded.opened_at,
			closed_at = excluded.closed_at`

	c := pos.Candidate
	_, err := ex.ExecContext(ctx, query,
		pos.ID,
		pos.Venue,
		c.Instrument,
		c.Side,
		c.Size,
		c.Leverage,
		pos.EffectiveLeverage,
		c.TakeProfitPct,
		c.StopLossPct,
		pos.VenuePositionID,
		pos.EntryPrice,
		pos.LiquidationPrice,
		pos.Quantity,
		string(pos.State),
		string(pos.CloseReason),
		nullDecimal(pos.RealizedPnl),
		pos.LastError,
		pos.CreatedAt,
		pos.UpdatedAt,
		nullTime(pos.OpenedAt),
		nullTime(pos.ClosedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert position %s: %w", pos.ID, err)
	}
	return nil
}

// GetByID возвращает позицию по идентификатору
func (r *PositionRepository) GetByID(ctx context.Context, id string) (*models.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE id = $1`

	pos, err := scanPosition(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPositionNotFound
		}
		return nil, err
	}
	return pos, nil
}

// ListActive возвращает позиции, требующие восстановления после перезапуска
//
// OPENING и PROPOSED тоже возвращаются: исход их открытия неизвестен.
func (r *PositionRepository) ListActive(ctx context.Context) ([]models.Position, error) {
	query := `SELECT ` + positionColumns + `
		FROM positions
		WHERE state IN ('PROPOSED', 'OPENING', 'OPEN', 'CLOSING')
		ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active positions: %w", err)
	}
	defer rows.Close()

	var positions []models.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *pos)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return positions, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(row scanner) (*models.Position, error) {
	var (
		pos       models.Position
		state     string
		reason    string
		pnl       decimal.NullDecimal
		opened    sql.NullTime
		closedAt  sql.NullTime
		requested float64
	)
	err := row.Scan(
		&pos.ID,
		&pos.Venue,
		&pos.Candidate.Instrument,
		&pos.Candidate.Side,
		&pos.Candidate.Size,
		&requested,
		&pos.EffectiveLeverage,
		&pos.Candidate.TakeProfitPct,
		&pos.Candidate.StopLossPct,
		&pos.VenuePositionID,
		&pos.EntryPrice,
		&pos.LiquidationPrice,
		&pos.Quantity,
		&state,
		&reason,
		&pnl,
		&pos.LastError,
		&pos.CreatedAt,
		&pos.UpdatedAt,
		&opened,
		&closedAt,
	)
	if err != nil {
		return nil, err
	}

	pos.Candidate.Venue = pos.Venue
	pos.Candidate.Leverage = requested
	pos.State = models.PositionState(state)
	pos.CloseReason = models.CloseReason(reason)
	if pnl.Valid {
		v := pnl.Decimal
		pos.RealizedPnl = &v
	}
	if opened.Valid {
		t := opened.Time
		pos.OpenedAt = &t
	}
	if closedAt.Valid {
		t := closedAt.Time
		pos.ClosedAt = &t
	}
	// терминальный снимок в хранилище уже подтверждён
	pos.Confirmed = pos.State.IsTerminal()
	return &pos, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
