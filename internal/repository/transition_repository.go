package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"leverage/internal/models"
)

// TransitionRepository - журнал переходов state machine (таблица position_transitions)
type TransitionRepository struct {
	db *sql.DB
}

// NewTransitionRepository создает новый экземпляр репозитория
func NewTransitionRepository(db *sql.DB) *TransitionRepository {
	return &TransitionRepository{db: db}
}

// Record записывает переход и снимок позиции в одной транзакции
func (r *TransitionRepository) Record(ctx context.Context, rec models.TransitionRecord, pos models.Position) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = upsertPosition(ctx, tx, &pos); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO position_transitions (position_id, from_state, to_state, reason, realized_pnl, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.PositionID,
		string(rec.From),
		string(rec.To),
		rec.Reason,
		nullDecimal(rec.RealizedPnl),
		rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transition: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transition: %w", err)
	}
	return nil
}

// ListByPosition возвращает историю переходов позиции по порядку
func (r *TransitionRepository) ListByPosition(ctx context.Context, positionID string) ([]models.TransitionRecord, error) {
	query := `
		SELECT position_id, from_state, to_state, reason, realized_pnl, created_at
		FROM position_transitions
		WHERE position_id = $1
		ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query, positionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	defer rows.Close()

	records := []models.TransitionRecord{}
	for rows.Next() {
		var (
			rec      models.TransitionRecord
			from, to string
			pnl      decimal.NullDecimal
		)
		if err := rows.Scan(&rec.PositionID, &from, &to, &rec.Reason, &pnl, &rec.Timestamp); err != nil {
			return nil, err
		}
		rec.From = models.PositionState(from)
		rec.To = models.PositionState(to)
		if pnl.Valid {
			v := pnl.Decimal
			rec.RealizedPnl = &v
		}
		records = append(records, rec)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}
