package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"leverage/internal/models"
)

// NotificationRepository - работа с таблицей notifications
type NotificationRepository struct {
	db *sql.DB
}

// NewNotificationRepository создает новый экземпляр репозитория
func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create сохраняет уведомление и заполняет ID
func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	var meta []byte
	if len(n.Meta) > 0 {
		var err error
		meta, err = json.Marshal(n.Meta)
		if err != nil {
			return fmt.Errorf("failed to encode meta: %w", err)
		}
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	query := `
		INSERT INTO notifications (timestamp, type, severity, position_id, message, meta)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		n.Timestamp,
		n.Type,
		n.Severity,
		n.PositionID,
		n.Message,
		meta,
	).Scan(&n.ID)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

// GetRecent возвращает последние limit уведомлений, новые первыми
//
// types фильтрует по типу, пустой список - все типы.
func (r *NotificationRepository) GetRecent(ctx context.Context, limit int, types ...string) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = 100
	}

	args := []interface{}{}
	where := ""
	if len(types) > 0 {
		ph := make([]string, len(types))
		for i, t := range types {
			args = append(args, t)
			ph[i] = fmt.Sprintf("$%d", i+1)
		}
		where = "WHERE type IN (" + strings.Join(ph, ", ") + ")"
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT id, timestamp, type, severity, position_id, message, meta
		FROM notifications
		%s
		ORDER BY timestamp DESC, id DESC
		LIMIT $%d`, where, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	notifications := []*models.Notification{}
	for rows.Next() {
		n := &models.Notification{}
		var (
			positionID sql.NullString
			meta       []byte
		)
		if err := rows.Scan(&n.ID, &n.Timestamp, &n.Type, &n.Severity, &positionID, &n.Message, &meta); err != nil {
			return nil, err
		}
		if positionID.Valid {
			id := positionID.String
			n.PositionID = &id
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &n.Meta); err != nil {
				return nil, fmt.Errorf("failed to decode meta of notification %d: %w", n.ID, err)
			}
		}
		notifications = append(notifications, n)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return notifications, nil
}

// DeleteOlderThan удаляет уведомления старше before, возвращает число удалённых
func (r *NotificationRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM notifications WHERE timestamp < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete notifications: %w", err)
	}
	return res.RowsAffected()
}
