package service

import (
	"context"
	"time"

	"leverage/internal/models"
)

// NotificationRepositoryInterface определяет интерфейс репозитория уведомлений
type NotificationRepositoryInterface interface {
	Create(ctx context.Context, n *models.Notification) error
	GetRecent(ctx context.Context, limit int, types ...string) ([]*models.Notification, error)
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// TransitionRepositoryInterface определяет интерфейс журнала переходов
type TransitionRepositoryInterface interface {
	Record(ctx context.Context, rec models.TransitionRecord, pos models.Position) error
	ListByPosition(ctx context.Context, positionID string) ([]models.TransitionRecord, error)
}

// PositionRepositoryInterface определяет интерфейс репозитория позиций
type PositionRepositoryInterface interface {
	GetByID(ctx context.Context, id string) (*models.Position, error)
	ListActive(ctx context.Context) ([]models.Position, error)
}

// WebSocketBroadcaster - интерфейс для отправки WebSocket сообщений
//
// Позволяет избежать циклических зависимостей между пакетами
// и упрощает тестирование (можно подставить mock)
type WebSocketBroadcaster interface {
	BroadcastNotification(n *models.Notification)
}

// Sink - внешний канал доставки уведомлений (Telegram)
type Sink interface {
	Name() string
	Send(ctx context.Context, n *models.Notification) error
}
