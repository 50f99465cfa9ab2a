package service

import (
	"context"
	"strings"
	"time"

	"leverage/internal/models"
	"leverage/pkg/utils"
)

// validTypes - известные типы уведомлений
var validTypes = map[string]bool{
	models.NotificationTypeRejected:    true,
	models.NotificationTypeOpenFailed:  true,
	models.NotificationTypeOpen:        true,
	models.NotificationTypeClose:       true,
	models.NotificationTypeLiquidation: true,
	models.NotificationTypeCloseRetry:  true,
	models.NotificationTypeReconcile:   true,
}

// NotificationService доставляет уведомления оператору
//
// Каждое уведомление сохраняется в БД, рассылается WebSocket клиентам
// и передаётся во внешние каналы (Telegram). Каналы независимы:
// ошибка одного логируется и не мешает остальным.
type NotificationService struct {
	repo  NotificationRepositoryInterface
	wsHub WebSocketBroadcaster
	sinks []Sink
	log   *utils.Logger
}

// NewNotificationService создает новый экземпляр NotificationService.
func NewNotificationService(repo NotificationRepositoryInterface, log *utils.Logger) *NotificationService {
	if log == nil {
		log = utils.NewNopLogger()
	}
	return &NotificationService{repo: repo, log: log.WithComponent("notifications")}
}

// SetWebSocketHub устанавливает WebSocket hub для broadcast уведомлений.
func (s *NotificationService) SetWebSocketHub(hub WebSocketBroadcaster) {
	s.wsHub = hub
}

// AddSink подключает внешний канал доставки
func (s *NotificationService) AddSink(sink Sink) {
	s.sinks = append(s.sinks, sink)
}

// Notify сохраняет и рассылает уведомление
func (s *NotificationService) Notify(ctx context.Context, n *models.Notification) {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	if s.repo != nil {
		if err := s.repo.Create(ctx, n); err != nil {
			s.log.Error("failed to persist notification", utils.String("type", n.Type), utils.Err(err))
		}
	}

	if s.wsHub != nil {
		s.wsHub.BroadcastNotification(n)
	}

	for _, sink := range s.sinks {
		if err := sink.Send(ctx, n); err != nil {
			s.log.Warn("notification sink failed", utils.String("sink", sink.Name()), utils.String("type", n.Type), utils.Err(err))
		}
	}
}

// GetNotifications возвращает список уведомлений с фильтрацией.
//
// types - типы для фильтрации, неизвестные отбрасываются; пустой список - все типы.
// limit по умолчанию 100, не больше 500. Новые сверху.
func (s *NotificationService) GetNotifications(ctx context.Context, types []string, limit int) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}

	normalized := make([]string, 0, len(types))
	for _, t := range types {
		t = strings.ToUpper(strings.TrimSpace(t))
		if validTypes[t] {
			normalized = append(normalized, t)
		}
	}

	return s.repo.GetRecent(ctx, limit, normalized...)
}

// CleanupOlderThan удаляет уведомления старше maxAge
func (s *NotificationService) CleanupOlderThan(ctx context.Context, maxAge time.Duration) (int64, error) {
	return s.repo.DeleteOlderThan(ctx, time.Now().Add(-maxAge))
}

// RunRetention периодически чистит журнал уведомлений до отмены ctx
func (s *NotificationService) RunRetention(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 || maxAge <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.CleanupOlderThan(ctx, maxAge)
			if err != nil {
				s.log.Warn("notification cleanup failed", utils.Err(err))
				continue
			}
			if n > 0 {
				s.log.Info("old notifications removed", utils.Int64("count", n))
			}
		}
	}
}
