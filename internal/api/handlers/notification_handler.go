package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"leverage/internal/models"
)

// NotificationReader - чтение журнала уведомлений
type NotificationReader interface {
	GetNotifications(ctx context.Context, types []string, limit int) ([]*models.Notification, error)
}

// NotificationHandler отвечает за журнал уведомлений
//
// Endpoints:
// - GET /api/v1/notifications
// - GET /api/v1/notifications?types=liquidation,close_retry - с фильтрацией по типам
// - GET /api/v1/notifications?limit=50 - с ограничением количества
type NotificationHandler struct {
	notifications NotificationReader
}

// NewNotificationHandler создает новый NotificationHandler с внедрением зависимости
func NewNotificationHandler(notifications NotificationReader) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

// GetNotificationsResponse представляет ответ списка уведомлений
type GetNotificationsResponse struct {
	Notifications []NotificationDTO `json:"notifications"`
	Total         int               `json:"total"`
}

// NotificationDTO представляет уведомление в API
type NotificationDTO struct {
	ID         int                    `json:"id"`
	Timestamp  string                 `json:"timestamp"`
	Type       string                 `json:"type"`
	Severity   string                 `json:"severity"`
	PositionID *string                `json:"position_id,omitempty"`
	Message    string                 `json:"message"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
}

// GetNotifications возвращает список уведомлений с фильтрацией
//
// GET /api/v1/notifications
//
// Query параметры:
// - types (string): типы через запятую (rejected,open_failed,open,close,liquidation,close_retry,reconcile)
// - limit (int): количество записей (по умолчанию 100, максимум 500)
//
// HTTP коды:
// - 200 OK
// - 400 Bad Request: limit не число
// - 500 Internal Server Error
func (h *NotificationHandler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var types []string
	if typesParam := q.Get("types"); typesParam != "" {
		for _, part := range strings.Split(typesParam, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				types = append(types, strings.ToUpper(trimmed))
			}
		}
	}

	limit := 0 // нормализует сервис
	if limitParam := q.Get("limit"); limitParam != "" {
		parsed, err := strconv.Atoi(limitParam)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer")
			return
		}
		limit = parsed
	}

	notifications, err := h.notifications.GetNotifications(r.Context(), types, limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "internal", "failed to get notifications: "+err.Error())
		return
	}

	dtos := make([]NotificationDTO, 0, len(notifications))
	for _, n := range notifications {
		dtos = append(dtos, NotificationDTO{
			ID:         n.ID,
			Timestamp:  n.Timestamp.Format(time.RFC3339),
			Type:       n.Type,
			Severity:   n.Severity,
			PositionID: n.PositionID,
			Message:    n.Message,
			Meta:       n.Meta,
		})
	}

	respondWithJSON(w, http.StatusOK, GetNotificationsResponse{Notifications: dtos, Total: len(dtos)})
}
