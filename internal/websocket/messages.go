package websocket

import (
	"time"

	"github.com/shopspring/decimal"

	"leverage/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypePositionUpdate - переход позиции в новое состояние
	MessageTypePositionUpdate MessageType = "positionUpdate"

	// MessageTypeNotification - новое уведомление
	// Отправляется при событиях: открытие, закрытие, ликвидация, отказ гейта, сверка
	MessageTypeNotification MessageType = "notification"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// PositionUpdateMessage - снимок позиции после перехода
type PositionUpdateMessage struct {
	BaseMessage
	PositionID string              `json:"position_id"`
	Data       *PositionUpdateData `json:"data"`
}

// PositionUpdateData - данные обновления позиции
type PositionUpdateData struct {
	State             models.PositionState `json:"state"`
	Venue             string               `json:"venue"`
	Instrument        string               `json:"instrument"`
	Side              string               `json:"side"`
	EffectiveLeverage float64              `json:"effective_leverage"`
	EntryPrice        float64              `json:"entry_price,omitempty"`
	LiquidationPrice  float64              `json:"liquidation_price,omitempty"`
	CloseReason       models.CloseReason   `json:"close_reason,omitempty"`
	RealizedPnl       *decimal.Decimal     `json:"realized_pnl,omitempty"`
	Reasons           []string             `json:"reasons,omitempty"`
	LastError         string               `json:"last_error,omitempty"`
	UpdatedAt         time.Time            `json:"updated_at"`
}

// NotificationMessage - сообщение с уведомлением
type NotificationMessage struct {
	BaseMessage
	Data *models.Notification `json:"data"`
}

// NewPositionUpdateMessage собирает сообщение из снимка позиции
func NewPositionUpdateMessage(pos models.Position) *PositionUpdateMessage {
	return &PositionUpdateMessage{
		BaseMessage: BaseMessage{Type: MessageTypePositionUpdate, Timestamp: time.Now()},
		PositionID:  pos.ID,
		Data: &PositionUpdateData{
			State:             pos.State,
			Venue:             pos.Venue,
			Instrument:        pos.Candidate.Instrument,
			Side:              pos.Candidate.Side,
			EffectiveLeverage: pos.EffectiveLeverage,
			EntryPrice:        pos.EntryPrice,
			LiquidationPrice:  pos.LiquidationPrice,
			CloseReason:       pos.CloseReason,
			RealizedPnl:       pos.RealizedPnl,
			Reasons:           pos.Reasons,
			LastError:         pos.LastError,
			UpdatedAt:         pos.UpdatedAt,
		},
	}
}

// NewNotificationMessage оборачивает уведомление
func NewNotificationMessage(n *models.Notification) *NotificationMessage {
	return &NotificationMessage{
		BaseMessage: BaseMessage{Type: MessageTypeNotification, Timestamp: time.Now()},
		Data:        n,
	}
}
