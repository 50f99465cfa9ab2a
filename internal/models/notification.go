package models

import "time"

// Notification - событие для оператора
type Notification struct {
	ID         int                    `json:"id" db:"id"`
	Timestamp  time.Time              `json:"timestamp" db:"timestamp"`
	Type       string                 `json:"type" db:"type"`
	Severity   string                 `json:"severity" db:"severity"` // info, warn, error
	PositionID *string                `json:"position_id,omitempty" db:"position_id"`
	Message    string                 `json:"message" db:"message"`
	Meta       map[string]interface{} `json:"meta,omitempty" db:"meta"` // JSON в БД
}

// Типы уведомлений
const (
	NotificationTypeRejected    = "REJECTED"    // кандидат отклонён гейтом
	NotificationTypeOpenFailed  = "OPEN_FAILED" // площадка не открыла позицию
	NotificationTypeOpen        = "OPEN"        // позиция открыта
	NotificationTypeClose       = "CLOSE"       // позиция закрыта (meta.reason)
	NotificationTypeLiquidation = "LIQUIDATION" // экстренный сигнал ликвидации
	NotificationTypeCloseRetry  = "CLOSE_RETRY" // закрытие не удалось, позиция снова OPEN
	NotificationTypeReconcile   = "RECONCILE"   // позиция не найдена на площадке
)

// Уровни важности
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)
