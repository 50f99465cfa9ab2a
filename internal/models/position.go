package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionState - состояние позиции в state machine
type PositionState string

// Состояния позиции
const (
	StateProposed PositionState = "PROPOSED" // кандидат проходит риск-гейт
	StateRejected PositionState = "REJECTED" // отклонён гейтом (терминальное)
	StateOpening  PositionState = "OPENING"  // открытие на площадке
	StateOpen     PositionState = "OPEN"     // позиция открыта, работает монитор
	StateFailed   PositionState = "FAILED"   // площадка не открыла позицию (терминальное)
	StateClosing  PositionState = "CLOSING"  // закрытие на площадке
	StateClosed   PositionState = "CLOSED"   // закрыта (терминальное)
)

// IsTerminal - из состояния нет переходов
func (s PositionState) IsTerminal() bool {
	return s == StateRejected || s == StateFailed || s == StateClosed
}

// CloseReason - причина закрытия позиции
type CloseReason string

const (
	CloseTakeProfit  CloseReason = "TakeProfit"
	CloseStopLoss    CloseReason = "StopLoss"
	CloseLiquidation CloseReason = "Liquidation"
	CloseManual      CloseReason = "Manual"
)

// Position - позиция и её жизненный цикл
//
// Владелец - менеджер жизненного цикла; остальные компоненты получают копии.
type Position struct {
	ID                string           `json:"id"`
	Candidate         Candidate        `json:"candidate"`
	Venue             string           `json:"venue"`
	VenuePositionID   string           `json:"venue_position_id,omitempty"`
	EffectiveLeverage float64          `json:"effective_leverage"`
	EntryPrice        float64          `json:"entry_price"`
	LiquidationPrice  float64          `json:"liquidation_price"`
	Quantity          decimal.Decimal  `json:"quantity"` // количество на площадке, нужно для восстановления
	State             PositionState    `json:"state"`
	CloseReason       CloseReason      `json:"close_reason,omitempty"`
	RealizedPnl       *decimal.Decimal `json:"realized_pnl,omitempty"`
	Reasons           []string         `json:"reasons,omitempty"`    // причины отказа гейта
	LastError         string           `json:"last_error,omitempty"` // последняя ошибка площадки
	Confirmed         bool             `json:"confirmed"`            // терминальный переход подтверждён хранилищем
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
	OpenedAt          *time.Time       `json:"opened_at,omitempty"`
	ClosedAt          *time.Time       `json:"closed_at,omitempty"`
}

// TransitionRecord - запись аудита о переходе состояния
type TransitionRecord struct {
	PositionID  string           `json:"position_id"`
	From        PositionState    `json:"from_state"`
	To          PositionState    `json:"to_state"`
	Timestamp   time.Time        `json:"timestamp"`
	Reason      string           `json:"reason,omitempty"`
	RealizedPnl *decimal.Decimal `json:"realized_pnl,omitempty"`
}

// Terminal - переход в терминальное состояние (требует подтверждения хранилища)
func (r TransitionRecord) Terminal() bool {
	return r.To.IsTerminal()
}
