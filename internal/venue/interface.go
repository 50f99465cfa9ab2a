// Package venue - контракт площадки исполнения и его реализации.
package venue

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Connector - площадка, на которой открываются и закрываются позиции
//
// Все методы принимают context и должны уважать его дедлайн.
// Ошибки классифицируются через ErrRejected, ErrUnavailable, ErrPositionNotFound.
type Connector interface {
	ID() string
	Kind() Kind

	// Open открывает позицию по рынку с заданным плечом
	Open(ctx context.Context, req OpenRequest) (*OpenResult, error)

	// Status - текущее состояние позиции
	Status(ctx context.Context, positionID string) (*Status, error)

	// Close закрывает позицию по рынку (reduce-only)
	Close(ctx context.Context, positionID string) (*CloseResult, error)
}

// Restorer - площадка умеет принять позицию, открытую до перезапуска процесса
type Restorer interface {
	Restore(p Tracked) error
}

// Kind - вариант площадки, определяется при загрузке конфигурации
type Kind int

const (
	KindSpotMargin Kind = iota + 1
	KindPerpetual
	KindDerivatives
)

func (k Kind) String() string {
	switch k {
	case KindSpotMargin:
		return "spot-margin"
	case KindPerpetual:
		return "perpetual"
	case KindDerivatives:
		return "derivatives"
	default:
		return "unknown"
	}
}

// ParseKind разбирает вариант площадки из конфигурации
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "spot-margin", "spot_margin", "margin":
		return KindSpotMargin, nil
	case "perpetual", "perp":
		return KindPerpetual, nil
	case "derivatives", "deriv":
		return KindDerivatives, nil
	default:
		return 0, fmt.Errorf("unknown venue kind %q", s)
	}
}

// OpenRequest - параметры открытия
type OpenRequest struct {
	Instrument    string
	Side          string          // long, short
	Size          decimal.Decimal // номинал
	Leverage      float64         // уже ограниченное потолком
	StopLossPct   float64
	TakeProfitPct float64
}

// IsLong - направление позиции
func (r OpenRequest) IsLong() bool {
	return r.Side != "short"
}

// OpenResult - ответ площадки на открытие
type OpenResult struct {
	PositionID       string          `json:"position_id"`
	EntryPrice       float64         `json:"entry_price"`
	Leverage         float64         `json:"leverage"`
	LiquidationPrice float64         `json:"liquidation_price"`
	Quantity         decimal.Decimal `json:"quantity"`
}

// Status - снимок открытой позиции
type Status struct {
	UnrealizedPnlPct float64 `json:"unrealized_pnl_pct"`
	MarginRatio      float64 `json:"margin_ratio"`
	TakeProfitPct    float64 `json:"take_profit_pct"`
	StopLossPct      float64 `json:"stop_loss_pct"`
	MarkPrice        float64 `json:"mark_price"`
}

// CloseResult - результат закрытия
type CloseResult struct {
	RealizedPnl decimal.Decimal `json:"realized_pnl"`
	ExitPrice   float64         `json:"exit_price"`
}
