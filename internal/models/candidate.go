package models

import "github.com/shopspring/decimal"

// Candidate - предложенная сделка, ожидающая проверки риск-гейтом
//
// После подачи кандидат не изменяется: позиция хранит его копию.
type Candidate struct {
	Instrument    string          `json:"instrument"`             // символ площадки или адрес токена
	Venue         string          `json:"venue"`                  // идентификатор площадки из конфигурации
	Side          string          `json:"side"`                   // long, short
	Size          decimal.Decimal `json:"size"`                   // номинал в валюте котировки
	Leverage      float64         `json:"leverage"`               // запрошенное плечо
	StopLossPct   float64         `json:"stop_loss_pct"`          // % от номинала
	TakeProfitPct float64         `json:"take_profit_pct"`        // % от номинала
	Contract      *ContractRef    `json:"contract,omitempty"`     // контракт токена для on-chain проверок
	CrossVenues   []string        `json:"cross_venues,omitempty"` // дополнительные площадки для анализа
}

// ContractRef - адрес токена в конкретной сети
type ContractRef struct {
	Chain   string `json:"chain"`
	Address string `json:"address"`
}

// Стороны позиции
const (
	SideLong  = "long"
	SideShort = "short"
)

// IsLong - позиция на повышение
func (c Candidate) IsLong() bool {
	return c.Side != SideShort
}
