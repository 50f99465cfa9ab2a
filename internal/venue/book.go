package venue

import (
	"math"
	"sync"

	"github.com/shopspring/decimal"

	"leverage/pkg/utils"
)

// Tracked - позиция, которую адаптер ведёт локально
//
// Площадки не хранят пороги TP/SL в наших терминах, поэтому Status
// берёт их из книги. Номинал нужен для PnL в процентах.
type Tracked struct {
	PositionID       string
	Instrument       string
	Side             string
	Quantity         decimal.Decimal
	Notional         decimal.Decimal
	EntryPrice       float64
	Leverage         float64
	LiquidationPrice float64
	TakeProfitPct    float64
	StopLossPct      float64
}

// IsLong - направление позиции
func (t Tracked) IsLong() bool {
	return t.Side != "short"
}

// symbolPosition - позиция площадки по символу
//
// В one-way режиме площадка ведёт одну позицию на символ, и её PnL
// включает все наши позиции по этому символу.
type symbolPosition struct {
	size       float64
	avgPrice   float64
	markPrice  float64
	liqPrice   float64
	unrealised float64
}

// status - статус позиции t из позиции символа
//
// Нереализованный PnL делится пропорционально доле t в размере позиции символа.
func (p *symbolPosition) status(t Tracked) *Status {
	share := 1.0
	if size, qty := math.Abs(p.size), t.Quantity.InexactFloat64(); size > 0 && qty > 0 && qty < size {
		share = qty / size
	}

	pnlPct := utils.PnlPercent(t.EntryPrice, p.markPrice, t.IsLong())
	if notional := t.Notional.InexactFloat64(); notional > 0 {
		pnlPct = p.unrealised * share / notional * 100
	}

	liq := nonZero(p.liqPrice, t.LiquidationPrice)
	return &Status{
		UnrealizedPnlPct: pnlPct,
		MarginRatio:      utils.MarginRatio(nonZero(p.avgPrice, t.EntryPrice), p.markPrice, liq, t.IsLong()),
		TakeProfitPct:    t.TakeProfitPct,
		StopLossPct:      t.StopLossPct,
		MarkPrice:        p.markPrice,
	}
}

type book struct {
	mu        sync.RWMutex
	positions map[string]Tracked
}

func newBook() *book {
	return &book{positions: make(map[string]Tracked)}
}

func (b *book) put(t Tracked) {
	b.mu.Lock()
	b.positions[t.PositionID] = t
	b.mu.Unlock()
}

func (b *book) get(id string) (Tracked, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.positions[id]
	return t, ok
}

func (b *book) remove(id string) {
	b.mu.Lock()
	delete(b.positions, id)
	b.mu.Unlock()
}

func (b *book) len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.positions)
}
