package venue

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"leverage/pkg/utils"
)

// PriceSource - источник цены маркировки
type PriceSource interface {
	Price(ctx context.Context, instrument string) (float64, error)
}

// PriceFunc - адаптер функции к PriceSource
type PriceFunc func(ctx context.Context, instrument string) (float64, error)

func (f PriceFunc) Price(ctx context.Context, instrument string) (float64, error) {
	return f(ctx, instrument)
}

// Paper - симулятор площадки: сделки исполняются по цене источника без отправки ордеров
//
// Ликвидация моделируется: если цена пересекла цену ликвидации, позиция
// исчезает и Status/Close возвращают ErrPositionNotFound.
type Paper struct {
	id          string
	kind        Kind
	prices      PriceSource
	mmr         float64 // maintenance margin rate
	maxLeverage float64
	book        *book
	seq         uint64
}

// NewPaper создаёт симулятор
func NewPaper(id string, kind Kind, prices PriceSource) *Paper {
	return &Paper{
		id:          id,
		kind:        kind,
		prices:      prices,
		mmr:         0.005,
		maxLeverage: 125,
		book:        newBook(),
	}
}

func (p *Paper) ID() string { return p.id }
func (p *Paper) Kind() Kind { return p.kind }

func (p *Paper) Open(ctx context.Context, req OpenRequest) (*OpenResult, error) {
	if req.Size.Sign() <= 0 {
		return nil, newError(p.id, "open", ErrRejected, "", "size must be positive", nil)
	}
	if req.Leverage < 1 || req.Leverage > p.maxLeverage {
		return nil, newError(p.id, "open", ErrRejected, "", fmt.Sprintf("leverage %g not allowed", req.Leverage), nil)
	}

	price, err := p.prices.Price(ctx, req.Instrument)
	if err != nil {
		return nil, Normalize(p.id, "open", err)
	}
	if price <= 0 {
		return nil, newError(p.id, "open", ErrRejected, "", "no price for "+req.Instrument, nil)
	}

	qty := req.Size.Div(decimal.NewFromFloat(price))
	liq := utils.LiquidationPrice(price, req.Leverage, p.mmr, req.IsLong())

	id := fmt.Sprintf("paper-%s-%d", p.id, atomic.AddUint64(&p.seq, 1))
	p.book.put(Tracked{
		PositionID:       id,
		Instrument:       req.Instrument,
		Side:             req.Side,
		Quantity:         qty,
		Notional:         req.Size,
		EntryPrice:       price,
		Leverage:         req.Leverage,
		LiquidationPrice: liq,
		TakeProfitPct:    req.TakeProfitPct,
		StopLossPct:      req.StopLossPct,
	})

	return &OpenResult{
		PositionID:       id,
		EntryPrice:       price,
		Leverage:         req.Leverage,
		LiquidationPrice: liq,
		Quantity:         qty,
	}, nil
}

func (p *Paper) Status(ctx context.Context, positionID string) (*Status, error) {
	t, ok := p.book.get(positionID)
	if !ok {
		return nil, newError(p.id, "status", ErrPositionNotFound, "", positionID, nil)
	}

	mark, err := p.prices.Price(ctx, t.Instrument)
	if err != nil {
		return nil, Normalize(p.id, "status", err)
	}

	if liquidated(t, mark) {
		p.book.remove(positionID)
		return nil, newError(p.id, "status", ErrPositionNotFound, "", "position liquidated", nil)
	}

	return &Status{
		UnrealizedPnlPct: utils.PnlPercent(t.EntryPrice, mark, t.IsLong()),
		MarginRatio:      utils.MarginRatio(t.EntryPrice, mark, t.LiquidationPrice, t.IsLong()),
		TakeProfitPct:    t.TakeProfitPct,
		StopLossPct:      t.StopLossPct,
		MarkPrice:        mark,
	}, nil
}

func (p *Paper) Close(ctx context.Context, positionID string) (*CloseResult, error) {
	t, ok := p.book.get(positionID)
	if !ok {
		return nil, newError(p.id, "close", ErrPositionNotFound, "", positionID, nil)
	}

	mark, err := p.prices.Price(ctx, t.Instrument)
	if err != nil {
		return nil, Normalize(p.id, "close", err)
	}
	p.book.remove(positionID)

	return &CloseResult{
		RealizedPnl: utils.RealizedPnl(decimal.NewFromFloat(t.EntryPrice), decimal.NewFromFloat(mark), t.Quantity, t.IsLong()),
		ExitPrice:   mark,
	}, nil
}

// Restore возвращает позицию в книгу после перезапуска
func (p *Paper) Restore(t Tracked) error {
	if t.PositionID == "" {
		return fmt.Errorf("paper restore: empty position id")
	}
	p.book.put(t)
	return nil
}

func liquidated(t Tracked, mark float64) bool {
	if t.LiquidationPrice <= 0 {
		return false
	}
	if t.IsLong() {
		return mark <= t.LiquidationPrice
	}
	return mark >= t.LiquidationPrice
}
