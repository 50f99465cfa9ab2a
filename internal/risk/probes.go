package risk

import (
	"context"
	"fmt"

	"leverage/internal/models"
)

// feedProbe - проба, которая читает одно значение из ленты
type feedProbe struct {
	name     string
	category models.SignalCategory
	feed     Feed
	pick     func(*Report) (Reading, bool)
}

func (p *feedProbe) Name() string                    { return p.name }
func (p *feedProbe) Category() models.SignalCategory { return p.category }

func (p *feedProbe) Score(ctx context.Context, t Target) (Reading, error) {
	rep, err := report(ctx, p.feed, t)
	if err != nil {
		return Reading{}, err
	}
	r, ok := p.pick(rep)
	if !ok {
		return Reading{}, fmt.Errorf("%w: feed has no %s for %s", ErrProbeUnavailable, p.category, t.Subject())
	}
	r.Value = clamp(r.Value)
	return r, nil
}

// NewValuationProbe - степень переоценённости 0..100
func NewValuationProbe(feed Feed) Probe {
	return &feedProbe{
		name:     "valuation",
		category: models.SignalOvervaluation,
		feed:     feed,
		pick: func(r *Report) (Reading, bool) {
			if r.Overvaluation == nil {
				return Reading{}, false
			}
			return Reading{Value: *r.Overvaluation}, true
		},
	}
}

// NewSentimentProbe - настроение рынка 0..100, выше - лучше
func NewSentimentProbe(feed Feed) Probe {
	return &feedProbe{
		name:     "sentiment",
		category: models.SignalSentiment,
		feed:     feed,
		pick: func(r *Report) (Reading, bool) {
			if r.Sentiment == nil {
				return Reading{}, false
			}
			return Reading{Value: *r.Sentiment}, true
		},
	}
}

// NewLiquidityProbe - достаточность ликвидности
//
// 100 соответствует ликвидности в 10 раз выше минимума.
func NewLiquidityProbe(feed Feed, minUSD float64) Probe {
	if minUSD <= 0 {
		minUSD = 1000
	}
	return &feedProbe{
		name:     "liquidity",
		category: models.SignalLiquidity,
		feed:     feed,
		pick: func(r *Report) (Reading, bool) {
			if r.LiquidityUSD == nil {
				return Reading{}, false
			}
			liq := *r.LiquidityUSD
			out := Reading{Value: liq / (minUSD * 10) * 100}
			if liq < minUSD {
				out.Reasons = append(out.Reasons, fmt.Sprintf("Low liquidity ($%.2f)", liq))
			}
			return out, true
		},
	}
}

// NewHolderProbe - концентрация у крупнейших держателей, % предложения
func NewHolderProbe(feed Feed, minHolders int) Probe {
	if minHolders <= 0 {
		minHolders = 10
	}
	return &feedProbe{
		name:     "holders",
		category: models.SignalHolderConcentration,
		feed:     feed,
		pick: func(r *Report) (Reading, bool) {
			if r.TopHolderPct == nil && r.Holders == nil {
				return Reading{}, false
			}
			var out Reading
			if r.TopHolderPct != nil {
				out.Value = *r.TopHolderPct
			} else {
				// без распределения считаем концентрацию полной при нехватке держателей
				if *r.Holders < minHolders {
					out.Value = 100
				}
			}
			if r.Holders != nil && *r.Holders < minHolders {
				out.Reasons = append(out.Reasons, fmt.Sprintf("Only %d holders found", *r.Holders))
			}
			return out, true
		},
	}
}
