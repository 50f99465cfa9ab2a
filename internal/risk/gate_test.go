package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"leverage/internal/models"
)

func f(v float64) *float64 { return &v }

func scores(fraud, overval, sentiment *float64) map[models.SignalCategory]*float64 {
	return map[models.SignalCategory]*float64{
		models.SignalFraud:         fraud,
		models.SignalOvervaluation: overval,
		models.SignalSentiment:     sentiment,
	}
}

func TestGate_Boundaries(t *testing.T) {
	g := DefaultGate()

	tests := []struct {
		name      string
		scores    map[models.SignalCategory]*float64
		want      bool
		wantLevel float64
	}{
		{"all exactly on threshold pass", scores(f(70), f(80), f(20)), true, 80},
		{"fraud just above", scores(f(70.01), f(0), f(100)), false, 70.01},
		{"overvaluation just above", scores(f(0), f(80.5), f(100)), false, 80.5},
		{"sentiment just below", scores(f(0), f(0), f(19.9)), false, 80.1},
		{"calm market", scores(f(10), f(20), f(90)), true, 20},
		{"unknown fraud ignored", scores(nil, f(10), f(50)), true, 50},
		{"single known red flag vetoes", scores(nil, nil, f(5)), false, 95},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := g.Evaluate(tt.scores)
			assert.Equal(t, tt.want, d.Recommended)
			assert.InDelta(t, tt.wantLevel, d.RiskLevel, 1e-9)
			assert.Equal(t, !tt.want, len(d.Reasons) > 0)
		})
	}
}

// Рекомендация ложна тогда и только тогда, когда нарушен хотя бы один порог
func TestGate_DisjunctionOverGrid(t *testing.T) {
	g := DefaultGate()
	values := []float64{0, 19, 20, 21, 50, 69, 70, 71, 79, 80, 81, 100}

	for _, fr := range values {
		for _, ov := range values {
			for _, se := range values {
				d := g.Evaluate(scores(f(fr), f(ov), f(se)))
				vetoed := fr > 70 || ov > 80 || se < 20
				if d.Recommended == vetoed {
					t.Fatalf("fraud=%g overval=%g sentiment=%g: recommended=%v", fr, ov, se, d.Recommended)
				}
			}
		}
	}
}

func TestGate_NoCoverage(t *testing.T) {
	d := DefaultGate().Evaluate(map[models.SignalCategory]*float64{
		models.SignalLiquidity: f(90),
		models.SignalFraud:     nil,
	})
	assert.False(t, d.Recommended)
	assert.Equal(t, 100.0, d.RiskLevel)
	assert.Equal(t, []string{ReasonInsufficientCoverage}, d.Reasons)
}

func TestGate_Validate(t *testing.T) {
	assert.NoError(t, DefaultGate().Validate())
	assert.Error(t, Gate{FraudMax: 120, OvervaluationMax: 80, SentimentMin: 20}.Validate())
	assert.Error(t, Gate{FraudMax: 70, OvervaluationMax: 80, SentimentMin: -1}.Validate())
}
