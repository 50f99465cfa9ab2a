package risk

import (
	"fmt"

	"leverage/internal/models"
)

// ReasonInsufficientCoverage - ни один гейтовый сигнал не известен
const ReasonInsufficientCoverage = "insufficient signal coverage"

// Gate - дизъюнктивный гейт: любой сильный красный флаг запрещает сделку
//
// Значения ровно на пороге проходят: отказ только при fraud > FraudMax,
// overvaluation > OvervaluationMax, sentiment < SentimentMin.
type Gate struct {
	FraudMax         float64
	OvervaluationMax float64
	SentimentMin     float64
}

// DefaultGate - пороги 70 / 80 / 20
func DefaultGate() Gate {
	return Gate{FraudMax: 70, OvervaluationMax: 80, SentimentMin: 20}
}

// Decision - результат гейта
type Decision struct {
	Recommended bool
	RiskLevel   float64
	Reasons     []string
}

// Evaluate вычисляет рекомендацию из сигналов. Unknown (nil) не влияет на решение.
//
// RiskLevel = max(fraud, overvaluation, 100 - sentiment) по известным сигналам.
func (g Gate) Evaluate(scores map[models.SignalCategory]*float64) Decision {
	d := Decision{Recommended: true}
	known := 0

	if s := scores[models.SignalFraud]; s != nil {
		known++
		d.RiskLevel = max(d.RiskLevel, *s)
		if *s > g.FraudMax {
			d.Recommended = false
			d.Reasons = append(d.Reasons, fmt.Sprintf("fraud likelihood %.0f exceeds %.0f", *s, g.FraudMax))
		}
	}
	if s := scores[models.SignalOvervaluation]; s != nil {
		known++
		d.RiskLevel = max(d.RiskLevel, *s)
		if *s > g.OvervaluationMax {
			d.Recommended = false
			d.Reasons = append(d.Reasons, fmt.Sprintf("overvaluation %.0f exceeds %.0f", *s, g.OvervaluationMax))
		}
	}
	if s := scores[models.SignalSentiment]; s != nil {
		known++
		d.RiskLevel = max(d.RiskLevel, 100-*s)
		if *s < g.SentimentMin {
			d.Recommended = false
			d.Reasons = append(d.Reasons, fmt.Sprintf("sentiment %.0f below %.0f", *s, g.SentimentMin))
		}
	}

	if known == 0 {
		return Decision{Recommended: false, RiskLevel: 100, Reasons: []string{ReasonInsufficientCoverage}}
	}
	return d
}

// Validate проверяет пороги на границе конфигурации
func (g Gate) Validate() error {
	for name, v := range map[string]float64{
		"fraud": g.FraudMax, "overvaluation": g.OvervaluationMax, "sentiment": g.SentimentMin,
	} {
		if v < 0 || v > 100 {
			return fmt.Errorf("gate threshold %s=%g outside 0..100", name, v)
		}
	}
	return nil
}
