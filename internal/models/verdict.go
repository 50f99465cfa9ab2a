package models

import "time"

// SignalCategory - категория сигнала риск-анализа
type SignalCategory string

const (
	SignalFraud               SignalCategory = "fraud"
	SignalOvervaluation       SignalCategory = "overvaluation"
	SignalSentiment           SignalCategory = "sentiment"
	SignalLiquidity           SignalCategory = "liquidity"
	SignalHolderConcentration SignalCategory = "holder_concentration"
)

// RiskVerdict - результат анализа одного инструмента на одной площадке
//
// Scores: nil означает "unknown" (проба не ответила).
// Recommended вычисляется гейтом из Scores и отдельно не выставляется.
type RiskVerdict struct {
	Instrument  string                      `json:"instrument"`
	Venue       string                      `json:"venue"`
	Chain       string                      `json:"chain,omitempty"`
	Scores      map[SignalCategory]*float64 `json:"scores"`
	RiskLevel   float64                     `json:"risk_level"`
	Recommended bool                        `json:"recommended"`
	Reasons     []string                    `json:"reasons"`
	AnalyzedAt  time.Time                   `json:"analyzed_at"`
}

// Score возвращает значение сигнала и признак известности
func (v RiskVerdict) Score(c SignalCategory) (float64, bool) {
	s, ok := v.Scores[c]
	if !ok || s == nil {
		return 0, false
	}
	return *s, true
}

// AggregateVerdict - сводный результат по нескольким площадкам
type AggregateVerdict struct {
	Verdicts    []RiskVerdict     `json:"verdicts"`
	Failures    map[string]string `json:"failures,omitempty"` // площадка -> ошибка анализа
	Score       float64           `json:"score"`              // средний risk level завершённых анализов
	Recommended bool              `json:"recommended"`
	Reasons     []string          `json:"reasons"`
}
