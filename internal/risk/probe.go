// Package risk - риск-анализ инструмента: независимые пробы, дизъюнктивный гейт, параллельная агрегация.
package risk

import (
	"context"
	"errors"
	"strings"

	"leverage/internal/models"
)

// ErrProbeUnavailable - проба не смогла получить данные, сигнал считается unknown
var ErrProbeUnavailable = errors.New("probe unavailable")

// Target - что анализируем: инструмент на площадке и, если известен, контракт токена
type Target struct {
	Instrument string `json:"instrument"`
	Venue      string `json:"venue"`
	Chain      string `json:"chain,omitempty"`
	Address    string `json:"address,omitempty"`
}

// Key - ключ цели в сводном результате
func (t Target) Key() string {
	if t.Chain == "" {
		return t.Venue
	}
	return t.Venue + "/" + t.Chain
}

// Subject - идентификатор для внешних источников: адрес контракта или символ
func (t Target) Subject() string {
	if t.Address != "" {
		return t.Address
	}
	return strings.ToUpper(t.Instrument)
}

// Reading - ответ пробы: значение 0..100 и пояснения
type Reading struct {
	Value   float64
	Reasons []string
}

// Probe - независимый источник одного сигнала
type Probe interface {
	Name() string
	Category() models.SignalCategory
	Score(ctx context.Context, t Target) (Reading, error)
}

// Observer получает результат каждой пробы (метрики)
type Observer interface {
	ObserveProbe(probe string, err error)
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
