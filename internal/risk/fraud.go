package risk

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"leverage/internal/models"
	"leverage/pkg/utils"
)

// Веса признаков мошенничества
const (
	weightNoCode    = 50
	weightHoneypot  = 100
	weightPumpDump  = 40
	weightFlashLoan = 20

	flashWindowBlocks = 100
)

// CodeReader - доступ к коду контракта в EVM сети (ethclient.Client)
type CodeReader interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// FraudConfig - пороги детектора
type FraudConfig struct {
	PumpThresholdPct      float64 // рост цены между сделками, % (50)
	FlashVolumeMultiplier float64 // превышение среднего объёма блока (10)
}

// FraudProbe - вероятность rug-pull/скама, сумма весов красных флагов до 100
type FraudProbe struct {
	cfg   FraudConfig
	feed  Feed
	codes map[string]CodeReader // сеть -> RPC
}

// NewFraudProbe создаёт детектор
func NewFraudProbe(cfg FraudConfig, feed Feed, codes map[string]CodeReader) *FraudProbe {
	if cfg.PumpThresholdPct <= 0 {
		cfg.PumpThresholdPct = 50
	}
	if cfg.FlashVolumeMultiplier <= 0 {
		cfg.FlashVolumeMultiplier = 10
	}
	return &FraudProbe{cfg: cfg, feed: feed, codes: codes}
}

func (p *FraudProbe) Name() string                    { return "fraud" }
func (p *FraudProbe) Category() models.SignalCategory { return models.SignalFraud }

// Score складывает веса найденных флагов
//
// Проверка кода выполняется только для EVM адреса с настроенным RPC.
// Если не удалось получить ни код, ни данные ленты - сигнал неизвестен.
func (p *FraudProbe) Score(ctx context.Context, t Target) (Reading, error) {
	var (
		r       Reading
		sources int
	)

	if reader, ok := p.codes[t.Chain]; ok && utils.IsEVMAddress(t.Address) {
		code, err := reader.CodeAt(ctx, common.HexToAddress(t.Address), nil)
		if err == nil {
			sources++
			if len(code) == 0 {
				r.Value += weightNoCode
				r.Reasons = append(r.Reasons, "No verified contract code found")
			}
		}
	}

	rep, err := report(ctx, p.feed, t)
	if err == nil && rep != nil {
		sources++
		if rep.Sellable != nil && !*rep.Sellable {
			r.Value += weightHoneypot
			r.Reasons = append(r.Reasons, "Cannot sell token (possible honeypot)")
		}
		if DetectPumpAndDump(rep.Trades, p.cfg.PumpThresholdPct) {
			r.Value += weightPumpDump
			r.Reasons = append(r.Reasons, "Pump and dump pattern detected")
		}
		if DetectFlashLoan(rep.Trades, p.cfg.FlashVolumeMultiplier) {
			r.Value += weightFlashLoan
			r.Reasons = append(r.Reasons, "Flash loan volume spike detected")
		}
	}

	if sources == 0 {
		return Reading{}, fmt.Errorf("%w: no contract or trade data for %s", ErrProbeUnavailable, t.Subject())
	}
	r.Value = clamp(r.Value)
	return r, nil
}

// DetectPumpAndDump - резкий рост цены, на котором продаётся больше чем вдвое против предыдущей сделки
func DetectPumpAndDump(trades []Trade, thresholdPct float64) bool {
	for i := 0; i+1 < len(trades); i++ {
		prev, next := trades[i], trades[i+1]
		if prev.Price <= 0 {
			continue
		}
		change := (next.Price - prev.Price) / prev.Price * 100
		if change > thresholdPct && next.Type == "SELL" && next.Value > prev.Value*2 {
			return true
		}
	}
	return false
}

// DetectFlashLoan - объём одного блока превышает средний объём блока в окне
//
// Окно - последние flashWindowBlocks блоков, среднее считается по блокам со сделками.
func DetectFlashLoan(trades []Trade, multiplier float64) bool {
	if len(trades) == 0 {
		return false
	}

	var last uint64
	for _, t := range trades {
		if t.Block > last {
			last = t.Block
		}
	}

	perBlock := make(map[uint64]float64)
	var total float64
	for _, t := range trades {
		if last >= flashWindowBlocks && t.Block <= last-flashWindowBlocks {
			continue
		}
		perBlock[t.Block] += t.Value
		total += t.Value
	}
	if len(perBlock) < 2 {
		return false
	}

	avg := total / float64(len(perBlock))
	for _, v := range perBlock {
		if v > avg*multiplier {
			return true
		}
	}
	return false
}
