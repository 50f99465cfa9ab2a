package risk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"leverage/internal/models"
	"leverage/pkg/utils"
)

// ErrNoSignals - ни одна проба не ответила, анализ не состоялся
var ErrNoSignals = errors.New("no probe produced a signal")

// Analyzer - оценка риска одного инструмента на одной площадке
type Analyzer struct {
	probes   []Probe
	gate     Gate
	timeout  time.Duration
	log      *utils.Logger
	observer Observer
	now      func() time.Time
}

// AnalyzerConfig - параметры анализатора
type AnalyzerConfig struct {
	Gate         Gate
	ProbeTimeout time.Duration
	Logger       *utils.Logger
	Observer     Observer
}

// NewAnalyzer создаёт анализатор над набором проб
func NewAnalyzer(probes []Probe, cfg AnalyzerConfig) *Analyzer {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = utils.NewNopLogger()
	}
	return &Analyzer{
		probes:   probes,
		gate:     cfg.Gate,
		timeout:  cfg.ProbeTimeout,
		log:      log.WithComponent("risk_analyzer"),
		observer: cfg.Observer,
		now:      time.Now,
	}
}

type probeResult struct {
	probe   Probe
	reading Reading
	err     error
}

// Analyze запускает все пробы параллельно и применяет гейт
//
// Ошибка одной пробы не влияет на остальные: сигнал становится unknown,
// а причина попадает в Reasons. Ошибка возвращается, только если не ответила ни одна проба.
func (a *Analyzer) Analyze(ctx context.Context, t Target) (models.RiskVerdict, error) {
	results := make([]probeResult, len(a.probes))

	var wg sync.WaitGroup
	for i, p := range a.probes {
		wg.Add(1)
		go func(i int, p Probe) {
			defer wg.Done()
			results[i] = a.run(ctx, p, t)
		}(i, p)
	}
	wg.Wait()

	verdict := models.RiskVerdict{
		Instrument: t.Instrument,
		Venue:      t.Venue,
		Chain:      t.Chain,
		Scores:     make(map[models.SignalCategory]*float64, len(a.probes)),
		AnalyzedAt: a.now(),
	}

	var probeReasons []string
	answered := 0
	for _, res := range results {
		cat := res.probe.Category()
		if res.err != nil {
			if _, seen := verdict.Scores[cat]; !seen {
				verdict.Scores[cat] = nil
			}
			probeReasons = append(probeReasons, fmt.Sprintf("%s probe unavailable: %v", res.probe.Name(), res.err))
			continue
		}
		answered++
		v := res.reading.Value
		verdict.Scores[cat] = &v
		probeReasons = append(probeReasons, res.reading.Reasons...)
	}

	if err := ctx.Err(); err != nil {
		return verdict, err
	}
	if answered == 0 && len(a.probes) > 0 {
		return verdict, fmt.Errorf("%s: %w", t.Key(), ErrNoSignals)
	}

	d := a.gate.Evaluate(verdict.Scores)
	verdict.Recommended = d.Recommended
	verdict.RiskLevel = d.RiskLevel
	verdict.Reasons = append(d.Reasons, probeReasons...)

	a.log.Debug("instrument analyzed",
		utils.Instrument(t.Instrument),
		utils.Venue(t.Venue),
		utils.Float64("risk_level", verdict.RiskLevel),
		utils.Bool("recommended", verdict.Recommended),
	)
	return verdict, nil
}

func (a *Analyzer) run(ctx context.Context, p Probe, t Target) (res probeResult) {
	res.probe = p

	defer func() {
		if r := recover(); r != nil {
			res.err = fmt.Errorf("%w: probe panic: %v", ErrProbeUnavailable, r)
		}
		if res.err != nil {
			a.log.Warn("probe failed", utils.String("probe", p.Name()), utils.Instrument(t.Instrument), utils.Err(res.err))
		}
		if a.observer != nil {
			a.observer.ObserveProbe(p.Name(), res.err)
		}
	}()

	pctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	res.reading, res.err = p.Score(pctx, t)
	return res
}
