package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"leverage/internal/models"
	"leverage/pkg/utils"
)

// ReasonNoAnalyses - ни один анализ не завершился
const ReasonNoAnalyses = "no venue analysis completed"

// AnalyzeFunc - анализ одной цели (Analyzer.Analyze)
type AnalyzeFunc func(ctx context.Context, t Target) (models.RiskVerdict, error)

// Aggregator - параллельный анализ по нескольким площадкам/сетям
type Aggregator struct {
	analyze AnalyzeFunc
	timeout time.Duration
	log     *utils.Logger
}

// NewAggregator создаёт агрегатор. timeout ограничивает анализ одной цели.
func NewAggregator(a *Analyzer, timeout time.Duration, log *utils.Logger) *Aggregator {
	return NewAggregatorFunc(a.Analyze, timeout, log)
}

// NewAggregatorFunc - агрегатор над произвольной функцией анализа
func NewAggregatorFunc(fn AnalyzeFunc, timeout time.Duration, log *utils.Logger) *Aggregator {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log == nil {
		log = utils.NewNopLogger()
	}
	return &Aggregator{analyze: fn, timeout: timeout, log: log.WithComponent("risk_aggregator")}
}

type outcome struct {
	target  Target
	verdict models.RiskVerdict
	err     error
}

// Aggregate анализирует все цели параллельно и сводит результат
//
// Не завершившийся анализ исключается из среднего и попадает в Failures.
// Рекомендация - хотя бы один анализ завершён и все завершённые рекомендуют.
// Без завершённых анализов результат - не рекомендовано, score 100.
func (g *Aggregator) Aggregate(ctx context.Context, targets []Target) models.AggregateVerdict {
	outcomes := make([]outcome, len(targets))

	var wg sync.WaitGroup
	for i, t := range targets {
		wg.Add(1)
		go func(i int, t Target) {
			defer wg.Done()
			outcomes[i] = g.one(ctx, t)
		}(i, t)
	}
	wg.Wait()

	agg := models.AggregateVerdict{Recommended: true}
	var sum float64
	for _, o := range outcomes {
		if o.err != nil {
			if agg.Failures == nil {
				agg.Failures = make(map[string]string)
			}
			agg.Failures[o.target.Key()] = o.err.Error()
			agg.Reasons = append(agg.Reasons, fmt.Sprintf("%s analysis failed: %v", o.target.Key(), o.err))
			continue
		}

		agg.Verdicts = append(agg.Verdicts, o.verdict)
		sum += o.verdict.RiskLevel
		if !o.verdict.Recommended {
			agg.Recommended = false
		}
		for _, r := range o.verdict.Reasons {
			agg.Reasons = append(agg.Reasons, o.target.Key()+": "+r)
		}
	}

	if len(agg.Verdicts) == 0 {
		agg.Recommended = false
		agg.Score = 100
		agg.Reasons = append(agg.Reasons, ReasonNoAnalyses)
		g.log.Warn("risk aggregation produced no verdicts", utils.Int("targets", len(targets)))
		return agg
	}

	agg.Score = sum / float64(len(agg.Verdicts))
	return agg
}

func (g *Aggregator) one(ctx context.Context, t Target) (o outcome) {
	o.target = t
	defer func() {
		if r := recover(); r != nil {
			o.err = fmt.Errorf("analysis panic: %v", r)
		}
	}()

	actx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	o.verdict, o.err = g.analyze(actx, t)
	if o.err != nil {
		g.log.Warn("venue analysis failed", utils.Venue(t.Venue), utils.Instrument(t.Instrument), utils.Err(o.err))
	}
	return o
}
