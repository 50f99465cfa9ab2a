package risk

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"leverage/internal/models"
)

func verdictFor(level float64, recommended bool) models.RiskVerdict {
	return models.RiskVerdict{RiskLevel: level, Recommended: recommended}
}

func TestAggregator_MeanOfCompletedOnly(t *testing.T) {
	byVenue := map[string]models.RiskVerdict{
		"a": verdictFor(20, true),
		"b": verdictFor(40, true),
	}
	agg := NewAggregatorFunc(func(_ context.Context, t Target) (models.RiskVerdict, error) {
		if v, ok := byVenue[t.Venue]; ok {
			return v, nil
		}
		return models.RiskVerdict{}, errors.New("rpc down")
	}, time.Second, nil)

	res := agg.Aggregate(context.Background(), []Target{{Venue: "a"}, {Venue: "b"}, {Venue: "c", Chain: "solana"}})

	assert.Len(t, res.Verdicts, 2)
	assert.Equal(t, 30.0, res.Score)
	assert.True(t, res.Recommended)
	assert.Contains(t, res.Failures, "c/solana")
}

func TestAggregator_FailureDoesNotFlipUnanimousRejection(t *testing.T) {
	agg := NewAggregatorFunc(func(_ context.Context, t Target) (models.RiskVerdict, error) {
		if t.Venue == "broken" {
			return models.RiskVerdict{}, ErrNoSignals
		}
		return verdictFor(90, false), nil
	}, time.Second, nil)

	res := agg.Aggregate(context.Background(), []Target{{Venue: "x"}, {Venue: "broken"}, {Venue: "y"}})
	assert.False(t, res.Recommended)
	assert.Equal(t, 90.0, res.Score)
}

func TestAggregator_ZeroCompletedIsConservative(t *testing.T) {
	agg := NewAggregatorFunc(func(context.Context, Target) (models.RiskVerdict, error) {
		return models.RiskVerdict{}, errors.New("timeout")
	}, time.Second, nil)

	res := agg.Aggregate(context.Background(), []Target{{Venue: "a"}, {Venue: "b"}})
	assert.False(t, res.Recommended)
	assert.Equal(t, 100.0, res.Score)
	assert.Len(t, res.Failures, 2)
	assert.Contains(t, res.Reasons, ReasonNoAnalyses)

	empty := agg.Aggregate(context.Background(), nil)
	assert.False(t, empty.Recommended)
	assert.Equal(t, 100.0, empty.Score)
}

func TestAggregator_RunsInParallelWithTimeout(t *testing.T) {
	var inFlight, peak int32
	agg := NewAggregatorFunc(func(ctx context.Context, t Target) (models.RiskVerdict, error) {
		n := atomic.AddInt32(&inFlight, 1)
		defer atomic.AddInt32(&inFlight, -1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		if t.Venue == "slow" {
			<-ctx.Done()
			return models.RiskVerdict{}, ctx.Err()
		}
		time.Sleep(30 * time.Millisecond)
		return verdictFor(10, true), nil
	}, 100*time.Millisecond, nil)

	start := time.Now()
	res := agg.Aggregate(context.Background(), []Target{{Venue: "a"}, {Venue: "b"}, {Venue: "slow"}})

	assert.Less(t, time.Since(start), time.Second)
	assert.EqualValues(t, 3, atomic.LoadInt32(&peak))
	assert.True(t, res.Recommended)
	assert.Contains(t, res.Failures, "slow")
}

func TestAggregator_WithAnalyzer(t *testing.T) {
	a := NewAnalyzer(gatingProbes(75, 10, 60), AnalyzerConfig{Gate: DefaultGate()})
	res := NewAggregator(a, time.Second, nil).Aggregate(context.Background(), []Target{{Instrument: "T", Venue: "dex"}})

	assert.False(t, res.Recommended)
	assert.Equal(t, 75.0, res.Score)
	assert.Equal(t, []string{"dex: fraud likelihood 75 exceeds 70"}, res.Reasons)
}
