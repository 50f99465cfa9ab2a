package venue

import (
	"context"
	"time"

	"leverage/pkg/ratelimit"
)

// Observer получает результат каждого вызова площадки (метрики)
type Observer interface {
	ObserveCall(venue, op string, d time.Duration, err error)
}

// Guarded - обёртка коннектора: таймаут, лимит запросов, нормализация ошибок
//
// Таймаут вызова превращается в ErrUnavailable.
type Guarded struct {
	inner    Connector
	timeout  time.Duration
	limiter  *ratelimit.Limiter
	observer Observer
}

// GuardConfig - параметры обёртки
type GuardConfig struct {
	Timeout  time.Duration
	Limiter  *ratelimit.Limiter
	Observer Observer
}

// Guard оборачивает коннектор
func Guard(c Connector, cfg GuardConfig) *Guarded {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Guarded{inner: c, timeout: cfg.Timeout, limiter: cfg.Limiter, observer: cfg.Observer}
}

func (g *Guarded) ID() string       { return g.inner.ID() }
func (g *Guarded) Kind() Kind       { return g.inner.Kind() }
func (g *Guarded) Inner() Connector { return g.inner }

func (g *Guarded) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return Normalize(g.inner.ID(), op, err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	err := fn(callCtx)
	if err != nil && callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		err = newError(g.inner.ID(), op, ErrUnavailable, "", "call timed out after "+g.timeout.String(), nil)
	}
	err = Normalize(g.inner.ID(), op, err)

	if g.observer != nil {
		g.observer.ObserveCall(g.inner.ID(), op, time.Since(start), err)
	}
	return err
}

func (g *Guarded) Open(ctx context.Context, req OpenRequest) (*OpenResult, error) {
	var res *OpenResult
	err := g.call(ctx, "open", func(ctx context.Context) error {
		var err error
		res, err = g.inner.Open(ctx, req)
		return err
	})
	return res, err
}

func (g *Guarded) Status(ctx context.Context, positionID string) (*Status, error) {
	var res *Status
	err := g.call(ctx, "status", func(ctx context.Context) error {
		var err error
		res, err = g.inner.Status(ctx, positionID)
		return err
	})
	return res, err
}

func (g *Guarded) Close(ctx context.Context, positionID string) (*CloseResult, error) {
	var res *CloseResult
	err := g.call(ctx, "close", func(ctx context.Context) error {
		var err error
		res, err = g.inner.Close(ctx, positionID)
		return err
	})
	return res, err
}

// Restore пробрасывает восстановление во внутренний коннектор
func (g *Guarded) Restore(t Tracked) error {
	if r, ok := g.inner.(Restorer); ok {
		return r.Restore(t)
	}
	return nil
}
