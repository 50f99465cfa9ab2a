package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Policy - политика повторов
//
// Два режима:
//   - экспоненциальный backoff: delay = min(Initial * Multiplier^attempt, MaxDelay) ± jitter
//   - фиксированный интервал (Multiplier == 1, JitterFactor == 0) для экстренных операций
//
// MaxAttempts <= 0 означает повторы до успеха или отмены контекста.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64

	// RetryIf решает, стоит ли повторять ошибку. nil - повторяем всё, кроме Permanent.
	RetryIf func(error) bool

	// OnRetry вызывается перед ожиданием очередной попытки
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Backoff - экспоненциальная политика для временных сбоев площадки
//
// Задержки: initial, 2*initial, 4*initial ... но не больше maxDelay.
func Backoff(maxAttempts int, initial, maxDelay time.Duration) Policy {
	return Policy{
		MaxAttempts:  maxAttempts,
		InitialDelay: initial,
		MaxDelay:     maxDelay,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// Fixed - повторы с постоянным интервалом без ограничения числа попыток
//
// Используется для закрытия при угрозе ликвидации: без backoff, до успеха.
func Fixed(interval time.Duration) Policy {
	return Policy{
		InitialDelay: interval,
		MaxDelay:     interval,
		Multiplier:   1,
	}
}

// DefaultPolicy - 4 попытки, 100ms → 800ms
func DefaultPolicy() Policy {
	return Backoff(4, 100*time.Millisecond, 5*time.Second)
}

func (p *Policy) normalize() {
	if p.InitialDelay <= 0 {
		p.InitialDelay = 100 * time.Millisecond
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.JitterFactor < 0 {
		p.JitterFactor = 0
	}
	if p.JitterFactor > 1 {
		p.JitterFactor = 1
	}
}

// Delay возвращает задержку перед попыткой attempt+1 (attempt с нуля)
func (p Policy) Delay(attempt int) time.Duration {
	p.normalize()

	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.JitterFactor > 0 {
		delay += delay * p.JitterFactor * (rand.Float64()*2 - 1)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

func (p Policy) shouldRetry(err error) bool {
	var perm *PermanentError
	if errors.As(err, &perm) {
		return false
	}
	if p.RetryIf != nil {
		return p.RetryIf(err)
	}
	return true
}

// Do выполняет операцию по политике
//
// Возвращает nil при успехе, иначе последнюю ошибку операции.
// Если контекст отменён до первой попытки - ctx.Err().
//
// Пример:
//
//	err := retry.Do(ctx, func() error {
//	    return conn.Close(ctx, id)
//	}, retry.Backoff(4, 500*time.Millisecond, 5*time.Second))
func Do(ctx context.Context, operation func() error, p Policy) error {
	_, err := DoValue(ctx, func() (struct{}, error) {
		return struct{}{}, operation()
	}, p)
	return err
}

// DoValue - Do для операций, возвращающих результат
func DoValue[T any](ctx context.Context, operation func() (T, error), p Policy) (T, error) {
	p.normalize()

	var (
		zero    T
		lastErr error
	)

	for attempt := 0; p.MaxAttempts <= 0 || attempt < p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, err
		}

		result, err := operation()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !p.shouldRetry(err) {
			return zero, err
		}
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts-1 {
			break
		}

		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}

	return zero, lastErr
}

// ============================================================
// Классификация ошибок
// ============================================================

// PermanentError - ошибка, которую нельзя повторять
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent помечает ошибку как неповторяемую
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IfNotContext - не повторяем отмену и истечение контекста
func IfNotContext(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// IfAny повторяет ошибку, если она совпадает (errors.Is) с одной из целей
func IfAny(targets ...error) func(error) bool {
	return func(err error) bool {
		for _, t := range targets {
			if errors.Is(err, t) {
				return true
			}
		}
		return false
	}
}
