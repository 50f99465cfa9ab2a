package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter - token bucket для вызовов API площадки
//
// Ведро пополняется со скоростью rate токенов/сек до ёмкости burst.
// Каждый вызов забирает токен; при пустом ведре Wait ждёт или выходит по контексту.
//
//	lim := ratelimit.New(10, 20)
//	if err := lim.Wait(ctx); err != nil { ... }
type Limiter struct {
	rate       float64
	burst      float64
	tokens     float64
	lastRefill time.Time
	mu         sync.Mutex
}

// New создаёт limiter. rate <= 0 → 10 req/s, burst по умолчанию 2x rate.
func New(rate, burst float64) *Limiter {
	if rate <= 0 {
		rate = 10
	}
	if burst <= 0 {
		burst = rate * 2
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		rate:       rate,
		burst:      burst,
		tokens:     burst,
		lastRefill: time.Now(),
	}
}

// вызывается под lock'ом
func (l *Limiter) refill(now time.Time) {
	l.tokens += now.Sub(l.lastRefill).Seconds() * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
	l.lastRefill = now
}

// Wait блокирует до получения токена или отмены контекста
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		l.refill(time.Now())
		if l.tokens >= 1 {
			l.tokens--
			l.mu.Unlock()
			return nil
		}
		wait := time.Duration((1 - l.tokens) / l.rate * float64(time.Second))
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Allow забирает токен без ожидания
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill(time.Now())
	if l.tokens >= 1 {
		l.tokens--
		return true
	}
	return false
}

// Tokens - текущее количество токенов
func (l *Limiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill(time.Now())
	return l.tokens
}

// Set - набор limiter'ов по идентификатору площадки
type Set struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
	rate     float64
	burst    float64
}

// NewSet создаёт набор с лимитами по умолчанию для новых площадок
func NewSet(rate, burst float64) *Set {
	return &Set{limiters: make(map[string]*Limiter), rate: rate, burst: burst}
}

// For возвращает limiter площадки, создавая его при первом обращении
func (s *Set) For(venue string) *Limiter {
	s.mu.RLock()
	l, ok := s.limiters[venue]
	s.mu.RUnlock()
	if ok {
		return l
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok = s.limiters[venue]; !ok {
		l = New(s.rate, s.burst)
		s.limiters[venue] = l
	}
	return l
}
