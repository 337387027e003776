package fetch

import (
	"context"
	"sync"
	"time"
)

// Limiter enforces a minimum interval between request departures. One limiter
// is shared across every symbol in the process because the upstream quota is
// per API key, not per symbol; the invariant "no two departures less than
// interval apart" holds globally.
type Limiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

// NewLimiter creates a limiter with the given minimum inter-request interval.
// A zero or negative interval disables waiting.
func NewLimiter(interval time.Duration) *Limiter {
	return &Limiter{interval: interval}
}

// Interval returns the configured minimum spacing.
func (l *Limiter) Interval() time.Duration {
	if l == nil {
		return 0
	}
	return l.interval
}

// Wait blocks until a request may depart, then records the departure time.
// Returns early with the context's error on cancellation.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.interval <= 0 {
		return ctx.Err()
	}
	l.mu.Lock()
	now := time.Now()
	wait := l.interval - now.Sub(l.last)
	if wait <= 0 {
		l.last = now
		l.mu.Unlock()
		return ctx.Err()
	}
	// Reserve the slot before sleeping so concurrent callers space out too.
	l.last = now.Add(wait)
	l.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
