// internal/pacing/ratelimit.go
package pacing

import (
	"context"
	"sync"
	"time"
)

// RateLimiter paces a stream of calls to at most rate per second by sleeping
// between permits. The mutex is held across the sleep so exactly one caller
// advances the next-permit marker while the rest queue behind it.
type RateLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time
}

// NewRateLimiter creates a limiter for the given rate. A non-positive rate
// disables pacing.
func NewRateLimiter(perSecond float64) *RateLimiter {
	l := &RateLimiter{}
	l.SetRate(perSecond)
	return l
}

// SetRate changes the pacing rate. It takes effect on the next Wait without
// resetting elapsed history.
func (l *RateLimiter) SetRate(perSecond float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if perSecond <= 0 {
		l.interval = 0
		return
	}
	l.interval = time.Duration(float64(time.Second) / perSecond)
}

// Wait suspends the caller until at least one interval has elapsed since the
// previous permit. It returns early with the context error on cancellation.
func (l *RateLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.interval <= 0 {
		return nil
	}
	now := time.Now()
	if now.Before(l.next) {
		timer := time.NewTimer(l.next.Sub(now))
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	l.next = time.Now().Add(l.interval)
	return nil
}
