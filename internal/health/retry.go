// internal/health/retry.go
package health

import (
	"context"
	"time"
)

// Policy bounds how often a health probe is retried: up to Attempts calls
// with a fixed Delay between them, stopping early on success. The final
// attempt's result stands regardless of outcome.
type Policy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultPolicy returns the probe retry defaults: 3 attempts, 1s apart.
func DefaultPolicy() Policy {
	return Policy{Attempts: 3, Delay: time.Second}
}

// Do invokes probe until it reports success or the attempts are exhausted.
// Returns the last probe result; cancellation cuts the retries short.
func (p Policy) Do(ctx context.Context, probe func(context.Context) bool) bool {
	ok := probe(ctx)
	if p.Attempts <= 1 {
		return ok
	}
	for attempt := 1; attempt < p.Attempts && !ok; attempt++ {
		timer := time.NewTimer(p.Delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ok
		}
		timer.Stop()
		ok = probe(ctx)
	}
	return ok
}
