// internal/monitor/supervisor.go
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Supervise runs loop until the context is cancelled, restarting it after
// retryDelay on failure. A supervised loop is expected to run forever, so a
// clean return is logged as unexpected and restarted too. Cancellation is
// propagated immediately, never treated as a recoverable failure.
func Supervise(ctx context.Context, name string, retryDelay time.Duration, loop func(context.Context) error) error {
	for {
		err := loop(ctx)
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			slog.Info("task stopped", "task", name)
			return ctx.Err()
		}
		if err != nil {
			slog.Error("task failed, restarting", "task", name, "error", err, "retry_delay", retryDelay)
		} else {
			slog.Warn("task returned unexpectedly, restarting", "task", name, "retry_delay", retryDelay)
		}
		timer := time.NewTimer(retryDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			slog.Info("task stopped", "task", name)
			return ctx.Err()
		}
		timer.Stop()
	}
}
