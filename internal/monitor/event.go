// internal/monitor/event.go
package monitor

import (
	"context"
	"sync"
	"time"
)

// Event is a level-triggered signal: Set latches it, Clear resets it, and
// Wait blocks until it is set. Waiters observe the level, not edges, so a
// signal raised before the wait still satisfies it.
type Event struct {
	mu  sync.Mutex
	set bool
	ch  chan struct{}
}

// NewEvent returns an unsignalled event.
func NewEvent() *Event {
	return &Event{ch: make(chan struct{})}
}

// Set latches the event and releases all current waiters.
func (e *Event) Set() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.set {
		e.set = true
		close(e.ch)
	}
}

// Clear resets the event so future Wait calls block again.
func (e *Event) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.set {
		e.set = false
		e.ch = make(chan struct{})
	}
}

// IsSet reports the current level.
func (e *Event) IsSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set
}

// Wait blocks until the event is set or the context is cancelled.
func (e *Event) Wait(ctx context.Context) error {
	e.mu.Lock()
	if e.set {
		e.mu.Unlock()
		return nil
	}
	ch := e.ch
	e.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitTimeout blocks until the event is set, the timeout elapses, or the
// context is cancelled. It reports whether the event was signalled.
func (e *Event) WaitTimeout(ctx context.Context, timeout time.Duration) (bool, error) {
	e.mu.Lock()
	if e.set {
		e.mu.Unlock()
		return true, nil
	}
	ch := e.ch
	e.mu.Unlock()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true, nil
	case <-timer.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
