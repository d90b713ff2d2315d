// internal/pacing/guard.go
package pacing

import "sync"

// KeyedMutex hands out one exclusive lock per key so a mapping is never
// processed twice concurrently. The registry mutex is only held while looking
// up or creating the per-key lock, never across the critical section.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewKeyedMutex creates an empty lock registry.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the lock for key, creating it on first use, and returns the
// release function. Callers must defer the release so it runs on every exit
// path.
func (g *KeyedMutex) Lock(key string) func() {
	g.mu.Lock()
	lock, ok := g.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		g.locks[key] = lock
	}
	g.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// Forget drops the lock registered for key. Only safe once the mapping has
// been removed and no pass can still reference it.
func (g *KeyedMutex) Forget(key string) {
	g.mu.Lock()
	delete(g.locks, key)
	g.mu.Unlock()
}
