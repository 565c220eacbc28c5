package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryTier is a Tier for single-process deployments and tests.
type MemoryTier struct {
	clock Clock

	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

func NewMemoryTier(clock Clock) *MemoryTier {
	if clock == nil {
		clock = SystemClock{}
	}
	return &MemoryTier{clock: clock, entries: make(map[string]memoryEntry)}
}

func (t *MemoryTier) Get(_ context.Context, key string) ([]byte, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && !t.clock.Now().Before(e.expires) {
		delete(t.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (t *MemoryTier) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = t.clock.Now().Add(ttl)
	}
	t.mu.Lock()
	t.entries[key] = e
	t.mu.Unlock()
	return nil
}

func (t *MemoryTier) Del(_ context.Context, key string) error {
	t.mu.Lock()
	delete(t.entries, key)
	t.mu.Unlock()
	return nil
}
