// Package cache is a two-tier read-through cache: a process-local tier shared by
// every Manager in the process and an optional distributed tier (Redis in
// production). Reads go local -> remote -> store; writes go to the store first
// and then refresh both tiers.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Clock is injected so freshness can be tested without sleeping.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Tier is a byte-oriented distributed cache.
type Tier interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

type State int

const (
	Cold State = iota
	Fresh
	Stale
	Invalidated
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "FRESH"
	case Stale:
		return "STALE"
	case Invalidated:
		return "INVALIDATED"
	}
	return "COLD"
}

type localEntry struct {
	value       any
	storedAt    time.Time
	invalidated bool
}

// Local is the in-process tier. Every write or invalidation bumps the key's
// generation; a load that started under an older generation never fills.
type Local struct {
	mu      sync.RWMutex
	entries map[string]localEntry
	gens    map[string]uint64
}

func NewLocal() *Local {
	return &Local{entries: make(map[string]localEntry), gens: make(map[string]uint64)}
}

func (l *Local) generation(key string) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.gens[key]
}

func (l *Local) bump(key string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gens[key]++
	return l.gens[key]
}

// setIf stores value only while the key is still at generation gen.
func (l *Local) setIf(key string, value any, at time.Time, gen uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gens[key] != gen {
		return false
	}
	l.entries[key] = localEntry{value: value, storedAt: at}
	return true
}

func (l *Local) get(key string) (localEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[key]
	return e, ok
}

func (l *Local) invalidate(key string) {
	l.mu.Lock()
	l.gens[key]++
	e := l.entries[key]
	e.invalidated = true
	e.value = nil
	l.entries[key] = e
	l.mu.Unlock()
}

type Options struct {
	// Namespace prefixes every key in both tiers.
	Namespace string
	TTL       time.Duration
	Clock     Clock
	Local     *Local
	Remote    Tier
	Logger    *slog.Logger
}

// Manager caches values of one type. Values pass through the remote tier as JSON.
type Manager[T any] struct {
	ns     string
	ttl    time.Duration
	clock  Clock
	local  *Local
	remote Tier
	log    *slog.Logger
	group  singleflight.Group
}

func New[T any](opts Options) *Manager[T] {
	m := &Manager[T]{
		ns:     opts.Namespace,
		ttl:    opts.TTL,
		clock:  opts.Clock,
		local:  opts.Local,
		remote: opts.Remote,
		log:    opts.Logger,
	}
	if m.ttl <= 0 {
		m.ttl = 15 * time.Minute
	}
	if m.clock == nil {
		m.clock = SystemClock{}
	}
	if m.local == nil {
		m.local = NewLocal()
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	return m
}

func (m *Manager[T]) key(k string) string { return m.ns + k }

// Get returns the cached value for key, loading it from the store on a miss.
// Remote failures are treated as misses.
func (m *Manager[T]) Get(ctx context.Context, key string, load func(context.Context) (T, error)) (T, error) {
	k := m.key(key)
	e, ok := m.local.get(k)
	if ok && !e.invalidated && m.clock.Now().Sub(e.storedAt) < m.ttl {
		return e.value.(T), nil
	}

	// After a local invalidation the remote copy may predate the write that
	// caused it, so go straight to the store.
	if !(ok && e.invalidated) {
		gen := m.local.generation(k)
		if v, hit := m.remoteGet(ctx, k); hit {
			m.local.setIf(k, v, m.clock.Now(), gen)
			return v, nil
		}
	}

	v, err, _ := m.group.Do(k, func() (any, error) {
		gen := m.local.generation(k)
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if !m.fill(ctx, k, v, gen) {
			m.log.Debug("cache load overtaken by a write, not filling", "key", k)
		}
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Write runs mutate against the store and, only if it succeeds, reloads the
// value and sets it in both tiers. A failed reload invalidates instead.
func (m *Manager[T]) Write(ctx context.Context, key string, mutate func(context.Context) error, load func(context.Context) (T, error)) error {
	if err := mutate(ctx); err != nil {
		return err
	}
	k := m.key(key)
	// loads already in flight read the pre-write value; later readers must not join them
	m.group.Forget(k)
	gen := m.local.bump(k)
	v, err := load(ctx)
	if err != nil {
		m.log.Warn("cache reload after write failed, invalidating", "key", k, "err", err)
		m.Invalidate(ctx, key)
		return nil
	}
	m.fill(ctx, k, v, gen)
	return nil
}

func (m *Manager[T]) Invalidate(ctx context.Context, key string) {
	k := m.key(key)
	m.local.invalidate(k)
	if m.remote == nil {
		return
	}
	if err := m.remote.Del(ctx, k); err != nil {
		m.log.Warn("remote cache delete failed", "key", k, "err", err)
	}
}

func (m *Manager[T]) State(key string) State {
	e, ok := m.local.get(m.key(key))
	switch {
	case !ok:
		return Cold
	case e.invalidated:
		return Invalidated
	case m.clock.Now().Sub(e.storedAt) >= m.ttl:
		return Stale
	}
	return Fresh
}

// fill sets both tiers if no write or invalidation has happened since gen.
func (m *Manager[T]) fill(ctx context.Context, k string, v T, gen uint64) bool {
	if !m.local.setIf(k, v, m.clock.Now(), gen) {
		return false
	}
	if m.remote == nil {
		return true
	}
	b, err := json.Marshal(v)
	if err != nil {
		m.log.Error("cache encode failed", "key", k, "err", err)
		return true
	}
	if err := m.remote.Set(ctx, k, b, m.ttl); err != nil {
		m.log.Warn("remote cache set failed", "key", k, "err", err)
	}
	return true
}

func (m *Manager[T]) remoteGet(ctx context.Context, k string) (T, bool) {
	var v T
	if m.remote == nil {
		return v, false
	}
	b, hit, err := m.remote.Get(ctx, k)
	if err != nil {
		m.log.Warn("remote cache read failed, falling back to store", "key", k, "err", err)
		return v, false
	}
	if !hit {
		return v, false
	}
	if err := json.Unmarshal(b, &v); err != nil {
		m.log.Warn("remote cache entry undecodable", "key", k, "err", err)
		return v, false
	}
	return v, true
}
