package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"botstore/rdx"

	"github.com/alicebob/miniredis/v2"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeStore stands in for the backing store behind the cache.
type fakeStore struct {
	mu    sync.Mutex
	value []string
	loads int32
	fail  bool
}

func (s *fakeStore) load(context.Context) ([]string, error) {
	atomic.AddInt32(&s.loads, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, errors.New("store down")
	}
	return append([]string(nil), s.value...), nil
}

func (s *fakeStore) put(v ...string) func(context.Context) error {
	return func(context.Context) error {
		s.mu.Lock()
		s.value = v
		s.mu.Unlock()
		return nil
	}
}

type brokenTier struct{}

func (brokenTier) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("connection refused")
}
func (brokenTier) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("connection refused")
}
func (brokenTier) Del(context.Context, string) error { return errors.New("connection refused") }

func newManager(clock Clock, local *Local, remote Tier) *Manager[[]string] {
	return New[[]string](Options{Namespace: "test:", TTL: time.Minute, Clock: clock, Local: local, Remote: remote})
}

func TestGetStates(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := &fakeStore{value: []string{"a"}}
	m := newManager(clock, NewLocal(), NewMemoryTier(clock))
	ctx := context.Background()

	if got := m.State("products"); got != Cold {
		t.Fatalf("state = %v, want COLD", got)
	}
	if _, err := m.Get(ctx, "products", store.load); err != nil {
		t.Fatal(err)
	}
	if got := m.State("products"); got != Fresh {
		t.Fatalf("state = %v, want FRESH", got)
	}
	_, _ = m.Get(ctx, "products", store.load)
	if store.loads != 1 {
		t.Fatalf("fresh read hit the store: loads = %d", store.loads)
	}

	clock.Advance(2 * time.Minute)
	if got := m.State("products"); got != Stale {
		t.Fatalf("state = %v, want STALE", got)
	}
	m.Invalidate(ctx, "products")
	if got := m.State("products"); got != Invalidated {
		t.Fatalf("state = %v, want INVALIDATED", got)
	}
}

func TestWriteIsVisibleToNextRead(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := &fakeStore{value: []string{"old"}}
	m := newManager(clock, NewLocal(), NewMemoryTier(clock))
	ctx := context.Background()

	if _, err := m.Get(ctx, "products", store.load); err != nil {
		t.Fatal(err)
	}
	if err := m.Write(ctx, "products", store.put("new"), store.load); err != nil {
		t.Fatal(err)
	}
	got, err := m.Get(ctx, "products", store.load)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "new" {
		t.Fatalf("read after write = %v, want [new]", got)
	}
	if m.State("products") != Fresh {
		t.Fatalf("write should leave the entry FRESH, got %v", m.State("products"))
	}
}

func TestFailedMutationLeavesCacheUntouched(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := &fakeStore{value: []string{"old"}}
	m := newManager(clock, NewLocal(), nil)
	ctx := context.Background()
	_, _ = m.Get(ctx, "products", store.load)

	boom := errors.New("constraint")
	err := m.Write(ctx, "products", func(context.Context) error { return boom }, store.load)
	if !errors.Is(err, boom) {
		t.Fatalf("Write err = %v", err)
	}
	if m.State("products") != Fresh {
		t.Fatalf("state = %v, want FRESH", m.State("products"))
	}
}

func TestReloadFailureInvalidates(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := &fakeStore{value: []string{"old"}}
	remote := NewMemoryTier(clock)
	m := newManager(clock, NewLocal(), remote)
	ctx := context.Background()
	_, _ = m.Get(ctx, "products", store.load)

	mutate := func(ctx context.Context) error {
		if err := store.put("new")(ctx); err != nil {
			return err
		}
		store.fail = true
		return nil
	}
	if err := m.Write(ctx, "products", mutate, store.load); err != nil {
		t.Fatal(err)
	}
	if m.State("products") != Invalidated {
		t.Fatalf("state = %v, want INVALIDATED", m.State("products"))
	}
	if _, hit, _ := remote.Get(ctx, "test:products"); hit {
		t.Fatal("remote copy should have been deleted")
	}

	store.fail = false
	got, err := m.Get(ctx, "products", store.load)
	if err != nil || len(got) != 1 || got[0] != "new" {
		t.Fatalf("Get after invalidation = %v, %v", got, err)
	}
}

func TestSecondInstanceReadsRemoteTier(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := &fakeStore{value: []string{"a", "b"}}
	remote := NewMemoryTier(clock)
	ctx := context.Background()

	first := newManager(clock, NewLocal(), remote)
	if _, err := first.Get(ctx, "products", store.load); err != nil {
		t.Fatal(err)
	}
	second := newManager(clock, NewLocal(), remote)
	got, err := second.Get(ctx, "products", store.load)
	if err != nil || len(got) != 2 {
		t.Fatalf("Get = %v, %v", got, err)
	}
	if store.loads != 1 {
		t.Fatalf("second instance should have been served by the remote tier, loads = %d", store.loads)
	}
}

func TestBrokenRemoteTierDegradesToStore(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := &fakeStore{value: []string{"a"}}
	m := newManager(clock, NewLocal(), brokenTier{})
	ctx := context.Background()

	got, err := m.Get(ctx, "products", store.load)
	if err != nil || len(got) != 1 {
		t.Fatalf("Get = %v, %v", got, err)
	}
	if err := m.Write(ctx, "products", store.put("b"), store.load); err != nil {
		t.Fatalf("Write should not surface remote errors: %v", err)
	}
	got, _ = m.Get(ctx, "products", store.load)
	if got[0] != "b" {
		t.Fatalf("Get = %v, want [b]", got)
	}
}

func TestLoadStartedBeforeWriteDoesNotOverwriteIt(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := &fakeStore{value: []string{"old"}}
	remote := NewMemoryTier(clock)
	m := newManager(clock, NewLocal(), remote)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	slow := func(ctx context.Context) ([]string, error) {
		v, err := store.load(ctx)
		close(started)
		<-release
		return v, err
	}
	done := make(chan []string)
	go func() {
		v, err := m.Get(ctx, "products", slow)
		if err != nil {
			t.Error(err)
		}
		done <- v
	}()

	<-started
	if err := m.Write(ctx, "products", store.put("new"), store.load); err != nil {
		t.Fatal(err)
	}
	close(release)
	if v := <-done; len(v) != 1 || v[0] != "old" {
		t.Fatalf("in-flight read = %v, want [old]", v)
	}

	got, err := m.Get(ctx, "products", store.load)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "new" {
		t.Fatalf("read after write = %v, want [new]", got)
	}
	if m.State("products") != Fresh {
		t.Fatalf("state = %v, want FRESH", m.State("products"))
	}
	if b, hit, _ := remote.Get(ctx, "test:products"); !hit || string(b) != `["new"]` {
		t.Fatalf("remote tier = %s, want [\"new\"]", b)
	}
}

func TestConcurrentColdLoadsCollapse(t *testing.T) {
	store := &fakeStore{value: []string{"a"}}
	release := make(chan struct{})
	slow := func(ctx context.Context) ([]string, error) {
		<-release
		return store.load(ctx)
	}
	m := newManager(SystemClock{}, NewLocal(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Get(context.Background(), "products", slow); err != nil {
				t.Error(err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	if n := atomic.LoadInt32(&store.loads); n < 1 || n > 10 {
		t.Fatalf("loads = %d", n)
	}
}

func TestRedisTier(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := rdx.Connect(context.Background(), mr.Addr(), "", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	store := &fakeStore{value: []string{"x"}}
	m := newManager(SystemClock{}, NewLocal(), rdx.NewTier(client))
	if _, err := m.Get(context.Background(), "products", store.load); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists("test:products") {
		t.Fatal("value should have been written to redis")
	}
	if ttl := mr.TTL("test:products"); ttl != time.Minute {
		t.Fatalf("redis ttl = %v, want 1m", ttl)
	}
}
