package snapshot

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/TimurManjosov/contentship/internal/rules"
)

var errMissing = errors.New("missing")

type countingLoader struct {
	calls atomic.Int32
	defs  map[string]rules.Definition
	mu    sync.Mutex
}

func (l *countingLoader) load(_ context.Context, id string) (*rules.Definition, error) {
	l.calls.Add(1)
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.defs[id]
	if !ok {
		return nil, errMissing
	}
	return &d, nil
}

func (l *countingLoader) set(d rules.Definition) {
	l.mu.Lock()
	l.defs[d.ID] = d
	l.mu.Unlock()
}

func newLoader(defs ...rules.Definition) *countingLoader {
	l := &countingLoader{defs: make(map[string]rules.Definition)}
	for _, d := range defs {
		l.defs[d.ID] = d
	}
	return l
}

func TestCache_HitWithinTTL(t *testing.T) {
	l := newLoader(rules.Definition{ID: "promo", DefaultContent: "hi"})
	c := New(l.load, time.Minute)
	var hits, misses int
	c.OnHit = func() { hits++ }
	c.OnMiss = func() { misses++ }

	for i := 0; i < 3; i++ {
		e, err := c.Get(context.Background(), "promo")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if e.Definition.DefaultContent != "hi" || e.ETag == "" {
			t.Errorf("entry = %+v", e)
		}
	}
	if got := l.calls.Load(); got != 1 {
		t.Errorf("loader calls = %d, want 1", got)
	}
	if hits != 2 || misses != 1 {
		t.Errorf("hits=%d misses=%d", hits, misses)
	}
}

func TestCache_ExpiresAfterTTL(t *testing.T) {
	l := newLoader(rules.Definition{ID: "promo"})
	c := New(l.load, time.Second)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Get(context.Background(), "promo")
	now = now.Add(2 * time.Second)
	c.Get(context.Background(), "promo")

	if got := l.calls.Load(); got != 2 {
		t.Errorf("loader calls = %d, want 2", got)
	}
}

func TestCache_Invalidate(t *testing.T) {
	l := newLoader(rules.Definition{ID: "promo", DefaultContent: "old"})
	c := New(l.load, time.Hour)
	var invalidations int
	c.OnInvalidate = func() { invalidations++ }

	first, _ := c.Get(context.Background(), "promo")
	l.set(rules.Definition{ID: "promo", DefaultContent: "new"})
	c.Invalidate("promo")
	if invalidations != 1 {
		t.Errorf("OnInvalidate calls = %d, want 1", invalidations)
	}
	second, err := c.Get(context.Background(), "promo")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if second.Definition.DefaultContent != "new" {
		t.Errorf("content = %q, want new", second.Definition.DefaultContent)
	}
	if first.ETag == second.ETag {
		t.Error("ETag must change with content")
	}
}

func TestCache_ErrorsAreNotCached(t *testing.T) {
	l := newLoader()
	c := New(l.load, time.Hour)

	if _, err := c.Get(context.Background(), "nope"); !errors.Is(err, errMissing) {
		t.Fatalf("err = %v, want errMissing", err)
	}
	if c.Len() != 0 {
		t.Error("failed load must not be cached")
	}
	l.set(rules.Definition{ID: "nope"})
	if _, err := c.Get(context.Background(), "nope"); err != nil {
		t.Errorf("Get after create: %v", err)
	}
}

func TestCache_ConcurrentMissesLoadOnce(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	c := New(func(context.Context, string) (*rules.Definition, error) {
		calls.Add(1)
		<-release
		return &rules.Definition{ID: "promo"}, nil
	}, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Get(context.Background(), "promo"); err != nil {
				t.Errorf("Get: %v", err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("loader calls = %d, want 1", got)
	}
}

func TestCache_PurgeDuringLoadIsNotCached(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	c := New(func(context.Context, string) (*rules.Definition, error) {
		close(started)
		<-release
		return &rules.Definition{ID: "promo", DefaultContent: "stale"}, nil
	}, time.Hour)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := c.Get(context.Background(), "promo"); err != nil {
			t.Errorf("Get: %v", err)
		}
	}()
	<-started
	c.Purge()
	close(release)
	<-done

	if c.Len() != 0 {
		t.Errorf("Len() = %d, a load racing a purge must not be cached", c.Len())
	}
}

func TestCache_Watch(t *testing.T) {
	l := newLoader(rules.Definition{ID: "a"}, rules.Definition{ID: "b"})
	c := New(l.load, time.Hour)
	c.Get(context.Background(), "a")
	c.Get(context.Background(), "b")

	changes := make(chan string)
	done := make(chan struct{})
	go func() {
		c.Watch(context.Background(), changes)
		close(done)
	}()

	changes <- "a"
	changes <- ""
	close(changes)
	<-done

	if c.Len() != 0 {
		t.Errorf("Len() = %d after purge", c.Len())
	}
}

func TestETag_Deterministic(t *testing.T) {
	d := rules.Definition{ID: "x", DefaultContent: "hello"}
	if ETag(d) != ETag(d) {
		t.Error("ETag must be deterministic")
	}
	if ETag(d) == ETag(rules.Definition{ID: "x", DefaultContent: "bye"}) {
		t.Error("ETag must depend on content")
	}
}
