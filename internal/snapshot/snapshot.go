// Package snapshot caches content definitions by id with a short TTL and
// computes the ETags served to admin clients.
package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/TimurManjosov/contentship/internal/rules"
)

// Loader fetches a definition from the backing store.
type Loader func(ctx context.Context, id string) (*rules.Definition, error)

// Entry is a cached definition. Entries are shared between readers and
// must not be modified.
type Entry struct {
	Definition *rules.Definition
	ETag       string
	expires    time.Time
}

// Cache is a per-id read-through cache.
type Cache struct {
	load Loader
	ttl  time.Duration
	now  func() time.Time

	mu      sync.RWMutex
	entries map[string]*Entry
	gen     map[string]uint64
	epoch   uint64
	group   singleflight.Group

	OnHit, OnMiss, OnInvalidate func()
}

func New(load Loader, ttl time.Duration) *Cache {
	return &Cache{
		load:    load,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*Entry),
		gen:     make(map[string]uint64),
	}
}

// Get returns the cached entry for id, loading it on a miss or after the
// TTL. Loader errors are returned unchanged and never cached.
func (c *Cache) Get(ctx context.Context, id string) (*Entry, error) {
	now := c.now()
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()
	if ok && now.Before(e.expires) {
		if c.OnHit != nil {
			c.OnHit()
		}
		return e, nil
	}
	if c.OnMiss != nil {
		c.OnMiss()
	}

	v, err, _ := c.group.Do(id, func() (any, error) {
		c.mu.RLock()
		gen, epoch := c.gen[id], c.epoch
		c.mu.RUnlock()

		d, err := c.load(ctx, id)
		if err != nil {
			return nil, err
		}
		e := &Entry{Definition: d, ETag: ETag(*d), expires: c.now().Add(c.ttl)}

		c.mu.Lock()
		// An invalidation or purge during the load means d may already be stale.
		if c.gen[id] == gen && c.epoch == epoch {
			c.entries[id] = e
		}
		c.mu.Unlock()
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Entry), nil
}

// Invalidate drops the entry for id.
func (c *Cache) Invalidate(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.gen[id]++
	c.mu.Unlock()
	c.group.Forget(id)
	if c.OnInvalidate != nil {
		c.OnInvalidate()
	}
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	c.epoch++
	c.entries = make(map[string]*Entry)
	c.mu.Unlock()
	if c.OnInvalidate != nil {
		c.OnInvalidate()
	}
}

// Len returns the number of cached entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Watch invalidates every id received on changes until the channel closes
// or ctx is done. An empty id purges the whole cache.
func (c *Cache) Watch(ctx context.Context, changes <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-changes:
			if !ok {
				return
			}
			if id == "" {
				c.Purge()
				continue
			}
			c.Invalidate(id)
		}
	}
}

// ETag returns a weak validator derived from the JSON form of d.
func ETag(d rules.Definition) string {
	blob, _ := json.Marshal(d)
	sum := sha256.Sum256(blob)
	return `W/"` + hex.EncodeToString(sum[:]) + `"`
}
