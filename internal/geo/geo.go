// Package geo resolves client addresses to a country and city.
package geo

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrUnknown is returned when an address cannot be located.
var ErrUnknown = errors.New("location unknown")

// Location is a resolved position. Country is an ISO 3166-1 alpha-2 code.
type Location struct {
	Country string `json:"country"`
	City    string `json:"city,omitempty"`
}

// Resolver looks up the location of an IP address.
type Resolver interface {
	Lookup(ctx context.Context, ip string) (Location, error)
}

// StaticResolver maps CIDR prefixes to locations. The first matching
// prefix wins.
type StaticResolver struct {
	ranges []staticRange
}

type staticRange struct {
	prefix netip.Prefix
	loc    Location
}

// ParseStaticRanges parses "10.0.0.0/8=US,192.168.0.0/16=DE:Berlin".
func ParseStaticRanges(s string) (*StaticResolver, error) {
	r := &StaticResolver{}
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		cidr, target, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("geo range %q: want CIDR=COUNTRY[:CITY]", entry)
		}
		prefix, err := netip.ParsePrefix(strings.TrimSpace(cidr))
		if err != nil {
			return nil, fmt.Errorf("geo range %q: %w", entry, err)
		}
		country, city, _ := strings.Cut(strings.TrimSpace(target), ":")
		country = strings.ToUpper(strings.TrimSpace(country))
		if len(country) != 2 {
			return nil, fmt.Errorf("geo range %q: country must be a two-letter code", entry)
		}
		r.ranges = append(r.ranges, staticRange{
			prefix: prefix.Masked(),
			loc:    Location{Country: country, City: strings.TrimSpace(city)},
		})
	}
	return r, nil
}

func (r *StaticResolver) Lookup(_ context.Context, ip string) (Location, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return Location{}, fmt.Errorf("%w: %q is not an address", ErrUnknown, ip)
	}
	addr = addr.Unmap()
	for _, rg := range r.ranges {
		if rg.prefix.Contains(addr) {
			return rg.loc, nil
		}
	}
	return Location{}, ErrUnknown
}

const maxCacheEntries = 100000

// CachedResolver memoizes lookups per address for a TTL and substitutes a
// default country when the underlying resolver fails. Lookup never returns
// an error.
type CachedResolver struct {
	next           Resolver
	ttl            time.Duration
	defaultCountry string
	now            func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
	group singleflight.Group

	OnHit, OnMiss func()
}

type cacheEntry struct {
	loc     Location
	expires time.Time
}

func NewCachedResolver(next Resolver, ttl time.Duration, defaultCountry string) *CachedResolver {
	return &CachedResolver{
		next:           next,
		ttl:            ttl,
		defaultCountry: strings.ToUpper(defaultCountry),
		now:            time.Now,
		cache:          make(map[string]cacheEntry),
	}
}

func (c *CachedResolver) Lookup(ctx context.Context, ip string) (Location, error) {
	now := c.now()
	c.mu.Lock()
	e, ok := c.cache[ip]
	c.mu.Unlock()
	if ok && now.Before(e.expires) {
		if c.OnHit != nil {
			c.OnHit()
		}
		return e.loc, nil
	}
	if c.OnMiss != nil {
		c.OnMiss()
	}

	v, _, _ := c.group.Do(ip, func() (any, error) {
		loc, err := c.next.Lookup(ctx, ip)
		if err != nil || loc.Country == "" {
			loc = Location{Country: c.defaultCountry}
		}
		c.store(ip, loc, now)
		return loc, nil
	})
	return v.(Location), nil
}

func (c *CachedResolver) store(ip string, loc Location, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.cache) >= maxCacheEntries {
		for k, e := range c.cache {
			if !now.Before(e.expires) {
				delete(c.cache, k)
			}
		}
		if len(c.cache) >= maxCacheEntries {
			c.cache = make(map[string]cacheEntry)
		}
	}
	c.cache[ip] = cacheEntry{loc: loc, expires: now.Add(c.ttl)}
}
