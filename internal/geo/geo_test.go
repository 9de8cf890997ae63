package geo

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestParseStaticRanges(t *testing.T) {
	r, err := ParseStaticRanges("10.0.0.0/8=us, 192.168.1.0/24=DE:Berlin, 2001:db8::/32=FR")
	if err != nil {
		t.Fatalf("ParseStaticRanges() = %v", err)
	}

	tests := []struct {
		ip   string
		want Location
		err  bool
	}{
		{ip: "10.2.3.4", want: Location{Country: "US"}},
		{ip: "192.168.1.9", want: Location{Country: "DE", City: "Berlin"}},
		{ip: "::ffff:10.0.0.1", want: Location{Country: "US"}},
		{ip: "2001:db8::1", want: Location{Country: "FR"}},
		{ip: "8.8.8.8", err: true},
		{ip: "garbage", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			got, err := r.Lookup(context.Background(), tt.ip)
			if tt.err {
				if !errors.Is(err, ErrUnknown) {
					t.Fatalf("Lookup() error = %v, want ErrUnknown", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("Lookup() = %+v, %v; want %+v", got, err, tt.want)
			}
		})
	}
}

func TestParseStaticRanges_Errors(t *testing.T) {
	for _, bad := range []string{"10.0.0.0/8", "nope=US", "10.0.0.0/8=USA"} {
		if _, err := ParseStaticRanges(bad); err == nil {
			t.Errorf("ParseStaticRanges(%q) succeeded, want error", bad)
		}
	}
	if r, err := ParseStaticRanges(""); err != nil || len(r.ranges) != 0 {
		t.Errorf("empty ranges = %v, %v", r, err)
	}
}

type countingResolver struct {
	calls atomic.Int32
	loc   Location
	err   error
	delay time.Duration
}

func (c *countingResolver) Lookup(context.Context, string) (Location, error) {
	c.calls.Add(1)
	time.Sleep(c.delay)
	return c.loc, c.err
}

func TestCachedResolver_CachesAndExpires(t *testing.T) {
	next := &countingResolver{loc: Location{Country: "CA"}}
	c := NewCachedResolver(next, time.Hour, "US")
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	var hits, misses int
	c.OnHit = func() { hits++ }
	c.OnMiss = func() { misses++ }

	for i := 0; i < 3; i++ {
		loc, err := c.Lookup(context.Background(), "1.2.3.4")
		if err != nil || loc.Country != "CA" {
			t.Fatalf("Lookup() = %+v, %v", loc, err)
		}
	}
	if next.calls.Load() != 1 || hits != 2 || misses != 1 {
		t.Errorf("calls=%d hits=%d misses=%d", next.calls.Load(), hits, misses)
	}

	now = now.Add(2 * time.Hour)
	_, _ = c.Lookup(context.Background(), "1.2.3.4")
	if next.calls.Load() != 2 {
		t.Errorf("expected a new lookup after expiry, calls=%d", next.calls.Load())
	}
}

func TestCachedResolver_DefaultCountry(t *testing.T) {
	c := NewCachedResolver(&countingResolver{err: ErrUnknown}, time.Hour, "us")
	loc, err := c.Lookup(context.Background(), "8.8.8.8")
	if err != nil || loc.Country != "US" {
		t.Fatalf("Lookup() = %+v, %v; want default US", loc, err)
	}

	empty := NewCachedResolver(&countingResolver{loc: Location{City: "Nowhere"}}, time.Hour, "GB")
	if loc, _ := empty.Lookup(context.Background(), "8.8.8.8"); loc.Country != "GB" {
		t.Fatalf("empty country = %+v, want GB", loc)
	}
}

func TestCachedResolver_SingleFlight(t *testing.T) {
	next := &countingResolver{loc: Location{Country: "NL"}, delay: 50 * time.Millisecond}
	c := NewCachedResolver(next, time.Hour, "US")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Lookup(context.Background(), "5.6.7.8")
		}()
	}
	wg.Wait()
	if n := next.calls.Load(); n != 1 {
		t.Errorf("underlying resolver called %d times, want 1", n)
	}
}
