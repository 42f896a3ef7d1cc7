package geo

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTimeout         = 50 * time.Millisecond
	DefaultCacheSize       = 10000
	DefaultCacheTTL        = time.Minute
	DefaultBreakerFailures = 10
	DefaultBreakerTimeout  = 10 * time.Second
)

// LocatorOptions configure the Locator. Zero values fall back to the
// defaults above, a negative CacheSize disables caching.
type LocatorOptions struct {
	Timeout         time.Duration `yaml:"timeout"`
	CacheSize       int           `yaml:"cache-size"`
	CacheTTL        time.Duration `yaml:"cache-ttl"`
	BreakerFailures int           `yaml:"breaker-failures"`
	BreakerTimeout  time.Duration `yaml:"breaker-timeout"`
}

// Locator guards a Provider. Lookups that time out, fail or hit an
// open breaker return an error instead of blocking, and callers fall
// back to their configured miss location.
type Locator struct {
	provider Provider
	timeout  time.Duration
	cache    *expirable.LRU[netip.Addr, *Geolocation]
	group    singleflight.Group
	breaker  *gobreaker.CircuitBreaker
}

func (o LocatorOptions) withDefaults() LocatorOptions {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}

	if o.CacheSize == 0 {
		o.CacheSize = DefaultCacheSize
	}

	if o.CacheTTL <= 0 {
		o.CacheTTL = DefaultCacheTTL
	}

	if o.BreakerFailures <= 0 {
		o.BreakerFailures = DefaultBreakerFailures
	}

	if o.BreakerTimeout <= 0 {
		o.BreakerTimeout = DefaultBreakerTimeout
	}

	return o
}

// NewLocator wraps p. When p is nil, every lookup fails with
// ErrNotFound.
func NewLocator(p Provider, o LocatorOptions) *Locator {
	o = o.withDefaults()
	l := &Locator{provider: p, timeout: o.Timeout}
	if o.CacheSize > 0 {
		l.cache = expirable.NewLRU[netip.Addr, *Geolocation](o.CacheSize, nil, o.CacheTTL)
	}

	failures := uint32(o.BreakerFailures)
	l.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "geolocation",
		Timeout: o.BreakerTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnf("%s provider circuit breaker changed from %s to %s", name, from, to)
		},
	})

	return l
}

// Locate resolves addr. A nil location with a nil error means the
// provider has no data for the address.
func (l *Locator) Locate(ctx context.Context, addr netip.Addr) (*Geolocation, error) {
	if l == nil || l.provider == nil {
		return nil, ErrNotFound
	}

	addr = addr.Unmap()
	if l.cache != nil {
		if loc, ok := l.cache.Get(addr); ok {
			return loc, nil
		}
	}

	v, err, _ := l.group.Do(addr.String(), func() (interface{}, error) {
		return l.breaker.Execute(func() (interface{}, error) {
			return l.lookup(ctx, addr)
		})
	})

	if errors.Is(err, ErrNotFound) {
		if l.cache != nil {
			l.cache.Add(addr, nil)
		}

		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to locate %s: %w", addr, err)
	}

	loc, _ := v.(*Geolocation)
	if l.cache != nil {
		l.cache.Add(addr, loc)
	}

	return loc, nil
}

func (l *Locator) lookup(ctx context.Context, addr netip.Addr) (*Geolocation, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	type result struct {
		loc *Geolocation
		err error
	}

	done := make(chan result, 1)
	go func() {
		loc, err := l.provider.Locate(ctx, addr)
		done <- result{loc, err}
	}()

	select {
	case r := <-done:
		return r.loc, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
