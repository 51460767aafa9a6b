package rates

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"finledger/internal/cache"
	"finledger/internal/core"
)

// Cached wraps a provider with a TTL-bounded LRU so repeated conversions for
// the same pair do not hit the remote endpoint.
type Cached struct {
	inner Provider
	lru   *cache.LRUCache[decimal.Decimal]
}

func NewCached(inner Provider, maxPairs int, ttl time.Duration) *Cached {
	return &Cached{
		inner: inner,
		lru:   cache.NewLRUCache[decimal.Decimal](maxPairs, ttl),
	}
}

func (c *Cached) Rate(ctx context.Context, from, to core.Currency) (decimal.Decimal, error) {
	key := pairKey(from, to)
	if r, ok := c.lru.Get(key); ok {
		return r, nil
	}
	r, err := c.inner.Rate(ctx, from, to)
	if err != nil {
		return decimal.Decimal{}, err
	}
	c.lru.Set(key, r)
	return r, nil
}

// Refresh re-fetches the given pairs, replacing any cached values. Used by
// the worker's periodic warm-up; individual pair failures are skipped so one
// bad pair does not block the rest.
func (c *Cached) Refresh(ctx context.Context, pairs [][2]core.Currency) (refreshed int) {
	for _, p := range pairs {
		r, err := c.inner.Rate(ctx, p[0], p[1])
		if err != nil {
			continue
		}
		c.lru.Set(pairKey(p[0], p[1]), r)
		refreshed++
	}
	return refreshed
}

// CleanExpired implements cache.Cleaner.
func (c *Cached) CleanExpired() int {
	return c.lru.CleanExpired()
}
