package fx

import (
	"context"
	"strings"
	"time"

	"accantona/internal/cache"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// Cached memoizes another RateSource per currency pair. Concurrent misses
// for the same pair share one upstream call.
type Cached struct {
	source RateSource
	rates  *cache.LRUCache[decimal.Decimal]
	group  singleflight.Group
}

func NewCached(source RateSource, ttl time.Duration, maxPairs int) *Cached {
	return &Cached{
		source: source,
		rates:  cache.NewLRUCache[decimal.Decimal](maxPairs, ttl),
	}
}

func (c *Cached) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	key := from + ":" + to
	if r, ok := c.rates.Get(key); ok {
		return r, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		r, err := c.source.Rate(ctx, from, to)
		if err != nil {
			return decimal.Zero, err
		}
		c.rates.Set(key, r)
		return r, nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return v.(decimal.Decimal), nil
}

// Cache exposes the underlying LRU so it can be registered with a
// cache.Manager for periodic cleanup.
func (c *Cached) Cache() cache.Cleaner {
	return c.rates
}
