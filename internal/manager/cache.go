// internal/manager/cache.go
package manager

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type cachedComparison struct {
	value     *ProtocolComparison
	expiresAt time.Time
}

// rateCache — опциональный TTL-кэш сравнений ставок. Concurrent misses for
// the same asset share one fan-out.
type rateCache struct {
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu      sync.Mutex
	entries map[string]cachedComparison
}

func newRateCache(ttl time.Duration, now func() time.Time) *rateCache {
	return &rateCache{ttl: ttl, now: now, entries: make(map[string]cachedComparison)}
}

func (c *rateCache) get(ctx context.Context, asset string, load func(context.Context) (*ProtocolComparison, error)) (*ProtocolComparison, error) {
	if c.ttl <= 0 {
		return load(ctx)
	}

	c.mu.Lock()
	entry, ok := c.entries[asset]
	c.mu.Unlock()
	if ok && c.now().Before(entry.expiresAt) {
		return entry.value, nil
	}

	v, err, _ := c.group.Do(asset, func() (interface{}, error) {
		cmp, err := load(ctx)
		if err != nil {
			return nil, err
		}
		// partial answers are not cached
		if len(cmp.Failures) == 0 {
			c.mu.Lock()
			c.entries[asset] = cachedComparison{value: cmp, expiresAt: c.now().Add(c.ttl)}
			c.mu.Unlock()
		}
		return cmp, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ProtocolComparison), nil
}
