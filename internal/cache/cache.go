// Package cache provides the shared map-with-expiry primitive used by the
// token resolver and the wallet validator. Loads are single-flight: concurrent
// misses on the same key share one upstream call.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is a TTL cache keyed by string.
type Cache[V any] struct {
	ttl time.Duration

	mu      sync.RWMutex
	entries map[string]entry[V]
	sf      singleflight.Group

	// now is swappable for tests.
	now func() time.Time
}

func New[V any](ttl time.Duration) *Cache[V] {
	return &Cache[V]{
		ttl:     ttl,
		entries: make(map[string]entry[V]),
		now:     time.Now,
	}
}

// Get returns the cached value if present and unexpired.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.now().After(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores a value with the default TTL.
func (c *Cache[V]) Set(key string, v V) {
	c.SetTTL(key, v, c.ttl)
}

// SetTTL stores a value with an explicit TTL, used for negative caching.
func (c *Cache[V]) SetTTL(key string, v V, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = entry[V]{value: v, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}

// Invalidate drops a key.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// GetOrLoad returns the cached value or loads it, collapsing concurrent loads
// of the same key into one call. Load errors are not cached; callers that
// want negative caching call SetTTL themselves.
func (c *Cache[V]) GetOrLoad(ctx context.Context, key string, load func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err, _ := c.sf.Do(key, func() (any, error) {
		// Re-check: another flight may have populated the key while we queued.
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

// SetNowFunc overrides the clock; tests only.
func (c *Cache[V]) SetNowFunc(now func() time.Time) {
	c.now = now
}
