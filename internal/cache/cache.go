// Package cache is a single-process expiring key/value store backed by
// jellydator/ttlcache.
package cache

import (
	"context"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Cache maps string keys to values that expire after a TTL. Reads never
// extend an entry's lifetime; expired entries are dropped on Get and
// periodically by Run.
type Cache[V any] struct {
	items      *ttlcache.Cache[string, V]
	defaultTTL time.Duration
}

// New creates a cache whose Set uses defaultTTL.
func New[V any](defaultTTL time.Duration) *Cache[V] {
	return &Cache[V]{
		items: ttlcache.New[string, V](
			ttlcache.WithTTL[string, V](defaultTTL),
			ttlcache.WithDisableTouchOnHit[string, V](),
		),
		defaultTTL: defaultTTL,
	}
}

// Get returns the value stored under key if it has not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	// ttlcache hides expired items from Get but keeps them until swept.
	item := c.items.Get(key)
	if item == nil || item.IsExpired() {
		c.items.Delete(key)
		return zero, false
	}
	return item.Value(), true
}

// Set stores value under key with the default TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.SetTTL(key, value, c.defaultTTL)
}

// SetTTL stores value under key for ttl.
func (c *Cache[V]) SetTTL(key string, value V, ttl time.Duration) {
	c.items.Set(key, value, ttl)
}

// GetOrLoad returns the cached value for key, calling load and caching its
// result on a miss. Errors from load are returned and not cached.
func (c *Cache[V]) GetOrLoad(key string, ttl time.Duration, load func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return v, err
	}
	c.SetTTL(key, v, ttl)
	return v, nil
}

// Delete removes key.
func (c *Cache[V]) Delete(key string) {
	c.items.Delete(key)
}

// DeletePrefix removes every key starting with prefix and returns how many
// were removed.
func (c *Cache[V]) DeletePrefix(prefix string) int {
	removed := 0
	for _, k := range c.items.Keys() {
		if strings.HasPrefix(k, prefix) {
			c.items.Delete(k)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (c *Cache[V]) Len() int {
	return c.items.Len()
}

// Sweep drops all expired entries and returns how many were removed.
func (c *Cache[V]) Sweep() int {
	before := c.items.Len()
	c.items.DeleteExpired()
	if n := before - c.items.Len(); n > 0 {
		return n
	}
	return 0
}

// Run sweeps expired entries every interval until ctx is cancelled.
func (c *Cache[V]) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}
