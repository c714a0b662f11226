// Package cache provides a small tenant-scoped TTL cache for definition lookups.
package cache

import (
	"strings"
	"sync"
	"time"
)

type entry[V any] struct {
	value   V
	expires time.Time
}

// TTL caches values per tenant and query key. Entries expire after ttl and can
// be dropped per tenant when definitions change.
type TTL[V any] struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]entry[V]
	now     func() time.Time
}

func NewTTL[V any](ttl time.Duration) *TTL[V] {
	return &TTL[V]{ttl: ttl, entries: map[string]entry[V]{}, now: time.Now}
}

func key(tenantID, query string) string {
	return tenantID + "\x00" + query
}

func (c *TTL[V]) Get(tenantID, query string) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key(tenantID, query)]
	c.mu.RUnlock()

	if !ok || !c.now().Before(e.expires) {
		var zero V

		return zero, false
	}

	return e.value, true
}

func (c *TTL[V]) Set(tenantID, query string, value V) {
	if c.ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key(tenantID, query)] = entry[V]{value: value, expires: c.now().Add(c.ttl)}
}

// GetOrLoad returns the cached value or stores the result of load.
func (c *TTL[V]) GetOrLoad(tenantID, query string, load func() (V, error)) (V, error) {
	if v, ok := c.Get(tenantID, query); ok {
		return v, nil
	}

	v, err := load()
	if err != nil {
		return v, err
	}

	c.Set(tenantID, query, v)

	return v, nil
}

// InvalidateTenant drops every entry of tenantID.
func (c *TTL[V]) InvalidateTenant(tenantID string) {
	prefix := tenantID + "\x00"

	c.mu.Lock()
	defer c.mu.Unlock()

	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
}

func (c *TTL[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	clear(c.entries)
}

func (c *TTL[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}
