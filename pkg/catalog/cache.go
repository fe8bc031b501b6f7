package catalog

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// Cache holds resolved identifiers with a TTL.
type Cache struct {
	items *cache.Cache
}

// NewCache creates a cache whose entries expire after ttl.
// A non-positive ttl keeps entries until invalidated.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		return &Cache{items: cache.New(cache.NoExpiration, 0)}
	}
	return &Cache{items: cache.New(ttl, ttl*2)}
}

// Get returns the cached canonical identifier for id.
func (c *Cache) Get(id string) (string, bool) {
	v, ok := c.items.Get(id)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Set caches a canonical identifier with the default TTL.
func (c *Cache) Set(id, canonical string) {
	c.items.Set(id, canonical, cache.DefaultExpiration)
}

// Invalidate removes one identifier.
func (c *Cache) Invalidate(id string) {
	c.items.Delete(id)
}

// Flush removes every entry.
func (c *Cache) Flush() {
	c.items.Flush()
}

// Len returns the number of cached entries, including expired entries not
// yet cleaned up.
func (c *Cache) Len() int {
	return c.items.ItemCount()
}
