package registry

import (
	"sync"

	"image-audit/pkg/models"
)

// readCache caches per-location entry lists for the lifetime of one request
// or scan pass, so repeated lookups against the same location hit the store
// once. It is invalidated wholesale on any write.
type readCache struct {
	mu      sync.RWMutex
	entries map[string][]*models.RegistryEntry
}

func newReadCache() *readCache {
	return &readCache{
		entries: make(map[string][]*models.RegistryEntry),
	}
}

func cacheKey(loc models.ContentLocation, activeOnly bool) string {
	if activeOnly {
		return loc.Key() + "\x1factive"
	}
	return loc.Key() + "\x1fall"
}

// Get returns the cached list for a location, and whether it was present
func (c *readCache) Get(loc models.ContentLocation, activeOnly bool) ([]*models.RegistryEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entries, found := c.entries[cacheKey(loc, activeOnly)]
	return entries, found
}

// Set stores the list for a location
func (c *readCache) Set(loc models.ContentLocation, activeOnly bool, entries []*models.RegistryEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(loc, activeOnly)] = entries
}

// Clear drops everything
func (c *readCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string][]*models.RegistryEntry)
}

// Size returns the number of cached lists
func (c *readCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
