package storage

import (
	"context"
	"time"

	"image-audit/pkg/models"
)

// RegistryStore persists (content location, image URL) associations
type RegistryStore interface {
	// GetEntry fetches the entry matching the full composite key
	// (contentType, contentId, contentUrl, imageUrl). A nil contentId or
	// empty contentUrl matches only the same literal value.
	// Returns nil (no error) when no entry exists.
	GetEntry(loc models.ContentLocation, imageURL string) (*models.RegistryEntry, error)

	// PutEntry inserts or updates the entry at its composite key. A new entry
	// is assigned a monotonic ID; updates keep the existing ID.
	// The write is atomic: a concurrent Put of the same key resolves to
	// last-writer-wins rather than a duplicate row.
	PutEntry(entry *models.RegistryEntry) error

	// ListEntries returns the entries for one location, optionally only
	// active ones.
	ListEntries(loc models.ContentLocation, activeOnly bool) ([]*models.RegistryEntry, error)

	// MarkInactive soft-retires every entry of the location whose image URL
	// is NOT in keepURLs, refreshing lastScanned on the retired rows.
	// Returns the number of entries retired.
	MarkInactive(loc models.ContentLocation, keepURLs map[string]struct{}, now time.Time) (int, error)

	// PurgeStaleEntries hard-deletes inactive entries last scanned before the
	// cutoff. Returns the number deleted.
	PurgeStaleEntries(cutoff time.Time) (int, error)

	// IterateEntries calls fn for every registry entry. Used by the stats
	// aggregator; fn returning an error stops iteration.
	IterateEntries(fn func(*models.RegistryEntry) error) error
}

// LocatorCache persists URL-to-resource resolution results keyed by URL hash
type LocatorCache interface {
	// GetCacheEntry returns the cached resolution for a URL key, nil when the
	// URL has never been resolved.
	GetCacheEntry(urlKey string) (*models.LocatorCacheEntry, error)

	// PutCacheEntry stores a resolution result (including confirmed
	// non-matches with a nil resource id).
	PutCacheEntry(urlKey string, entry *models.LocatorCacheEntry) error

	// PurgeUnverifiedCache deletes cache entries not verified since the
	// cutoff. Returns the number deleted.
	PurgeUnverifiedCache(cutoff time.Time) (int, error)
}

// StatusStore persists one scan status row per content location
type StatusStore interface {
	// GetScanStatus returns the status row for a location, nil when the
	// location has never been scanned.
	GetScanStatus(loc models.ContentLocation) (*models.ScanStatus, error)

	// PutScanStatus inserts or replaces the location's status row.
	PutScanStatus(status *models.ScanStatus) error

	// ListStuckScans returns rows still pending/scanning whose lastScanned is
	// older than the cutoff.
	ListStuckScans(cutoff time.Time) ([]*models.ScanStatus, error)
}

// StatsCache is a small key -> JSON blob cache with expiry for the aggregator
type StatsCache interface {
	// GetStats returns the cached payload and whether it was present and
	// unexpired.
	GetStats(key string) ([]byte, bool, error)

	// PutStats stores a payload with a TTL.
	PutStats(key string, payload []byte, ttl time.Duration) error
}

// LockStore provides short-lived advisory locks keyed by content item
type LockStore interface {
	// AcquireLock atomically claims the key for the given token with a TTL.
	// Returns false when another unexpired token holds the key.
	AcquireLock(key, token string, ttl time.Duration) (bool, error)

	// ReleaseLock drops the lock if (and only if) the token still holds it.
	ReleaseLock(key, token string) error
}

// StoreAdmin handles lifecycle and administrative operations
type StoreAdmin interface {
	// RunGC runs periodic value-log garbage collection. Should be run in a
	// goroutine.
	RunGC(ctx context.Context, interval time.Duration)

	// Close cleanly closes the database.
	Close() error
}

// AuditStore combines all store interfaces for components that need full access
type AuditStore interface {
	RegistryStore
	LocatorCache
	StatusStore
	StatsCache
	LockStore
	StoreAdmin
}
