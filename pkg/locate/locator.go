// Package locate resolves image URLs to internal media resources, memoizing
// every outcome in a persistent cache so the expensive filename/title
// fallback search runs at most once per distinct URL.
package locate

import (
	"context"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"image-audit/pkg/content"
	"image-audit/pkg/metrics"
	"image-audit/pkg/models"
	"image-audit/pkg/parse"
	"image-audit/pkg/storage"
	"image-audit/pkg/utils"
)

// Locator maps image URLs to media resource ids
type Locator struct {
	cache storage.LocatorCache
	media content.MediaLibrary
	log   *logrus.Entry
}

// NewLocator creates a resource locator over the given cache and media library
func NewLocator(cache storage.LocatorCache, media content.MediaLibrary, log *logrus.Entry) *Locator {
	metrics.Init()
	return &Locator{cache: cache, media: media, log: log}
}

// Resolve returns the internal resource id for an image URL, or nil when the
// image is external or unknown. A nil result is a valid terminal state and is
// cached like any other: resolving the same URL again returns the cached
// answer without re-running the media library searches.
// Empty or malformed URLs short-circuit to nil without touching the cache.
func (l *Locator) Resolve(ctx context.Context, imageURL string) (*int64, error) {
	imageURL = strings.TrimSpace(imageURL)
	if imageURL == "" || !parse.IsImageURL(imageURL) {
		return nil, nil
	}
	normURL := parse.NormalizeImageURL(imageURL)
	urlKey := utils.HashURLKey(normURL)

	cached, err := l.cache.GetCacheEntry(urlKey)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		cached.VerificationCount++
		cached.LastVerified = time.Now()
		if errPut := l.cache.PutCacheEntry(urlKey, cached); errPut != nil {
			// A failed counter refresh does not invalidate the cached answer
			l.log.Warnf("Failed to refresh locator cache entry for '%s': %v", normURL, errPut)
		}
		metrics.LocatorResolutions.WithLabelValues("cache_hit").Inc()
		return cached.ResourceID, nil
	}

	resourceID, err := l.lookup(ctx, normURL)
	if err != nil {
		// Infrastructure failure: do not cache, the next attempt may succeed
		metrics.LocatorResolutions.WithLabelValues("error").Inc()
		return nil, utils.WrapErrorf(utils.ErrResolution, "resolving '%s': %v", normURL, err)
	}
	if resourceID != nil {
		metrics.LocatorResolutions.WithLabelValues("resolved").Inc()
	} else {
		metrics.LocatorResolutions.WithLabelValues("unmatched").Inc()
	}

	// Cache the outcome either way; a confirmed non-match (nil) is exactly
	// what saves repeated fallback searches for external images.
	entry := &models.LocatorCacheEntry{
		URL:               normURL,
		ResourceID:        resourceID,
		LastVerified:      time.Now(),
		VerificationCount: 1,
	}
	if errPut := l.cache.PutCacheEntry(urlKey, entry); errPut != nil {
		l.log.Warnf("Failed to store locator cache entry for '%s': %v", normURL, errPut)
	}
	return resourceID, nil
}

// lookup runs the uncached resolution chain: native URL-to-id mapping, then
// exact attached-file match on the basename, then partial title match on the
// basename without its extension.
func (l *Locator) lookup(ctx context.Context, normURL string) (*int64, error) {
	if id, ok, err := l.media.ResolveURL(ctx, normURL); err != nil {
		return nil, err
	} else if ok {
		return &id, nil
	}

	basename := urlBasename(normURL)
	if basename == "" {
		return nil, nil
	}

	if id, ok, err := l.media.FindByFile(ctx, basename); err != nil {
		return nil, err
	} else if ok {
		l.log.Debugf("Resolved '%s' via attached-file match on '%s'", normURL, basename)
		return &id, nil
	}

	title := strings.TrimSuffix(basename, path.Ext(basename))
	if id, ok, err := l.media.FindByTitle(ctx, title); err != nil {
		return nil, err
	} else if ok {
		l.log.Debugf("Resolved '%s' via title match on '%s'", normURL, title)
		return &id, nil
	}

	return nil, nil
}

// Prime seeds the cache with a resolution an extractor already knows (e.g. a
// managed-id marker embedded in markup), so the fallback search never runs
// for that URL. An existing cache entry is left untouched.
func (l *Locator) Prime(imageURL string, resourceID int64) {
	imageURL = strings.TrimSpace(imageURL)
	if imageURL == "" || !parse.IsImageURL(imageURL) {
		return
	}
	normURL := parse.NormalizeImageURL(imageURL)
	urlKey := utils.HashURLKey(normURL)

	existing, err := l.cache.GetCacheEntry(urlKey)
	if err != nil || existing != nil {
		return
	}
	entry := &models.LocatorCacheEntry{
		URL:               normURL,
		ResourceID:        &resourceID,
		LastVerified:      time.Now(),
		VerificationCount: 1,
	}
	if errPut := l.cache.PutCacheEntry(urlKey, entry); errPut != nil {
		l.log.Warnf("Failed to prime locator cache for '%s': %v", normURL, errPut)
	}
}

// Purge deletes cache entries not verified within the retention window and
// returns how many were removed
func (l *Locator) Purge(retention time.Duration) (int, error) {
	return l.cache.PurgeUnverifiedCache(time.Now().Add(-retention))
}

// urlBasename extracts the path basename of an image URL, ignoring query
// strings
func urlBasename(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" {
		return ""
	}
	return base
}
