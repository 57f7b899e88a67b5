// Package registry maintains the deduplicated record of every image found at
// every content location. The composite key (location, image URL) makes
// repeated scans idempotent: re-finding an image updates its row in place,
// and images a rescan no longer finds are soft-retired rather than deleted.
package registry

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"image-audit/pkg/content"
	"image-audit/pkg/locate"
	"image-audit/pkg/models"
	"image-audit/pkg/parse"
	"image-audit/pkg/storage"
	"image-audit/pkg/utils"
)

// Registry is the image registry service
type Registry struct {
	store   storage.RegistryStore
	locator *locate.Locator
	media   content.MediaLibrary
	cache   *readCache
	log     *logrus.Entry
}

// NewRegistry creates a registry over the given store and locator
func NewRegistry(store storage.RegistryStore, locator *locate.Locator, media content.MediaLibrary, log *logrus.Entry) *Registry {
	return &Registry{
		store:   store,
		locator: locator,
		media:   media,
		cache:   newReadCache(),
		log:     log,
	}
}

// Upsert records one found image at a location. Returns the entry id and true
// when the image was recorded; (0, false) with no error when the reference is
// skipped as invalid. An existing entry for the same (location, image URL) is
// updated in place, reactivated if it had been retired, and keeps its id.
func (r *Registry) Upsert(ctx context.Context, loc models.ContentLocation, ref models.ImageReference) (uint64, bool, error) {
	imageURL := strings.TrimSpace(ref.URL)
	if imageURL == "" || !parse.IsImageURL(imageURL) {
		r.log.WithFields(logrus.Fields{
			"location":  loc.String(),
			"image_url": ref.URL,
		}).Debug("Skipping image reference with invalid URL")
		return 0, false, nil
	}
	imageURL = parse.NormalizeImageURL(imageURL)

	resourceID, err := r.resolveResource(ctx, imageURL, ref.ResourceID)
	if err != nil {
		return 0, false, err
	}

	altText := ref.AltText
	if !models.HasAlt(altText) && resourceID != nil {
		// The markup carried no alt text; the media resource itself may.
		if media, errGet := r.media.Get(ctx, *resourceID); errGet != nil {
			return 0, false, utils.WrapErrorf(utils.ErrContentStore, "loading media %d: %v", *resourceID, errGet)
		} else if media != nil {
			altText = media.AltText
		}
	}

	now := time.Now()
	entry, err := r.store.GetEntry(loc, imageURL)
	if err != nil {
		return 0, false, err
	}
	if entry == nil {
		entry = &models.RegistryEntry{
			ContentType: loc.ContentType,
			ContentID:   loc.ContentID,
			ContentURL:  loc.ContentURL,
			ImageURL:    imageURL,
		}
	}

	entry.Context = ref.Context
	entry.SourceTag = ref.SourceTag
	entry.ResourceID = resourceID
	entry.AltText = altText
	entry.HasAltText = models.HasAlt(altText)
	entry.Title = ref.Title
	entry.Width = ref.Width
	entry.Height = ref.Height
	entry.LastScanned = now
	entry.IsActive = true

	if err := r.store.PutEntry(entry); err != nil {
		return 0, false, err
	}
	r.cache.Clear()
	return entry.ID, true, nil
}

// resolveResource maps the image URL to an internal media id, preferring the
// extractor's hint and seeding the locator cache with it
func (r *Registry) resolveResource(ctx context.Context, imageURL string, hint int64) (*int64, error) {
	if hint > 0 {
		r.locator.Prime(imageURL, hint)
		id := hint
		return &id, nil
	}
	return r.locator.Resolve(ctx, imageURL)
}

// GetForLocation returns the entries recorded for a location. Results are
// served from the request-scoped read cache when available.
func (r *Registry) GetForLocation(loc models.ContentLocation, activeOnly bool) ([]*models.RegistryEntry, error) {
	if entries, found := r.cache.Get(loc, activeOnly); found {
		return entries, nil
	}
	entries, err := r.store.ListEntries(loc, activeOnly)
	if err != nil {
		return nil, err
	}
	r.cache.Set(loc, activeOnly, entries)
	return entries, nil
}

// Reconcile soft-retires every entry of the location whose image URL was not
// found in the current pass. Call it only after all of the pass's upserts for
// the location have committed. Returns the number of entries retired.
func (r *Registry) Reconcile(loc models.ContentLocation, foundURLs map[string]struct{}) (int, error) {
	retired, err := r.store.MarkInactive(loc, foundURLs, time.Now())
	if err != nil {
		return 0, err
	}
	if retired > 0 {
		r.cache.Clear()
		r.log.WithFields(logrus.Fields{
			"location": loc.String(),
			"retired":  retired,
		}).Debug("Retired registry entries no longer present")
	}
	return retired, nil
}

// PurgeStale hard-deletes inactive entries outside the retention window and
// returns how many were removed
func (r *Registry) PurgeStale(retention time.Duration) (int, error) {
	deleted, err := r.store.PurgeStaleEntries(time.Now().Add(-retention))
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		r.cache.Clear()
	}
	return deleted, nil
}

// ResetCache drops the read cache. The orchestrator calls this at scan-pass
// boundaries so a pass never observes the previous pass's lists.
func (r *Registry) ResetCache() {
	r.cache.Clear()
}
