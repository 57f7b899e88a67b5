// Package extract implements the source extractors: one strategy per content
// representation (rendered HTML, page-builder payloads, serialized blocks,
// custom fields, widgets, theme assets). Extractors are resilient by
// contract: absent or malformed input yields an empty list, never an error.
package extract

import (
	"context"

	"github.com/sirupsen/logrus"

	"image-audit/pkg/config"
	"image-audit/pkg/content"
	"image-audit/pkg/models"
	"image-audit/pkg/parse"
)

// Extractor finds images within one specific content representation
type Extractor interface {
	// Name identifies the extractor in logs and source tags
	Name() string

	// Supports reports whether the item carries this extractor's content
	// shape (e.g. the builder's payload meta key is present)
	Supports(item *content.Item) bool

	// Extract returns the images found in the item. Missing or malformed
	// data yields an empty list; only infrastructure failures (media
	// library, context cancellation) return an error.
	Extract(ctx context.Context, item *content.Item) ([]models.ImageReference, error)
}

// Set is the ordered extractor list the orchestrator runs per content item.
// Order matters for the dedup tie-break: the first extractor to report a URL
// owns its context and source tag, so the specific extractors (builders,
// content markup) run before the generic fallbacks (custom fields).
type Set struct {
	extractors []Extractor
	log        *logrus.Entry
}

// NewSet builds the enabled extractors in their fixed order
func NewSet(cfg config.AppConfig, media content.MediaLibrary, log *logrus.Entry) *Set {
	var extractors []Extractor

	if cfg.Extractors.ElementorEnabled() {
		extractors = append(extractors, NewElementorExtractor(media, cfg.MaxWalkDepth, log))
	}
	if cfg.Extractors.BeaverEnabled() {
		extractors = append(extractors, NewBeaverExtractor(media, cfg.MaxWalkDepth, log))
	}
	if cfg.Extractors.ShortcodesEnabled() {
		extractors = append(extractors, NewShortcodeExtractor(media, log))
	}
	if cfg.Extractors.BlocksEnabled() {
		extractors = append(extractors, NewBlockExtractor(media, cfg.MaxWalkDepth, log))
	}
	if cfg.Extractors.ContentEnabled() {
		extractors = append(extractors, NewContentExtractor(cfg.Extractors.ScanStylesEnabled(), log))
	}
	if cfg.Extractors.CustomFieldsEnabled() {
		extractors = append(extractors, NewMetaExtractor(media, cfg.MaxWalkDepth, cfg.MetaKeyAllowList, log))
	}

	return &Set{extractors: extractors, log: log}
}

// Names returns the enabled extractor names in run order
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.extractors))
	for _, e := range s.extractors {
		names = append(names, e.Name())
	}
	return names
}

// Extract runs every supporting extractor against the item and merges the
// results, deduplicating by normalized image URL. The first extractor to
// report a URL wins; later duplicates are dropped.
func (s *Set) Extract(ctx context.Context, item *content.Item) ([]models.ImageReference, error) {
	var merged []models.ImageReference
	seen := make(map[string]struct{})

	for _, e := range s.extractors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.Supports(item) {
			continue
		}

		refs, err := e.Extract(ctx, item)
		if err != nil {
			return nil, err
		}
		for _, ref := range refs {
			if !parse.IsImageURL(ref.URL) {
				continue // Validation is a skip, never a failure
			}
			normURL := parse.NormalizeImageURL(ref.URL)
			if _, dup := seen[normURL]; dup {
				continue
			}
			seen[normURL] = struct{}{}
			ref.URL = normURL
			merged = append(merged, ref)
		}
	}

	return merged, nil
}
