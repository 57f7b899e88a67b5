package extract

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"

	"image-audit/pkg/content"
	"image-audit/pkg/models"
)

// elementorMetaKey is where the builder stores its layout payload
const elementorMetaKey = "_elementor_data"

// ElementorExtractor walks the builder's nested JSON element tree: an array
// of elements, each with a settings object and a child elements array.
type ElementorExtractor struct {
	media    content.MediaLibrary
	maxDepth int
	log      *logrus.Entry
}

// NewElementorExtractor creates the Elementor payload extractor
func NewElementorExtractor(media content.MediaLibrary, maxDepth int, log *logrus.Entry) *ElementorExtractor {
	return &ElementorExtractor{media: media, maxDepth: maxDepth, log: log}
}

// Name implements the Extractor interface
func (e *ElementorExtractor) Name() string { return "elementor" }

// Supports implements the Extractor interface
func (e *ElementorExtractor) Supports(item *content.Item) bool {
	return item.Meta[elementorMetaKey] != ""
}

// Extract implements the Extractor interface
func (e *ElementorExtractor) Extract(ctx context.Context, item *content.Item) ([]models.ImageReference, error) {
	raw := item.Meta[elementorMetaKey]

	var elements []interface{}
	if err := json.Unmarshal([]byte(raw), &elements); err != nil {
		// Malformed payloads happen when the builder was deactivated mid-save
		e.log.Debugf("Item %d: unparseable elementor payload: %v", item.ID, err)
		return nil, nil
	}

	scanner := &fieldScanner{
		media:     e.media,
		maxDepth:  e.maxDepth,
		context:   models.ContextPageBuilder,
		sourceTag: "elementor",
	}

	var refs []models.ImageReference
	if err := e.walkElements(ctx, elements, 0, scanner, &refs); err != nil {
		return nil, err
	}
	return refs, nil
}

// walkElements recurses the element tree, scanning each element's settings
// object for image fields. Element nesting counts against the same depth cap
// as the settings walk.
func (e *ElementorExtractor) walkElements(ctx context.Context, elements []interface{}, depth int, scanner *fieldScanner, out *[]models.ImageReference) error {
	if depth > e.maxDepth {
		return nil
	}
	for _, raw := range elements {
		el, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if settings, ok := el["settings"].(map[string]interface{}); ok {
			found, err := scanner.scan(ctx, settings)
			if err != nil {
				return err
			}
			*out = append(*out, found...)
		}
		if children, ok := el["elements"].([]interface{}); ok {
			if err := e.walkElements(ctx, children, depth+1, scanner, out); err != nil {
				return err
			}
		}
	}
	return nil
}
