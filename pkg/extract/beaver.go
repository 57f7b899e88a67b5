package extract

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"

	"image-audit/pkg/content"
	"image-audit/pkg/models"
)

// beaverMetaKey is where the builder stores its layout payload
const beaverMetaKey = "_fl_builder_data"

// BeaverExtractor reads the builder's flat node map: node id to a typed node
// carrying a settings object. Unlike the Elementor tree there is no nesting
// between nodes; structure lives in parent-id references we do not need.
type BeaverExtractor struct {
	media    content.MediaLibrary
	maxDepth int
	log      *logrus.Entry
}

// NewBeaverExtractor creates the Beaver Builder payload extractor
func NewBeaverExtractor(media content.MediaLibrary, maxDepth int, log *logrus.Entry) *BeaverExtractor {
	return &BeaverExtractor{media: media, maxDepth: maxDepth, log: log}
}

// Name implements the Extractor interface
func (e *BeaverExtractor) Name() string { return "beaver" }

// Supports implements the Extractor interface
func (e *BeaverExtractor) Supports(item *content.Item) bool {
	return item.Meta[beaverMetaKey] != ""
}

// Extract implements the Extractor interface
func (e *BeaverExtractor) Extract(ctx context.Context, item *content.Item) ([]models.ImageReference, error) {
	raw := item.Meta[beaverMetaKey]

	var nodes map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &nodes); err != nil {
		e.log.Debugf("Item %d: unparseable beaver payload: %v", item.ID, err)
		return nil, nil
	}

	scanner := &fieldScanner{
		media:     e.media,
		maxDepth:  e.maxDepth,
		context:   models.ContextPageBuilder,
		sourceTag: "beaver",
	}

	var refs []models.ImageReference
	for _, rawNode := range nodes {
		node, ok := rawNode.(map[string]interface{})
		if !ok {
			continue
		}
		settings, ok := node["settings"].(map[string]interface{})
		if !ok {
			continue
		}
		found, err := scanner.scan(ctx, settings)
		if err != nil {
			return nil, err
		}
		refs = append(refs, found...)
	}
	return refs, nil
}
