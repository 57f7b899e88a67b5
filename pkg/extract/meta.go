package extract

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"image-audit/pkg/content"
	"image-audit/pkg/models"
	"image-audit/pkg/parse"
)

// builderMetaKeys are consumed by their dedicated extractors and must not be
// rescanned as plain custom fields
var builderMetaKeys = map[string]bool{
	elementorMetaKey: true,
	beaverMetaKey:    true,
}

// MetaExtractor scans item custom fields for image data. Underscore-prefixed
// keys are private plugin storage and are skipped unless allow-listed; the
// default allow list carries the featured-image pointer key.
type MetaExtractor struct {
	media     content.MediaLibrary
	maxDepth  int
	allowList map[string]bool
	log       *logrus.Entry
}

// NewMetaExtractor creates the custom-field extractor
func NewMetaExtractor(media content.MediaLibrary, maxDepth int, allowList []string, log *logrus.Entry) *MetaExtractor {
	allowed := make(map[string]bool, len(allowList))
	for _, key := range allowList {
		allowed[key] = true
	}
	return &MetaExtractor{media: media, maxDepth: maxDepth, allowList: allowed, log: log}
}

// Name implements the Extractor interface
func (e *MetaExtractor) Name() string { return "meta" }

// Supports implements the Extractor interface
func (e *MetaExtractor) Supports(item *content.Item) bool {
	return len(item.Meta) > 0
}

// Extract implements the Extractor interface
func (e *MetaExtractor) Extract(ctx context.Context, item *content.Item) ([]models.ImageReference, error) {
	var refs []models.ImageReference

	for key, value := range item.Meta {
		if builderMetaKeys[key] {
			continue
		}
		if strings.HasPrefix(key, "_") && !e.allowList[key] {
			continue
		}

		imgContext := models.ContextCustomField
		if key == "_thumbnail_id" {
			imgContext = models.ContextFeatured
		}

		found, err := e.scanValue(ctx, key, value, imgContext)
		if err != nil {
			return nil, err
		}
		refs = append(refs, found...)
	}

	return refs, nil
}

// scanValue interprets one custom-field value: a literal image URL, a numeric
// resource id, or serialized JSON that gets the structural walk
func (e *MetaExtractor) scanValue(ctx context.Context, key, value string, imgContext models.ImageContext) ([]models.ImageReference, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}

	tag := "meta_" + key
	scanner := &fieldScanner{
		media:          e.media,
		maxDepth:       e.maxDepth,
		context:        imgContext,
		sourceTag:      tag,
		matchAnyString: true,
	}

	if parse.IsImageURL(value) {
		return []models.ImageReference{{
			URL:       value,
			Context:   imgContext,
			SourceTag: tag,
		}}, nil
	}

	if id, err := strconv.ParseInt(value, 10, 64); err == nil {
		if id <= 0 {
			return nil, nil
		}
		ref, found, err := scanner.refFromResourceID(ctx, id)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, nil
		}
		return []models.ImageReference{ref}, nil
	}

	if strings.HasPrefix(value, "{") || strings.HasPrefix(value, "[") {
		var decoded interface{}
		if err := json.Unmarshal([]byte(value), &decoded); err != nil {
			e.log.WithField("meta_key", key).Debug("Skipping custom field with malformed JSON value")
			return nil, nil
		}
		return scanner.scan(ctx, decoded)
	}

	return nil, nil
}
