package extract

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"image-audit/pkg/content"
	"image-audit/pkg/models"
	"image-audit/pkg/parse"
)

var (
	// shortcodeRe matches [name attr="value" ...] style markup embedded in
	// text content
	shortcodeRe = regexp.MustCompile(`\[([a-zA-Z0-9_\-]+)((?:\s+[a-zA-Z0-9_\-]+="[^"]*")*)\s*/?\]`)
	// shortcodeAttrRe splits the attribute blob of one shortcode
	shortcodeAttrRe = regexp.MustCompile(`([a-zA-Z0-9_\-]+)="([^"]*)"`)
)

// ShortcodeExtractor handles builders that embed their layout as
// shortcode-like markup inside the text content (Divi-style modules, the
// classic gallery shortcode)
type ShortcodeExtractor struct {
	media content.MediaLibrary
	log   *logrus.Entry
}

// NewShortcodeExtractor creates the shortcode-dialect extractor
func NewShortcodeExtractor(media content.MediaLibrary, log *logrus.Entry) *ShortcodeExtractor {
	return &ShortcodeExtractor{media: media, log: log}
}

// Name implements the Extractor interface
func (e *ShortcodeExtractor) Name() string { return "shortcodes" }

// Supports implements the Extractor interface
func (e *ShortcodeExtractor) Supports(item *content.Item) bool {
	return strings.Contains(item.Content, "[")
}

// Extract implements the Extractor interface
func (e *ShortcodeExtractor) Extract(ctx context.Context, item *content.Item) ([]models.ImageReference, error) {
	var refs []models.ImageReference

	for _, sc := range shortcodeRe.FindAllStringSubmatch(item.Content, -1) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := sc[1]
		attrs := parseShortcodeAttrs(sc[2])
		tag := "shortcode_" + name

		// The gallery shortcode carries a comma-separated resource id list
		if ids, ok := attrs["ids"]; ok {
			found, err := e.refsFromIDList(ctx, ids, tag)
			if err != nil {
				return nil, err
			}
			refs = append(refs, found...)
		}

		alt := attrs["alt"]
		for attrName, val := range attrs {
			val = strings.TrimSpace(val)
			if val == "" || attrName == "ids" {
				continue
			}
			// Image-named attributes and literal URL values both count; the
			// shape decides how the value is interpreted
			if parse.IsImageURL(val) && (isImageField(attrName) || attrName == "src" || attrName == "url") {
				refs = append(refs, models.ImageReference{
					URL:       val,
					AltText:   alt,
					Context:   models.ContextPageBuilder,
					SourceTag: tag,
				})
				continue
			}
			if isImageField(attrName) {
				if id, err := strconv.ParseInt(val, 10, 64); err == nil && id > 0 {
					found, errRef := e.refFromID(ctx, id, tag)
					if errRef != nil {
						return nil, errRef
					}
					refs = append(refs, found...)
				}
			}
		}
	}

	return refs, nil
}

func (e *ShortcodeExtractor) refsFromIDList(ctx context.Context, ids, tag string) ([]models.ImageReference, error) {
	var refs []models.ImageReference
	for _, part := range strings.Split(ids, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		found, errRef := e.refFromID(ctx, id, tag)
		if errRef != nil {
			return nil, errRef
		}
		refs = append(refs, found...)
	}
	return refs, nil
}

func (e *ShortcodeExtractor) refFromID(ctx context.Context, id int64, tag string) ([]models.ImageReference, error) {
	scanner := &fieldScanner{media: e.media, context: models.ContextPageBuilder, sourceTag: tag}
	ref, ok, err := scanner.refFromResourceID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return []models.ImageReference{ref}, nil
}

func parseShortcodeAttrs(blob string) map[string]string {
	attrs := make(map[string]string)
	for _, m := range shortcodeAttrRe.FindAllStringSubmatch(blob, -1) {
		attrs[m[1]] = m[2]
	}
	return attrs
}
