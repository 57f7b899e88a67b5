package extract

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"image-audit/pkg/content"
	"image-audit/pkg/models"
	"image-audit/pkg/parse"
)

// imageFieldPattern matches the field names builders use for image data
// (image, background_image, gallery, photo, thumb, logo, icon, bg, ...)
var imageFieldPattern = regexp.MustCompile(`(?i)(image|img\b|img_|gallery|photo|thumb|logo|icon|background|(^|_)bg(_|$)|media)`)

func isImageField(key string) bool {
	return key != "" && imageFieldPattern.MatchString(key)
}

// fieldScanner walks a decoded JSON payload collecting image references from
// known field-name patterns (isImageField) and field-shape patterns: object
// with a url key, bare string URL, or numeric resource id. Recursion is
// capped at maxDepth so pathological payloads stay bounded.
type fieldScanner struct {
	media     content.MediaLibrary
	maxDepth  int
	context   models.ImageContext
	sourceTag string
	// matchAnyString collects every string that parses as an image URL,
	// regardless of its field name. Used by the custom-field walker where
	// values have no meaningful schema.
	matchAnyString bool
}

// scan walks the decoded payload and returns the collected references
func (fs *fieldScanner) scan(ctx context.Context, root interface{}) ([]models.ImageReference, error) {
	var out []models.ImageReference
	err := fs.walk(ctx, "", root, 0, &out)
	return out, err
}

func (fs *fieldScanner) walk(ctx context.Context, key string, v interface{}, depth int, out *[]models.ImageReference) error {
	if depth > fs.maxDepth {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	switch val := v.(type) {
	case map[string]interface{}:
		// Object-with-url shape under an image-named field: consume the
		// whole object as one reference instead of recursing into its parts.
		if isImageField(key) {
			if ref, ok := fs.refFromObject(val); ok {
				*out = append(*out, ref)
				return nil
			}
		}
		for k, child := range val {
			if err := fs.walk(ctx, k, child, depth+1, out); err != nil {
				return err
			}
		}

	case []interface{}:
		for _, child := range val {
			if err := fs.walk(ctx, key, child, depth+1, out); err != nil {
				return err
			}
		}

	case string:
		if !parse.IsImageURL(val) {
			return nil
		}
		if fs.matchAnyString || isImageField(key) || key == "url" || key == "src" {
			*out = append(*out, models.ImageReference{
				URL:       val,
				Context:   fs.context,
				SourceTag: fs.sourceTag,
			})
		}

	case float64:
		// Bare numeric resource id; only trust it under an image-named field
		if !isImageField(key) {
			return nil
		}
		id := int64(val)
		if id <= 0 || float64(id) != val {
			return nil
		}
		ref, ok, err := fs.refFromResourceID(ctx, id)
		if err != nil {
			return err
		}
		if ok {
			*out = append(*out, ref)
		}
	}

	return nil
}

// refFromObject interprets the {url: "...", id: N, alt: "..."} shape
func (fs *fieldScanner) refFromObject(obj map[string]interface{}) (models.ImageReference, bool) {
	rawURL, _ := obj["url"].(string)
	if rawURL == "" {
		rawURL, _ = obj["src"].(string)
	}
	if rawURL == "" || !parse.IsImageURL(rawURL) {
		return models.ImageReference{}, false
	}

	ref := models.ImageReference{
		URL:       rawURL,
		Context:   fs.context,
		SourceTag: fs.sourceTag,
	}
	if id, ok := obj["id"].(float64); ok && id > 0 && float64(int64(id)) == id {
		ref.ResourceID = int64(id)
	}
	if alt, ok := obj["alt"].(string); ok {
		ref.AltText = alt
	} else if alt, ok := obj["alt_text"].(string); ok {
		ref.AltText = alt
	}
	if title, ok := obj["title"].(string); ok {
		ref.Title = title
	}
	return ref, true
}

// refFromResourceID turns a known media id into a reference, skipping ids
// that do not resolve to an image resource
func (fs *fieldScanner) refFromResourceID(ctx context.Context, id int64) (models.ImageReference, bool, error) {
	media, err := fs.media.Get(ctx, id)
	if err != nil {
		return models.ImageReference{}, false, err
	}
	if media == nil || media.URL == "" {
		return models.ImageReference{}, false, nil
	}
	if !imagePath(media.URL) {
		return models.ImageReference{}, false, nil
	}
	return models.ImageReference{
		URL:        media.URL,
		AltText:    media.AltText,
		Title:      media.Title,
		Width:      media.Width,
		Height:     media.Height,
		Context:    fs.context,
		SourceTag:  fs.sourceTag,
		ResourceID: id,
	}, true, nil
}

// imagePath checks a URL's path component for a recognized image extension
func imagePath(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	return parse.HasImageExtension(u.Path)
}
