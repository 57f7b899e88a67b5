package extract

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"image-audit/pkg/content"
	"image-audit/pkg/models"
	"image-audit/pkg/parse"
)

// managedClassRe matches the class marker identifying internally-owned
// images: the resource id is embedded as wp-image-<id>
var managedClassRe = regexp.MustCompile(`(?:^|\s)wp-image-(\d+)(?:\s|$)`)

// styleURLRe pulls URL references out of inline background-image styles
var styleURLRe = regexp.MustCompile(`(?i)background(?:-image)?\s*:\s*url\(\s*['"]?([^'")\s]+)['"]?\s*\)`)

// ContentExtractor scans rendered/stored markup for img tags and, optionally,
// inline background-image styles
type ContentExtractor struct {
	scanStyles bool
	log        *logrus.Entry
}

// NewContentExtractor creates the rendered-content extractor
func NewContentExtractor(scanStyles bool, log *logrus.Entry) *ContentExtractor {
	return &ContentExtractor{scanStyles: scanStyles, log: log}
}

// Name implements the Extractor interface
func (e *ContentExtractor) Name() string { return "content" }

// Supports implements the Extractor interface
func (e *ContentExtractor) Supports(item *content.Item) bool {
	return strings.TrimSpace(item.Content) != ""
}

// Extract implements the Extractor interface
func (e *ContentExtractor) Extract(_ context.Context, item *content.Item) ([]models.ImageReference, error) {
	return ScanHTML(item.Content, e.scanStyles, models.ContextContent, "post_content", e.log), nil
}

// ScanHTML extracts image references from an HTML fragment. Managed images
// (resource id embedded in the class marker) are recognized first so the id
// travels with the reference; everything else falls back to generic img-tag
// matching. When scanStyles is set, inline style attributes are also scanned
// for background-image URLs.
// Shared by the content and widget extractors. Unparseable markup yields an
// empty list.
func ScanHTML(markup string, scanStyles bool, imgContext models.ImageContext, sourceTag string, log *logrus.Entry) []models.ImageReference {
	if strings.TrimSpace(markup) == "" {
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		log.Debugf("Unparseable HTML for %s scan: %v", sourceTag, err)
		return nil
	}

	var refs []models.ImageReference

	doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
		src, exists := sel.Attr("src")
		src = strings.TrimSpace(src)
		if !exists || src == "" || strings.HasPrefix(src, "data:") {
			return
		}
		if !parse.IsImageURL(src) {
			return
		}

		ref := models.ImageReference{
			URL:       src,
			Context:   imgContext,
			SourceTag: sourceTag,
		}
		if alt, ok := sel.Attr("alt"); ok {
			ref.AltText = alt
		}
		if title, ok := sel.Attr("title"); ok {
			ref.Title = title
		}
		if w, ok := sel.Attr("width"); ok {
			ref.Width = atoiOrZero(w)
		}
		if h, ok := sel.Attr("height"); ok {
			ref.Height = atoiOrZero(h)
		}

		// Managed marker first: the embedded id saves a locator round trip
		// and tags the provenance
		if class, ok := sel.Attr("class"); ok {
			if m := managedClassRe.FindStringSubmatch(class); m != nil {
				if id, errConv := strconv.ParseInt(m[1], 10, 64); errConv == nil && id > 0 {
					ref.ResourceID = id
					ref.SourceTag = sourceTag + "_managed"
				}
			}
		}

		refs = append(refs, ref)
	})

	if scanStyles {
		doc.Find("[style]").Each(func(_ int, sel *goquery.Selection) {
			style, _ := sel.Attr("style")
			for _, m := range styleURLRe.FindAllStringSubmatch(style, -1) {
				bgURL := strings.TrimSpace(m[1])
				if !parse.IsImageURL(bgURL) {
					continue
				}
				refs = append(refs, models.ImageReference{
					URL:       bgURL,
					Context:   models.ContextBackground,
					SourceTag: sourceTag + "_style",
				})
			}
		})
	}

	return refs
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
