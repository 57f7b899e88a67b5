package extract

import (
	"context"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"image-audit/pkg/content"
	"image-audit/pkg/models"
	"image-audit/pkg/parse"
)

// WidgetScanner finds images in sidebar widget settings. Widgets have no
// numeric content id, so each widget registers under a URL-style location
// built from its sidebar and widget id.
type WidgetScanner struct {
	scanStyles bool
	log        *logrus.Entry
}

// NewWidgetScanner creates the widget scanner
func NewWidgetScanner(scanStyles bool, log *logrus.Entry) *WidgetScanner {
	return &WidgetScanner{scanStyles: scanStyles, log: log}
}

// Location returns the registry location for one widget
func (s *WidgetScanner) Location(w *content.Widget) models.ContentLocation {
	return models.URLLocation("widget", w.Sidebar+"/"+w.ID)
}

// Scan inspects every string setting of the widget: literal image URLs are
// taken directly, anything containing markup gets the HTML scan. Settings are
// visited in key order so results are deterministic.
func (s *WidgetScanner) Scan(ctx context.Context, w *content.Widget) ([]models.ImageReference, error) {
	keys := make([]string, 0, len(w.Settings))
	for key := range w.Settings {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var refs []models.ImageReference
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		value := strings.TrimSpace(w.Settings[key])
		if value == "" {
			continue
		}

		tag := "widget_" + key
		if parse.IsImageURL(value) {
			refs = append(refs, models.ImageReference{
				URL:       value,
				Context:   models.ContextWidget,
				SourceTag: tag,
			})
			continue
		}
		if strings.Contains(value, "<") {
			refs = append(refs, ScanHTML(value, s.scanStyles, models.ContextWidget, tag, s.log)...)
		}
	}
	return refs, nil
}
