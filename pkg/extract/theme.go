package extract

import (
	"context"

	"github.com/sirupsen/logrus"

	"image-audit/pkg/content"
	"image-audit/pkg/models"
)

// ThemeImage pairs a theme-level image with its registry location
type ThemeImage struct {
	Location  models.ContentLocation
	Reference models.ImageReference
}

// ThemeScanner covers the site-wide theme image slots: the logo and the site
// icon. Each slot yields at most one reference, always with a resolved
// resource id since theme settings store attachment ids directly.
type ThemeScanner struct {
	media content.MediaLibrary
	log   *logrus.Entry
}

// NewThemeScanner creates the theme scanner
func NewThemeScanner(media content.MediaLibrary, log *logrus.Entry) *ThemeScanner {
	return &ThemeScanner{media: media, log: log}
}

// ThemeSlotLocations lists every registry location Scan can emit. Callers
// reconcile against this list so a cleared slot still retires its entry.
func ThemeSlotLocations() []models.ContentLocation {
	return []models.ContentLocation{
		models.URLLocation("theme", "logo"),
		models.URLLocation("theme", "icon"),
	}
}

// Scan resolves the configured theme assets into located references
func (s *ThemeScanner) Scan(ctx context.Context, assets *content.ThemeAssets) ([]ThemeImage, error) {
	if assets == nil {
		return nil, nil
	}

	var out []ThemeImage

	slots := []struct {
		id      int64
		slot    string
		context models.ImageContext
	}{
		{assets.LogoID, "logo", models.ContextLogo},
		{assets.IconID, "icon", models.ContextIcon},
	}

	for _, slot := range slots {
		if slot.id <= 0 {
			continue
		}
		scanner := &fieldScanner{media: s.media, context: slot.context, sourceTag: "theme_" + slot.slot}
		ref, found, err := scanner.refFromResourceID(ctx, slot.id)
		if err != nil {
			return nil, err
		}
		if !found {
			s.log.WithFields(logrus.Fields{"slot": slot.slot, "resource_id": slot.id}).
				Debug("Theme asset id does not resolve to an image resource")
			continue
		}
		out = append(out, ThemeImage{
			Location:  models.URLLocation("theme", slot.slot),
			Reference: ref,
		})
	}

	return out, nil
}
