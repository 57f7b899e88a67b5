package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"image-audit/pkg/content"
	"image-audit/pkg/models"
)

func TestWidgetScanner(t *testing.T) {
	s := NewWidgetScanner(false, testLogger())
	ctx := context.Background()

	t.Run("location from sidebar and widget id", func(t *testing.T) {
		loc := s.Location(&content.Widget{ID: "text-2", Sidebar: "sidebar-1"})
		assert.Equal(t, "widget", loc.ContentType)
		assert.Equal(t, "sidebar-1/text-2", loc.ContentURL)
		assert.Nil(t, loc.ContentID)
	})

	t.Run("literal url and html settings", func(t *testing.T) {
		w := &content.Widget{
			ID:      "custom_html-3",
			Sidebar: "footer",
			Settings: map[string]string{
				"image":   "https://example.com/w.jpg",
				"content": `<p>hi <img src="https://example.com/inline.png" alt="Inline"></p>`,
				"title":   "Footer block",
			},
		}
		refs, err := s.Scan(ctx, w)
		require.NoError(t, err)

		// Settings are visited in key order: content before image.
		require.Len(t, refs, 2)
		assert.Equal(t, "https://example.com/inline.png", refs[0].URL)
		assert.Equal(t, "Inline", refs[0].AltText)
		assert.Equal(t, "widget_content", refs[0].SourceTag)
		assert.Equal(t, "https://example.com/w.jpg", refs[1].URL)
		assert.Equal(t, "widget_image", refs[1].SourceTag)
		for _, ref := range refs {
			assert.Equal(t, models.ContextWidget, ref.Context)
		}
	})

	t.Run("empty and plain settings yield nothing", func(t *testing.T) {
		refs, err := s.Scan(ctx, &content.Widget{Settings: map[string]string{"title": "Links", "count": "5"}})
		require.NoError(t, err)
		assert.Empty(t, refs)
	})
}

func TestThemeScanner(t *testing.T) {
	s := NewThemeScanner(testLibrary(), testLogger())
	ctx := context.Background()

	t.Run("logo and icon slots", func(t *testing.T) {
		images, err := s.Scan(ctx, &content.ThemeAssets{LogoID: 7, IconID: 8})
		require.NoError(t, err)

		require.Len(t, images, 2)
		assert.Equal(t, "theme", images[0].Location.ContentType)
		assert.Equal(t, "logo", images[0].Location.ContentURL)
		assert.Equal(t, "https://example.com/up/seven.jpg", images[0].Reference.URL)
		assert.Equal(t, models.ContextLogo, images[0].Reference.Context)
		assert.Equal(t, "theme_logo", images[0].Reference.SourceTag)
		assert.Equal(t, "icon", images[1].Location.ContentURL)
		assert.Equal(t, models.ContextIcon, images[1].Reference.Context)
	})

	t.Run("unset slot skipped", func(t *testing.T) {
		images, err := s.Scan(ctx, &content.ThemeAssets{LogoID: 7})
		require.NoError(t, err)
		require.Len(t, images, 1)
		assert.Equal(t, "theme_logo", images[0].Reference.SourceTag)
	})

	t.Run("non-image asset skipped", func(t *testing.T) {
		images, err := s.Scan(ctx, &content.ThemeAssets{LogoID: 50, IconID: 999})
		require.NoError(t, err)
		assert.Empty(t, images)
	})

	t.Run("nil assets", func(t *testing.T) {
		images, err := s.Scan(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, images)
	})

	t.Run("every emitted location is a declared slot", func(t *testing.T) {
		// Reconciliation pre-seeds its keep-sets from ThemeSlotLocations; a
		// slot added to Scan without a matching entry would slip past it.
		slots := map[string]bool{}
		for _, loc := range ThemeSlotLocations() {
			slots[loc.Key()] = true
		}
		images, err := s.Scan(ctx, &content.ThemeAssets{LogoID: 7, IconID: 8})
		require.NoError(t, err)
		for _, img := range images {
			assert.True(t, slots[img.Location.Key()], "undeclared slot location %s", img.Location.String())
		}
	})
}
