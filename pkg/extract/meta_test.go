package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"image-audit/pkg/content"
	"image-audit/pkg/models"
)

func TestMetaExtractor(t *testing.T) {
	e := NewMetaExtractor(testLibrary(), 12, []string{"_thumbnail_id"}, testLogger())
	ctx := context.Background()

	assert.Equal(t, "meta", e.Name())
	assert.False(t, e.Supports(&content.Item{}))
	assert.True(t, e.Supports(&content.Item{Meta: map[string]string{"banner": "x"}}))

	extract := func(t *testing.T, meta map[string]string) []models.ImageReference {
		t.Helper()
		refs, err := e.Extract(ctx, &content.Item{ID: 1, Meta: meta})
		require.NoError(t, err)
		return refs
	}

	t.Run("literal image url value", func(t *testing.T) {
		refs := extract(t, map[string]string{"banner_image": "https://example.com/banner.jpg"})

		require.Len(t, refs, 1)
		assert.Equal(t, "https://example.com/banner.jpg", refs[0].URL)
		assert.Equal(t, models.ContextCustomField, refs[0].Context)
		assert.Equal(t, "meta_banner_image", refs[0].SourceTag)
	})

	t.Run("featured image id", func(t *testing.T) {
		refs := extract(t, map[string]string{"_thumbnail_id": "7"})

		require.Len(t, refs, 1)
		assert.Equal(t, "https://example.com/up/seven.jpg", refs[0].URL)
		assert.Equal(t, int64(7), refs[0].ResourceID)
		assert.Equal(t, models.ContextFeatured, refs[0].Context)
		assert.Equal(t, "meta__thumbnail_id", refs[0].SourceTag)
	})

	t.Run("numeric id must resolve to an image", func(t *testing.T) {
		assert.Empty(t, extract(t, map[string]string{"hero_photo": "50"}))
		assert.Empty(t, extract(t, map[string]string{"hero_photo": "999"}))
		assert.Empty(t, extract(t, map[string]string{"hero_photo": "-3"}))
	})

	t.Run("json value gets the structural walk", func(t *testing.T) {
		refs := extract(t, map[string]string{
			"slides": `[{"caption":"one","src":"https://example.com/s1.jpg"},{"src":"https://example.com/s2.png"}]`,
		})

		require.Len(t, refs, 2)
		assert.Equal(t, "https://example.com/s1.jpg", refs[0].URL)
		assert.Equal(t, "meta_slides", refs[1].SourceTag)
	})

	t.Run("any string url matches regardless of field name", func(t *testing.T) {
		refs := extract(t, map[string]string{"layout": `{"poster":"https://example.com/poster.webp"}`})

		require.Len(t, refs, 1)
		assert.Equal(t, "https://example.com/poster.webp", refs[0].URL)
	})

	t.Run("underscore keys skipped unless allow-listed", func(t *testing.T) {
		assert.Empty(t, extract(t, map[string]string{"_internal_image": "https://example.com/x.jpg"}))
	})

	t.Run("builder payload keys skipped", func(t *testing.T) {
		assert.Empty(t, extract(t, map[string]string{
			elementorMetaKey: `[{"settings":{"image":{"url":"https://example.com/a.jpg"}}}]`,
			beaverMetaKey:    `{"nodes":{}}`,
		}))
	})

	t.Run("malformed json skipped without error", func(t *testing.T) {
		assert.Empty(t, extract(t, map[string]string{"slides": `[{"src":`}))
	})

	t.Run("plain text skipped", func(t *testing.T) {
		assert.Empty(t, extract(t, map[string]string{"subtitle": "just words"}))
	})
}
