package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"image-audit/pkg/content"
	"image-audit/pkg/models"
)

func TestBlockExtractor(t *testing.T) {
	e := NewBlockExtractor(testLibrary(), 12, testLogger())
	ctx := context.Background()

	assert.Equal(t, "blocks", e.Name())
	assert.False(t, e.Supports(&content.Item{Content: "<p>plain</p>"}))
	assert.True(t, e.Supports(&content.Item{Content: `<!-- wp:image {"id":7} -->`}))

	t.Run("image block by id", func(t *testing.T) {
		markup := `<!-- wp:image {"id":7,"sizeSlug":"large"} --><figure><img src="x"></figure><!-- /wp:image -->`
		refs, err := e.Extract(ctx, &content.Item{Content: markup})
		require.NoError(t, err)

		require.Len(t, refs, 1)
		assert.Equal(t, "https://example.com/up/seven.jpg", refs[0].URL)
		assert.Equal(t, int64(7), refs[0].ResourceID)
		assert.Equal(t, "Seven", refs[0].AltText)
		assert.Equal(t, models.ContextContent, refs[0].Context)
		assert.Equal(t, "block_image", refs[0].SourceTag)
	})

	t.Run("image block by url attr", func(t *testing.T) {
		markup := `<!-- wp:image {"url":"https://example.com/ext.jpg"} --><!-- /wp:image -->`
		refs, err := e.Extract(ctx, &content.Item{Content: markup})
		require.NoError(t, err)

		require.Len(t, refs, 1)
		assert.Equal(t, "https://example.com/ext.jpg", refs[0].URL)
		assert.Zero(t, refs[0].ResourceID)
	})

	t.Run("gallery ids", func(t *testing.T) {
		markup := `<!-- wp:gallery {"ids":[7,8,999]} --><!-- /wp:gallery -->`
		refs, err := e.Extract(ctx, &content.Item{Content: markup})
		require.NoError(t, err)

		require.Len(t, refs, 2)
		assert.Equal(t, "block_gallery", refs[0].SourceTag)
	})

	t.Run("media-text attrs", func(t *testing.T) {
		markup := `<!-- wp:media-text {"mediaId":8,"mediaUrl":"https://example.com/m.png","mediaType":"image"} --><!-- /wp:media-text -->`
		refs, err := e.Extract(ctx, &content.Item{Content: markup})
		require.NoError(t, err)

		require.Len(t, refs, 2)
		assert.Equal(t, int64(8), refs[0].ResourceID)
		assert.Equal(t, "https://example.com/m.png", refs[1].URL)
	})

	t.Run("cover inside namespaced group", func(t *testing.T) {
		markup := `<!-- wp:core/group -->
<!-- wp:core/cover {"id":7,"url":"https://example.com/up/seven.jpg"} -->
<div class="wp-block-cover"></div>
<!-- /wp:core/cover -->
<!-- /wp:core/group -->`
		refs, err := e.Extract(ctx, &content.Item{Content: markup})
		require.NoError(t, err)

		// The cover's id and url attrs both refer to the same image; both are
		// reported here and dedup happens at the set level.
		require.Len(t, refs, 2)
		assert.Equal(t, "block_cover", refs[0].SourceTag)
	})

	t.Run("self-closing and unbalanced comments", func(t *testing.T) {
		markup := `<!-- wp:spacer /-->
<!-- /wp:paragraph -->
<!-- wp:image {"id":8} /-->`
		refs, err := e.Extract(ctx, &content.Item{Content: markup})
		require.NoError(t, err)

		require.Len(t, refs, 1)
		assert.Equal(t, int64(8), refs[0].ResourceID)
	})

	t.Run("malformed attrs degrade to no refs", func(t *testing.T) {
		markup := `<!-- wp:image {"id":7,} --><!-- /wp:image -->`
		refs, err := e.Extract(ctx, &content.Item{Content: markup})
		require.NoError(t, err)
		assert.Empty(t, refs)
	})

	t.Run("unknown block types ignored", func(t *testing.T) {
		markup := `<!-- wp:paragraph {"align":"center"} --><p>text</p><!-- /wp:paragraph -->`
		refs, err := e.Extract(ctx, &content.Item{Content: markup})
		require.NoError(t, err)
		assert.Empty(t, refs)
	})
}

func TestParseBlocks(t *testing.T) {
	t.Run("builds a nested tree", func(t *testing.T) {
		markup := `<!-- wp:group --><!-- wp:image {"id":1} --><!-- /wp:image --><!-- /wp:group --><!-- wp:paragraph --><!-- /wp:paragraph -->`
		roots := parseBlocks(markup)

		require.Len(t, roots, 2)
		assert.Equal(t, "group", roots[0].name)
		require.Len(t, roots[0].children, 1)
		assert.Equal(t, "image", roots[0].children[0].name)
		assert.Equal(t, float64(1), roots[0].children[0].attrs["id"])
		assert.Equal(t, "paragraph", roots[1].name)
	})

	t.Run("unclosed block ends at input end", func(t *testing.T) {
		roots := parseBlocks(`<!-- wp:group --><!-- wp:image /-->`)
		require.Len(t, roots, 1)
		assert.Len(t, roots[0].children, 1)
	})
}
