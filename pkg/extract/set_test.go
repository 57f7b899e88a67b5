package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"image-audit/pkg/config"
	"image-audit/pkg/content"
	"image-audit/pkg/models"
)

func testSetConfig() config.AppConfig {
	var cfg config.AppConfig
	if _, err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}

func TestNewSetOrderAndToggles(t *testing.T) {
	cfg := testSetConfig()
	set := NewSet(cfg, testLibrary(), testLogger())
	assert.Equal(t, []string{"elementor", "beaver", "shortcodes", "blocks", "content", "meta"}, set.Names())

	off := false
	cfg.Extractors.Elementor = &off
	cfg.Extractors.CustomFields = &off
	set = NewSet(cfg, testLibrary(), testLogger())
	assert.Equal(t, []string{"beaver", "shortcodes", "blocks", "content"}, set.Names())
}

func TestSetExtractDedup(t *testing.T) {
	set := NewSet(testSetConfig(), testLibrary(), testLogger())

	// The block delimiter and the rendered markup both carry the same image;
	// the block extractor runs first and owns the reference.
	item := &content.Item{
		ID:   42,
		Type: "post",
		Content: `<!-- wp:image {"id":7} -->
<figure><img src="https://example.com/up/seven.jpg" alt="Rendered alt" class="wp-image-7"></figure>
<!-- /wp:image -->
<img src="https://example.com/up/other.gif" alt="Other">`,
	}

	refs, err := set.Extract(context.Background(), item)
	require.NoError(t, err)

	require.Len(t, refs, 2)
	assert.Equal(t, "https://example.com/up/seven.jpg", refs[0].URL)
	assert.Equal(t, "block_image", refs[0].SourceTag)
	assert.Equal(t, "Seven", refs[0].AltText)
	assert.Equal(t, "https://example.com/up/other.gif", refs[1].URL)
	assert.Equal(t, models.ContextContent, refs[1].Context)
}

func TestSetExtractNormalizesAndSkipsInvalid(t *testing.T) {
	set := NewSet(testSetConfig(), testLibrary(), testLogger())

	item := &content.Item{
		ID:   43,
		Type: "page",
		Content: `<img src="https://example.com/a.jpg#frag">
<img src="HTTPS://EXAMPLE.COM/a.jpg">
<img src="https://example.com/a.jpg?w=300">
<img src="data:image/gif;base64,AAAA">`,
	}

	refs, err := set.Extract(context.Background(), item)
	require.NoError(t, err)

	// Host case and fragments normalize away; a resize query keeps the URL
	// distinct; the data URI is dropped.
	require.Len(t, refs, 2)
	assert.Equal(t, "https://example.com/a.jpg", refs[0].URL)
	assert.Equal(t, "https://example.com/a.jpg?w=300", refs[1].URL)
}
