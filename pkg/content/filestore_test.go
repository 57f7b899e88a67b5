package content

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeExport(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "export.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))
	return path
}

func TestLoadFileStore(t *testing.T) {
	path := writeExport(t, `
items:
  - id: 42
    type: post
    title: Hello
    content: '<p><img src="https://example.com/a.jpg" alt="A"></p>'
    meta:
      _thumbnail_id: "7"
  - id: 43
    type: page
    title: About
widgets:
  - id: text-2
    sidebar: sidebar-1
    settings:
      content: '<img src="https://example.com/w.png">'
theme:
  logo_id: 7
media:
  - id: 7
    url: https://example.com/logo.png
    title: Logo
    alt: Company logo
    file: logo.png
    width: 200
    height: 80
`)

	store, library, err := LoadFileStore(path)
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("items load with meta", func(t *testing.T) {
		item, err := store.GetItem(ctx, 42)
		require.NoError(t, err)
		require.NotNil(t, item)
		assert.Equal(t, "post", item.Type)
		assert.Equal(t, "7", item.Meta["_thumbnail_id"])

		missing, err := store.GetItem(ctx, 999)
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("paging by type", func(t *testing.T) {
		posts, err := store.ListItems(ctx, "post", 0, 10)
		require.NoError(t, err)
		assert.Len(t, posts, 1)

		pages, err := store.ListItems(ctx, "page", 0, 10)
		require.NoError(t, err)
		assert.Len(t, pages, 1)

		none, err := store.ListItems(ctx, "post", 10, 10)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("widgets and theme", func(t *testing.T) {
		widgets, err := store.Widgets(ctx)
		require.NoError(t, err)
		require.Len(t, widgets, 1)
		assert.Equal(t, "sidebar-1", widgets[0].Sidebar)

		theme, err := store.ThemeAssets(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(7), theme.LogoID)
		assert.Zero(t, theme.IconID)
	})

	t.Run("media library lookups", func(t *testing.T) {
		media, err := library.Get(ctx, 7)
		require.NoError(t, err)
		require.NotNil(t, media)
		assert.Equal(t, "Company logo", media.AltText)

		id, ok, err := library.ResolveURL(ctx, "https://example.com/logo.png")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(7), id)

		id, ok, err = library.FindByFile(ctx, "logo.png")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(7), id)

		id, ok, err = library.FindByTitle(ctx, "logo")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(7), id)
	})
}

func TestLoadFileStoreErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, _, err := LoadFileStore(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := writeExport(t, "items: [{{")
		_, _, err := LoadFileStore(path)
		assert.Error(t, err)
	})

	t.Run("item without id", func(t *testing.T) {
		path := writeExport(t, "items:\n  - type: post\n")
		_, _, err := LoadFileStore(path)
		assert.Error(t, err)
	})

	t.Run("media without id", func(t *testing.T) {
		path := writeExport(t, "items: []\nmedia:\n  - url: https://example.com/a.png\n")
		_, _, err := LoadFileStore(path)
		assert.Error(t, err)
	})
}
