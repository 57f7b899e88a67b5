// Package content defines the contracts for the two external collaborators
// the scanner reads from: the content store (posts, pages, widgets, theme
// assets) and the media library (internal image resources). The scanner never
// writes through these interfaces.
package content

import "context"

// Item is one addressable content item. Page-builder payloads live in Meta
// under their native keys, the same place the source CMS keeps them.
type Item struct {
	ID      int64
	Type    string // "post", "page", or a custom type
	URL     string // permalink, informational only
	Title   string
	Content string            // rendered/stored markup
	Meta    map[string]string // custom fields, scalar or JSON-encoded values
}

// Widget is one configured widget instance. Sidebar disambiguates the scan
// location since widget instances have no numeric content id.
type Widget struct {
	ID       string
	Sidebar  string
	Settings map[string]string // string-valued settings only
}

// ThemeAssets holds the fixed set of theme-level single images. Zero means
// the asset is not configured.
type ThemeAssets struct {
	LogoID int64
	IconID int64
}

// Media describes one internal media resource.
type Media struct {
	ID      int64
	URL     string
	Title   string
	AltText string
	File    string // attached-file metadata, basename of the stored file
	Width   int
	Height  int
}

// Store enumerates and fetches content items.
type Store interface {
	// ListItems returns up to limit items of the given type starting at
	// offset. An empty result signals the end of the type.
	ListItems(ctx context.Context, contentType string, offset, limit int) ([]*Item, error)

	// GetItem fetches one item by id, nil when it does not exist.
	GetItem(ctx context.Context, id int64) (*Item, error)

	// Widgets returns all configured widget instances.
	Widgets(ctx context.Context) ([]Widget, error)

	// ThemeAssets returns the theme-level single images.
	ThemeAssets(ctx context.Context) (ThemeAssets, error)
}

// MediaLibrary resolves image URLs to internal resources and fetches their
// details. ResolveURL is the cheap native path; the two Find methods are the
// expensive fallback searches the locator memoizes.
type MediaLibrary interface {
	// ResolveURL maps a media URL back to an internal resource by path.
	ResolveURL(ctx context.Context, rawURL string) (int64, bool, error)

	// FindByFile searches for an exact attached-file metadata match on a
	// basename.
	FindByFile(ctx context.Context, basename string) (int64, bool, error)

	// FindByTitle searches for a partial title match (basename without its
	// extension).
	FindByTitle(ctx context.Context, title string) (int64, bool, error)

	// Get fetches one media resource by id, nil when unknown.
	Get(ctx context.Context, id int64) (*Media, error)
}
