package models

import (
	"strconv"
	"strings"
	"time"
)

// ImageContext identifies where within a content location an image was found
type ImageContext string

const (
	ContextContent     ImageContext = "content"
	ContextFeatured    ImageContext = "featured"
	ContextBackground  ImageContext = "background"
	ContextCustomField ImageContext = "custom_field"
	ContextWidget      ImageContext = "widget"
	ContextLogo        ImageContext = "logo"
	ContextIcon        ImageContext = "icon"
	ContextPageBuilder ImageContext = "page_builder"
)

// ImageReference is a single image found by an extractor. It is ephemeral:
// references flow from extractors into the registry and are not stored as-is.
type ImageReference struct {
	URL     string
	AltText string
	Title   string
	Width   int
	Height  int
	Context ImageContext
	// SourceTag is a free-form provenance marker, e.g. "post_content" or
	// "elementor_gallery".
	SourceTag string
	// ResourceID is an optional hint set when the extractor already knows the
	// internal media resource (e.g. a managed-id marker in markup or a numeric
	// attachment field). Zero means unknown; resolution then goes through the
	// locator.
	ResourceID int64
}

// ContentLocation identifies a single scan unit and registry partition.
// The triple (ContentType, ContentID, ContentURL) is the full identity;
// a nil ContentID / empty ContentURL is a literal part of the key, never
// a wildcard.
type ContentLocation struct {
	ContentType string `json:"content_type"`
	ContentID   *int64 `json:"content_id,omitempty"`
	ContentURL  string `json:"content_url,omitempty"`
}

// PostLocation builds a location for a content item with a numeric id
func PostLocation(contentType string, id int64) ContentLocation {
	return ContentLocation{ContentType: contentType, ContentID: &id}
}

// URLLocation builds a location identified by a URL or path instead of an id
// (widget sidebars, the homepage, theme assets)
func URLLocation(contentType, contentURL string) ContentLocation {
	return ContentLocation{ContentType: contentType, ContentURL: contentURL}
}

const keySep = "\x1f" // unit separator, cannot appear in type names or URLs we accept

// Key returns a stable encoding of the location triple for use in store keys.
// The nil ContentID is encoded as a distinct literal so that "null" matches
// only "null", per the composite-key semantics.
func (l ContentLocation) Key() string {
	idPart := "-"
	if l.ContentID != nil {
		idPart = strconv.FormatInt(*l.ContentID, 10)
	}
	return l.ContentType + keySep + idPart + keySep + l.ContentURL
}

// String renders the location for logs
func (l ContentLocation) String() string {
	var b strings.Builder
	b.WriteString(l.ContentType)
	if l.ContentID != nil {
		b.WriteString("#")
		b.WriteString(strconv.FormatInt(*l.ContentID, 10))
	}
	if l.ContentURL != "" {
		b.WriteString("@")
		b.WriteString(l.ContentURL)
	}
	return b.String()
}

// RegistryEntry is the persistent record of one (location, image URL)
// association. Entries are soft-retired (IsActive=false) when a rescan no
// longer finds the URL and hard-deleted only by retention purge.
type RegistryEntry struct {
	ID          uint64       `json:"id"`
	ContentType string       `json:"content_type"`
	ContentID   *int64       `json:"content_id,omitempty"`
	ContentURL  string       `json:"content_url,omitempty"`
	ImageURL    string       `json:"image_url"`
	Context     ImageContext `json:"context,omitempty"`
	// ResourceID is the resolved internal media id, nil when the image is
	// external or could not be matched.
	ResourceID  *int64    `json:"resource_id,omitempty"`
	HasAltText  bool      `json:"has_alt_text"`
	AltText     string    `json:"alt_text,omitempty"`
	Title       string    `json:"title,omitempty"`
	SourceTag   string    `json:"source_tag,omitempty"`
	Width       int       `json:"width,omitempty"`
	Height      int       `json:"height,omitempty"`
	LastScanned time.Time `json:"last_scanned"`
	IsActive    bool      `json:"is_active"`
}

// Location reconstructs the entry's content location
func (e *RegistryEntry) Location() ContentLocation {
	return ContentLocation{ContentType: e.ContentType, ContentID: e.ContentID, ContentURL: e.ContentURL}
}

// HasAlt reports whether alt text is non-empty after trimming. This is the
// single source of truth for the HasAltText field.
func HasAlt(altText string) bool {
	return strings.TrimSpace(altText) != ""
}

// LocatorCacheEntry memoizes one URL-to-resource resolution. A nil ResourceID
// is a confirmed non-match and is cached like any other result so external
// images never repeat the expensive fallback search.
type LocatorCacheEntry struct {
	URL string `json:"url"`
	// ResourceID is nil for a confirmed "no internal resource" result.
	ResourceID        *int64    `json:"resource_id,omitempty"`
	LastVerified      time.Time `json:"last_verified"`
	VerificationCount int64     `json:"verification_count"`
}

// ScanStatus is the persistent per-location scan record
type ScanStatus struct {
	ContentType  string    `json:"content_type"`
	ContentID    *int64    `json:"content_id,omitempty"`
	ContentURL   string    `json:"content_url,omitempty"`
	LastScanned  time.Time `json:"last_scanned"`
	ScanDuration float64   `json:"scan_duration_seconds"`
	ImagesFound  int       `json:"images_found"`
	State        ScanState `json:"state"`
	ErrorMessage string    `json:"error_message,omitempty"`
	ScanMethod   string    `json:"scan_method,omitempty"`
}

// Location reconstructs the status row's content location
func (s *ScanStatus) Location() ContentLocation {
	return ContentLocation{ContentType: s.ContentType, ContentID: s.ContentID, ContentURL: s.ContentURL}
}

// ScanResult summarizes one orchestrator run (full-site or single item)
type ScanResult struct {
	RunID          string
	Success        bool
	Error          error
	ItemsProcessed int
	ItemsFailed    int
	ImagesFound    int
	Aborted        bool // true when a resource budget stopped the run early
	Duration       time.Duration
}

// CoverageGroup holds alt-text coverage for one grouping bucket
type CoverageGroup struct {
	Total    int     `json:"total"`
	WithAlt  int     `json:"with_alt"`
	Coverage float64 `json:"coverage"`
}

// CoverageReport aggregates alt-text coverage over active registry entries
type CoverageReport struct {
	GeneratedAt   time.Time                `json:"generated_at"`
	Overall       CoverageGroup            `json:"overall"`
	ByContentType map[string]CoverageGroup `json:"by_content_type"`
	ByContext     map[string]CoverageGroup `json:"by_context"`
}
