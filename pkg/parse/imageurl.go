package parse

import (
	"net"
	"net/url"
	"path"
	"strings"
)

// imageExtensions lists recognized image file extensions.
var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
	".gif":  true,
	".bmp":  true,
	".tiff": true,
	".tif":  true,
	".svg":  true,
	".avif": true,
	".ico":  true,
}

// IsImageURL reports whether raw is a syntactically valid URL (absolute
// http/https or root-relative path) ending in a recognized image extension.
// This is the validation boundary shared by extractors and the registry:
// anything failing here is skipped, never stored.
func IsImageURL(raw string) bool {
	u, ok := parseImageURL(raw)
	if !ok {
		return false
	}
	return HasImageExtension(u.Path)
}

// HasImageExtension checks the path component only; query strings and
// fragments must already be stripped by the caller.
func HasImageExtension(urlPath string) bool {
	return imageExtensions[strings.ToLower(path.Ext(urlPath))]
}

// parseImageURL accepts absolute http/https URLs and root-relative paths.
// Everything else (data: URIs, schemeless host-relative strings, garbage) is
// rejected.
func parseImageURL(raw string) (*url.URL, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}

	if strings.HasPrefix(raw, "/") && !strings.HasPrefix(raw, "//") {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, false
		}
		return u, true
	}

	// url.Parse rather than ParseRequestURI: the latter leaves fragments in
	// the path, which would make absolute and root-relative URLs disagree.
	u, err := url.Parse(raw)
	if err != nil {
		return nil, false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	if u.Host == "" {
		return nil, false
	}
	return u, true
}

// NormalizeImageURL standardizes an image URL for dedup and store keys. It
// lowercases the scheme and host, removes default ports, and strips the
// fragment. The query string is preserved: CDN resize parameters make
// otherwise-identical paths distinct images.
// Returns the input unchanged (trimmed) when it does not parse as an image
// URL; validation is IsImageURL's job, not this function's.
func NormalizeImageURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, ok := parseImageURL(raw)
	if !ok {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if host, port, err := net.SplitHostPort(u.Host); err == nil {
		if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
			u.Host = host
		}
	}

	u.Fragment = ""
	return u.String()
}
