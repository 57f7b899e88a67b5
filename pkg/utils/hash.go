package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// URLKeyLength is the fixed length of hashed URL keys in the persistent
// locator cache and registry composite keys.
const URLKeyLength = 32

// HashURLKey returns a fixed-length (32 hex chars) key for an image URL.
// Truncated SHA-256; collision risk is negligible at registry scale and the
// short key keeps store scans cheap.
func HashURLKey(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(sum[:])[:URLKeyLength]
}
