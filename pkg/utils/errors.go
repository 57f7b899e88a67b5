package utils

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrValidation         = errors.New("validation error")            // Malformed image URL or missing required field
	ErrParsing            = errors.New("parsing error")               // Wraps specific parsing error (HTML, URL, JSON)
	ErrDatabase           = errors.New("database error")              // Wraps badger errors
	ErrResolution         = errors.New("resource resolution failure") // Locator could not query the media library
	ErrScanItem           = errors.New("scan item failure")           // A single content item failed during a scan
	ErrResourceExhaustion = errors.New("resource budget exhausted")   // Time/memory ceiling reached, run stopped early
	ErrScanInProgress     = errors.New("scan already in progress")    // Another full scan holds the run guard
	ErrLocked             = errors.New("content item locked")         // Advisory lock held by a concurrent scan
	ErrConfigValidation   = errors.New("configuration validation error")
	ErrContentStore       = errors.New("content store error") // Wraps errors from the content source
)

// CategorizeError maps an error to a predefined category string for scan
// status rows, logs, and metrics labels.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	switch {
	case errors.Is(err, ErrValidation):
		return "Validation"
	case errors.Is(err, ErrParsing):
		errMsg := err.Error()
		if strings.Contains(errMsg, "URL") {
			return "Parsing_URL"
		}
		if strings.Contains(errMsg, "HTML") {
			return "Parsing_HTML"
		}
		if strings.Contains(errMsg, "JSON") {
			return "Parsing_JSON"
		}
		return "Parsing_Other"
	case errors.Is(err, ErrDatabase):
		return "Database"
	case errors.Is(err, ErrResolution):
		return "Resolution"
	case errors.Is(err, ErrScanItem):
		return "ScanItem"
	case errors.Is(err, ErrResourceExhaustion):
		return "Resource_Budget"
	case errors.Is(err, ErrScanInProgress):
		return "Scan_InProgress"
	case errors.Is(err, ErrLocked):
		return "Item_Locked"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	case errors.Is(err, ErrContentStore):
		return "ContentStore"
	}

	// Context errors
	if errors.Is(err, context.Canceled) {
		return "System_ContextCanceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "System_ContextDeadlineExceeded"
	}

	return "Unknown"
}

// WrapErrorf wraps a sentinel error with formatted detail. Kept tiny so call
// sites stay readable: WrapErrorf(ErrValidation, "bad url '%s'", u).
func WrapErrorf(sentinel error, format string, args ...interface{}) error {
	if sentinel == nil {
		return nil
	}
	return fmt.Errorf("%w: "+format, append([]interface{}{sentinel}, args...)...)
}
