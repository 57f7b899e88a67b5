package models

// ScanState represents the lifecycle state of a location's scan
type ScanState string

const (
	ScanStateUnset     ScanState = ""          // Zero value = unset/unknown
	ScanStatePending   ScanState = "pending"   // Location queued but not processed
	ScanStateScanning  ScanState = "scanning"  // Scan in progress
	ScanStateCompleted ScanState = "completed" // Scan finished successfully
	ScanStateError     ScanState = "error"     // Scan failed for this location
)

// String implements fmt.Stringer for logging
func (s ScanState) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the state is a known operational value
func (s ScanState) IsValid() bool {
	switch s {
	case ScanStatePending, ScanStateScanning, ScanStateCompleted, ScanStateError:
		return true
	}
	return false
}

// IsTerminal returns true once a scan can no longer be considered in-flight
func (s ScanState) IsTerminal() bool {
	return s == ScanStateCompleted || s == ScanStateError
}

// IsValid reports whether the context is one of the known buckets
func (c ImageContext) IsValid() bool {
	switch c {
	case ContextContent, ContextFeatured, ContextBackground, ContextCustomField,
		ContextWidget, ContextLogo, ContextIcon, ContextPageBuilder:
		return true
	}
	return false
}
