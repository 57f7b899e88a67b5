package config

import "time"

// ExtractorConfig toggles individual source extractors. Pointer fields are
// tri-state: nil means "use the default" (all extractors on, style scanning
// off), so a config file only needs to name what it changes.
type ExtractorConfig struct {
	Content      *bool `yaml:"content,omitempty"`
	ScanStyles   *bool `yaml:"scan_styles,omitempty"` // inline background-image in style attributes
	Blocks       *bool `yaml:"blocks,omitempty"`
	Elementor    *bool `yaml:"elementor,omitempty"`
	Beaver       *bool `yaml:"beaver,omitempty"`
	Shortcodes   *bool `yaml:"shortcodes,omitempty"`
	CustomFields *bool `yaml:"custom_fields,omitempty"`
	Widgets      *bool `yaml:"widgets,omitempty"`
	Theme        *bool `yaml:"theme,omitempty"`
}

// AppConfig holds the full application configuration, loaded once at startup
// and passed by value to the components that need it.
type AppConfig struct {
	StateDir   string `yaml:"state_dir"`
	SiteExport string `yaml:"site_export,omitempty"` // Path to the YAML site export read by the CLI content store

	// Content enumeration
	ContentTypes []string `yaml:"content_types,omitempty"` // Item types visited by a full scan, in order
	BatchSize    int      `yaml:"batch_size,omitempty"`    // Items fetched per page during a full scan

	// Resource governance
	TimeBudget        time.Duration `yaml:"time_budget,omitempty"`         // Wall-clock ceiling for a full scan (0 = none)
	MemoryBudgetBytes int64         `yaml:"memory_budget_bytes,omitempty"` // Heap ceiling for a full scan (0 = none)
	BudgetThreshold   float64       `yaml:"budget_threshold,omitempty"`    // Fraction of either budget that triggers early stop

	// Concurrency guards
	ItemLockTTL        time.Duration `yaml:"item_lock_ttl,omitempty"`        // Advisory per-item lock expiry
	StuckScanThreshold time.Duration `yaml:"stuck_scan_threshold,omitempty"` // Age after which pending/scanning rows are re-triggered

	// Retention
	RegistryRetention time.Duration `yaml:"registry_retention,omitempty"` // Inactive registry entries older than this are purged
	LocatorRetention  time.Duration `yaml:"locator_retention,omitempty"`  // Locator cache entries unverified this long are purged
	StatsCacheTTL     time.Duration `yaml:"stats_cache_ttl,omitempty"`    // Coverage report cache lifetime

	// Extraction
	Extractors       ExtractorConfig `yaml:"extractors,omitempty"`
	MaxWalkDepth     int             `yaml:"max_walk_depth,omitempty"`     // Recursion cap for builder/meta tree walks
	MetaKeyAllowList []string        `yaml:"meta_key_allow_list,omitempty"` // Underscore-prefixed meta keys still scanned

	// Watch mode
	ScanInterval  time.Duration `yaml:"scan_interval,omitempty"`  // Full scan cadence in watch mode
	SweepInterval time.Duration `yaml:"sweep_interval,omitempty"` // Stuck-scan sweep cadence in watch mode
	PurgeInterval time.Duration `yaml:"purge_interval,omitempty"` // Retention purge cadence in watch mode
}

func boolOrDefault(v *bool, def bool) bool {
	if v != nil {
		return *v
	}
	return def
}

// ContentEnabled reports whether the rendered-content extractor runs
func (e ExtractorConfig) ContentEnabled() bool { return boolOrDefault(e.Content, true) }

// ScanStylesEnabled reports whether inline style attributes are scanned for
// background-image URLs
func (e ExtractorConfig) ScanStylesEnabled() bool { return boolOrDefault(e.ScanStyles, false) }

// BlocksEnabled reports whether the block-tree extractor runs
func (e ExtractorConfig) BlocksEnabled() bool { return boolOrDefault(e.Blocks, true) }

// ElementorEnabled reports whether the Elementor tree extractor runs
func (e ExtractorConfig) ElementorEnabled() bool { return boolOrDefault(e.Elementor, true) }

// BeaverEnabled reports whether the Beaver Builder node extractor runs
func (e ExtractorConfig) BeaverEnabled() bool { return boolOrDefault(e.Beaver, true) }

// ShortcodesEnabled reports whether the shortcode extractor runs
func (e ExtractorConfig) ShortcodesEnabled() bool { return boolOrDefault(e.Shortcodes, true) }

// CustomFieldsEnabled reports whether the custom-field extractor runs
func (e ExtractorConfig) CustomFieldsEnabled() bool { return boolOrDefault(e.CustomFields, true) }

// WidgetsEnabled reports whether the widget extractor runs
func (e ExtractorConfig) WidgetsEnabled() bool { return boolOrDefault(e.Widgets, true) }

// ThemeEnabled reports whether the theme-location extractor runs
func (e ExtractorConfig) ThemeEnabled() bool { return boolOrDefault(e.Theme, true) }
