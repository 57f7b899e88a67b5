package config

import (
	"fmt"
	"time"

	"image-audit/pkg/utils"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// StateDir
	if c.StateDir == "" {
		warnings = append(warnings, "state_dir is empty, defaulting to './audit_state'")
		c.StateDir = "./audit_state"
	}

	// ContentTypes
	if len(c.ContentTypes) == 0 {
		c.ContentTypes = []string{"post", "page"}
	}

	// BatchSize
	if c.BatchSize <= 0 {
		warnings = append(warnings, "batch_size should be > 0, defaulting to 50")
		c.BatchSize = 50
	}

	// BudgetThreshold
	if c.BudgetThreshold <= 0 || c.BudgetThreshold > 1 {
		if c.BudgetThreshold != 0 {
			warnings = append(warnings, fmt.Sprintf(
				"budget_threshold %.2f out of (0,1], defaulting to 0.9", c.BudgetThreshold))
		}
		c.BudgetThreshold = 0.9
	}

	// TimeBudget / MemoryBudgetBytes: zero disables the check, negatives are invalid
	if c.TimeBudget < 0 {
		return warnings, utils.WrapErrorf(utils.ErrConfigValidation, "time_budget cannot be negative (%v)", c.TimeBudget)
	}
	if c.MemoryBudgetBytes < 0 {
		return warnings, utils.WrapErrorf(utils.ErrConfigValidation, "memory_budget_bytes cannot be negative (%d)", c.MemoryBudgetBytes)
	}

	// ItemLockTTL
	if c.ItemLockTTL <= 0 {
		c.ItemLockTTL = 20 * time.Second
	}

	// StuckScanThreshold
	if c.StuckScanThreshold <= 0 {
		c.StuckScanThreshold = 5 * time.Minute
	}

	// Retention windows
	if c.RegistryRetention <= 0 {
		c.RegistryRetention = 30 * 24 * time.Hour
	}
	if c.LocatorRetention <= 0 {
		c.LocatorRetention = 7 * 24 * time.Hour
	}
	if c.StatsCacheTTL <= 0 {
		c.StatsCacheTTL = time.Hour
	}

	// MaxWalkDepth
	if c.MaxWalkDepth <= 0 {
		c.MaxWalkDepth = 12
	}

	// MetaKeyAllowList: underscore-prefixed meta keys that still get scanned.
	// The featured-image id key is the one everybody forgets.
	if len(c.MetaKeyAllowList) == 0 {
		c.MetaKeyAllowList = []string{"_thumbnail_id"}
	}

	// Watch cadences
	if c.ScanInterval <= 0 {
		c.ScanInterval = 24 * time.Hour
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.PurgeInterval <= 0 {
		c.PurgeInterval = 24 * time.Hour
	}
	if c.SweepInterval >= c.StuckScanThreshold {
		warnings = append(warnings, fmt.Sprintf(
			"sweep_interval (%v) >= stuck_scan_threshold (%v); stuck scans will be recovered late",
			c.SweepInterval, c.StuckScanThreshold))
	}

	return warnings, nil
}
