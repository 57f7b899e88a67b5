package scan

import (
	"fmt"
	"runtime"
	"time"
)

// budget tracks the wall-clock and heap ceilings of one scan run. A run stops
// early once either usage crosses the configured fraction of its limit, so
// work committed so far survives instead of being lost to a hard kill.
type budget struct {
	started   time.Time
	timeLimit time.Duration
	memLimit  int64
	threshold float64
}

func newBudget(timeLimit time.Duration, memLimit int64, threshold float64) *budget {
	return &budget{
		started:   time.Now(),
		timeLimit: timeLimit,
		memLimit:  memLimit,
		threshold: threshold,
	}
}

// exhausted reports whether a budget has crossed its threshold, with a
// human-readable reason for the status record
func (b *budget) exhausted() (string, bool) {
	if b.timeLimit > 0 {
		elapsed := time.Since(b.started)
		if elapsed >= time.Duration(float64(b.timeLimit)*b.threshold) {
			return fmt.Sprintf("time budget: %s elapsed of %s limit", elapsed.Round(time.Millisecond), b.timeLimit), true
		}
	}
	if b.memLimit > 0 {
		var stats runtime.MemStats
		runtime.ReadMemStats(&stats)
		if stats.HeapAlloc >= uint64(float64(b.memLimit)*b.threshold) {
			return fmt.Sprintf("memory budget: %d bytes allocated of %d limit", stats.HeapAlloc, b.memLimit), true
		}
	}
	return "", false
}

// elapsed returns the run's age
func (b *budget) elapsed() time.Duration {
	return time.Since(b.started)
}
