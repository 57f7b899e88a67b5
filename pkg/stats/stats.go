// Package stats aggregates alt-text coverage over the active registry
// entries, fronted by a short-lived cache so dashboard polling does not
// re-walk the registry on every request.
package stats

import (
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"image-audit/pkg/metrics"
	"image-audit/pkg/models"
	"image-audit/pkg/storage"
)

const coverageCacheKey = "coverage"

// Reporter computes coverage reports
type Reporter struct {
	store    storage.RegistryStore
	cache    storage.StatsCache
	cacheTTL time.Duration
	log      *logrus.Entry
}

// NewReporter creates a coverage reporter
func NewReporter(store storage.RegistryStore, cache storage.StatsCache, cacheTTL time.Duration, log *logrus.Entry) *Reporter {
	metrics.Init()
	return &Reporter{store: store, cache: cache, cacheTTL: cacheTTL, log: log}
}

// Coverage returns the alt-text coverage report, serving an unexpired cached
// copy when one exists. Only active entries count: retired images no longer
// exist on the site and must not drag coverage down.
func (r *Reporter) Coverage() (*models.CoverageReport, error) {
	if payload, hit, err := r.cache.GetStats(coverageCacheKey); err != nil {
		r.log.Warnf("Stats cache read failed, recomputing: %v", err)
	} else if hit {
		var report models.CoverageReport
		if err := json.Unmarshal(payload, &report); err == nil {
			return &report, nil
		}
		r.log.Warn("Discarding undecodable cached coverage report")
	}

	report, err := r.compute()
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(report); err == nil {
		if errPut := r.cache.PutStats(coverageCacheKey, payload, r.cacheTTL); errPut != nil {
			r.log.Warnf("Failed to cache coverage report: %v", errPut)
		}
	}

	r.export(report)
	return report, nil
}

// Invalidate is called after scans so the next Coverage reflects fresh data
// ahead of the TTL. A zero-TTL re-put expires the cached copy immediately.
func (r *Reporter) Invalidate() {
	if err := r.cache.PutStats(coverageCacheKey, nil, time.Millisecond); err != nil {
		r.log.Warnf("Failed to invalidate stats cache: %v", err)
	}
}

func (r *Reporter) compute() (*models.CoverageReport, error) {
	report := &models.CoverageReport{
		GeneratedAt:   time.Now(),
		ByContentType: make(map[string]models.CoverageGroup),
		ByContext:     make(map[string]models.CoverageGroup),
	}

	err := r.store.IterateEntries(func(entry *models.RegistryEntry) error {
		if !entry.IsActive {
			return nil
		}
		tally(&report.Overall, entry)
		tallyMap(report.ByContentType, entry.ContentType, entry)
		tallyMap(report.ByContext, string(entry.Context), entry)
		return nil
	})
	if err != nil {
		return nil, err
	}

	finalize(&report.Overall)
	for key, group := range report.ByContentType {
		finalize(&group)
		report.ByContentType[key] = group
	}
	for key, group := range report.ByContext {
		finalize(&group)
		report.ByContext[key] = group
	}
	return report, nil
}

func tally(group *models.CoverageGroup, entry *models.RegistryEntry) {
	group.Total++
	if entry.HasAltText {
		group.WithAlt++
	}
}

func tallyMap(groups map[string]models.CoverageGroup, key string, entry *models.RegistryEntry) {
	if key == "" {
		key = "unknown"
	}
	group := groups[key]
	tally(&group, entry)
	groups[key] = group
}

// finalize computes the ratio; an empty group reports full coverage since
// there is nothing missing alt text
func finalize(group *models.CoverageGroup) {
	if group.Total == 0 {
		group.Coverage = 1.0
		return
	}
	group.Coverage = float64(group.WithAlt) / float64(group.Total)
}

// export mirrors the report into the Prometheus gauges
func (r *Reporter) export(report *models.CoverageReport) {
	metrics.AltCoverage.WithLabelValues("overall", "all").Set(report.Overall.Coverage)
	metrics.ActiveImages.WithLabelValues("overall", "all").Set(float64(report.Overall.Total))
	for key, group := range report.ByContentType {
		metrics.AltCoverage.WithLabelValues("content_type", key).Set(group.Coverage)
		metrics.ActiveImages.WithLabelValues("content_type", key).Set(float64(group.Total))
	}
	for key, group := range report.ByContext {
		metrics.AltCoverage.WithLabelValues("context", key).Set(group.Coverage)
		metrics.ActiveImages.WithLabelValues("context", key).Set(float64(group.Total))
	}
}
