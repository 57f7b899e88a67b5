package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScansTotal         *prometheus.CounterVec
	ScanDuration       *prometheus.HistogramVec
	ItemsScanned       *prometheus.CounterVec
	ImagesFound        prometheus.Counter
	RegistryUpserts    *prometheus.CounterVec
	EntriesRetired     prometheus.Counter
	LocatorResolutions *prometheus.CounterVec
	AltCoverage        *prometheus.GaugeVec
	ActiveImages       *prometheus.GaugeVec
)

var initOnce sync.Once

// Init registers the collectors with the default registry. Safe to call more
// than once; registration happens on the first call.
func Init() {
	initOnce.Do(register)
}

func register() {
	ScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "image_audit_scans_total",
			Help: "Total number of scan runs.",
		},
		[]string{"mode", "status"}, // mode: full, single; status: success, failure, aborted
	)

	ScanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "image_audit_scan_duration_seconds",
			Help:    "Duration of scan runs.",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"mode"},
	)

	ItemsScanned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "image_audit_items_scanned_total",
			Help: "Content items processed by scans.",
		},
		[]string{"content_type", "status"}, // status: ok, error
	)

	ImagesFound = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "image_audit_images_found_total",
			Help: "Image references found by extractors, after dedup.",
		},
	)

	RegistryUpserts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "image_audit_registry_upserts_total",
			Help: "Registry upsert outcomes.",
		},
		[]string{"outcome"}, // recorded, skipped
	)

	EntriesRetired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "image_audit_entries_retired_total",
			Help: "Registry entries soft-retired by reconciliation.",
		},
	)

	LocatorResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "image_audit_locator_resolutions_total",
			Help: "URL-to-resource resolution outcomes.",
		},
		[]string{"outcome"}, // cache_hit, resolved, unmatched, error
	)

	AltCoverage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "image_audit_alt_coverage_ratio",
			Help: "Fraction of active images with alt text, per grouping.",
		},
		[]string{"group", "key"}, // group: overall, content_type, context
	)

	ActiveImages = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "image_audit_active_images",
			Help: "Active registry entries, per grouping.",
		},
		[]string{"group", "key"},
	)
}
