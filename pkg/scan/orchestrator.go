// Package scan orchestrates the discovery passes: full-site scans over every
// content type plus widgets and theme assets, targeted single-item rescans,
// the stuck-scan sweep, and retention maintenance.
package scan

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"image-audit/pkg/config"
	"image-audit/pkg/content"
	"image-audit/pkg/extract"
	"image-audit/pkg/locate"
	"image-audit/pkg/metrics"
	"image-audit/pkg/models"
	"image-audit/pkg/parse"
	"image-audit/pkg/registry"
	"image-audit/pkg/storage"
	"image-audit/pkg/utils"
)

// Orchestrator runs scans against the content store and records findings in
// the registry. A process runs at most one full scan at a time; overlapping
// requests fail fast instead of queueing.
type Orchestrator struct {
	cfg        config.AppConfig
	store      content.Store
	registry   *registry.Registry
	locator    *locate.Locator
	extractors *extract.Set
	widgets    *extract.WidgetScanner
	theme      *extract.ThemeScanner
	status     storage.StatusStore
	locks      storage.LockStore
	fullScan   *semaphore.Weighted
	log        *logrus.Entry
}

// NewOrchestrator wires a scan orchestrator
func NewOrchestrator(
	cfg config.AppConfig,
	store content.Store,
	reg *registry.Registry,
	locator *locate.Locator,
	extractors *extract.Set,
	widgets *extract.WidgetScanner,
	theme *extract.ThemeScanner,
	status storage.StatusStore,
	locks storage.LockStore,
	log *logrus.Entry,
) *Orchestrator {
	metrics.Init()
	return &Orchestrator{
		cfg:        cfg,
		store:      store,
		registry:   reg,
		locator:    locator,
		extractors: extractors,
		widgets:    widgets,
		theme:      theme,
		status:     status,
		locks:      locks,
		fullScan:   semaphore.NewWeighted(1),
		log:        log,
	}
}

// ScanAll runs a full-site scan: every configured content type page by page,
// then widgets, then theme assets. Item failures are isolated (recorded and
// skipped); the run itself fails only on budget exhaustion, cancellation, or
// a content store failure. Returns ErrScanInProgress when a full scan is
// already running in this process.
func (o *Orchestrator) ScanAll(ctx context.Context) (*models.ScanResult, error) {
	if !o.fullScan.TryAcquire(1) {
		return nil, utils.WrapErrorf(utils.ErrScanInProgress, "a full scan is already running")
	}
	defer o.fullScan.Release(1)

	runID := uuid.New().String()
	runLog := o.log.WithField("run_id", runID)
	runLog.WithField("content_types", o.cfg.ContentTypes).Info("Starting full scan")

	o.registry.ResetCache()
	bgt := newBudget(o.cfg.TimeBudget, o.cfg.MemoryBudgetBytes, o.cfg.BudgetThreshold)
	result := &models.ScanResult{RunID: runID}

	err := o.runFullScan(ctx, runLog, bgt, result)
	result.Duration = bgt.elapsed()
	result.Success = err == nil && !result.Aborted
	result.Error = err

	status := "success"
	switch {
	case result.Aborted:
		status = "aborted"
	case err != nil:
		status = "failure"
	}
	metrics.ScansTotal.WithLabelValues("full", status).Inc()
	metrics.ScanDuration.WithLabelValues("full").Observe(result.Duration.Seconds())

	runLog.WithFields(logrus.Fields{
		"items_processed": result.ItemsProcessed,
		"items_failed":    result.ItemsFailed,
		"images_found":    result.ImagesFound,
		"aborted":         result.Aborted,
		"duration":        result.Duration.Round(time.Millisecond).String(),
	}).Info("Full scan finished")

	return result, err
}

func (o *Orchestrator) runFullScan(ctx context.Context, runLog *logrus.Entry, bgt *budget, result *models.ScanResult) error {
	for _, contentType := range o.cfg.ContentTypes {
		for offset := 0; ; offset += o.cfg.BatchSize {
			if err := ctx.Err(); err != nil {
				return err
			}
			if reason, out := bgt.exhausted(); out {
				o.abort(runLog, result, reason)
				return utils.WrapErrorf(utils.ErrResourceExhaustion, "%s", reason)
			}

			items, err := o.store.ListItems(ctx, contentType, offset, o.cfg.BatchSize)
			if err != nil {
				return utils.WrapErrorf(utils.ErrContentStore, "listing %s items at offset %d: %v", contentType, offset, err)
			}
			if len(items) == 0 {
				break
			}

			for _, item := range items {
				if err := ctx.Err(); err != nil {
					return err
				}
				if reason, out := bgt.exhausted(); out {
					o.abort(runLog, result, reason)
					return utils.WrapErrorf(utils.ErrResourceExhaustion, "%s", reason)
				}
				o.scanItemIsolated(ctx, runLog, item, result)
			}
			if len(items) < o.cfg.BatchSize {
				break
			}
		}
	}

	if reason, out := bgt.exhausted(); out {
		o.abort(runLog, result, reason)
		return utils.WrapErrorf(utils.ErrResourceExhaustion, "%s", reason)
	}

	if o.cfg.Extractors.WidgetsEnabled() {
		if err := o.scanWidgets(ctx, runLog, result); err != nil {
			return err
		}
	}
	if o.cfg.Extractors.ThemeEnabled() {
		if err := o.scanTheme(ctx, runLog, result); err != nil {
			return err
		}
	}
	return nil
}

// scanItemIsolated runs one item scan, containing its failure to the item
func (o *Orchestrator) scanItemIsolated(ctx context.Context, runLog *logrus.Entry, item *content.Item, result *models.ScanResult) {
	found, err := o.scanItem(ctx, item)
	if err != nil {
		result.ItemsFailed++
		metrics.ItemsScanned.WithLabelValues(item.Type, "error").Inc()
		runLog.WithFields(logrus.Fields{
			"content_type": item.Type,
			"content_id":   item.ID,
			"category":     utils.CategorizeError(err),
		}).Warnf("Item scan failed: %v", err)
		return
	}
	result.ItemsProcessed++
	result.ImagesFound += found
	metrics.ItemsScanned.WithLabelValues(item.Type, "ok").Inc()
}

// ScanOne rescans a single content item under its advisory lock. A concurrent
// holder makes this a no-op returning ErrLocked, so burst triggers (e.g. a
// save event firing twice) collapse to one scan.
func (o *Orchestrator) ScanOne(ctx context.Context, itemID int64) (*models.ScanResult, error) {
	item, err := o.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, utils.WrapErrorf(utils.ErrContentStore, "loading item %d: %v", itemID, err)
	}
	if item == nil {
		return nil, utils.WrapErrorf(utils.ErrValidation, "item %d does not exist", itemID)
	}

	loc := models.PostLocation(item.Type, item.ID)
	token := uuid.New().String()
	acquired, err := o.locks.AcquireLock(loc.Key(), token, o.cfg.ItemLockTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, utils.WrapErrorf(utils.ErrLocked, "item %s is being scanned elsewhere", loc.String())
	}
	defer func() {
		if errRelease := o.locks.ReleaseLock(loc.Key(), token); errRelease != nil {
			o.log.Warnf("Failed to release scan lock for %s: %v", loc.String(), errRelease)
		}
	}()

	start := time.Now()
	result := &models.ScanResult{RunID: uuid.New().String()}
	found, err := o.scanItem(ctx, item)
	result.Duration = time.Since(start)
	if err != nil {
		result.ItemsFailed = 1
		result.Error = err
		metrics.ScansTotal.WithLabelValues("single", "failure").Inc()
		return result, err
	}
	result.ItemsProcessed = 1
	result.ImagesFound = found
	result.Success = true
	metrics.ScansTotal.WithLabelValues("single", "success").Inc()
	metrics.ScanDuration.WithLabelValues("single").Observe(result.Duration.Seconds())
	return result, nil
}

// scanItem extracts, records, and reconciles one content item, maintaining
// its status row through the pass. Reconciliation runs strictly after every
// upsert of the pass has committed, so a mid-pass failure can only leave
// stale-active entries, never wrongly-retired ones.
func (o *Orchestrator) scanItem(ctx context.Context, item *content.Item) (int, error) {
	loc := models.PostLocation(item.Type, item.ID)
	start := time.Now()

	o.writeStatus(loc, &models.ScanStatus{
		State:       models.ScanStateScanning,
		LastScanned: start,
		ScanMethod:  "item",
	})

	refs, err := o.extractors.Extract(ctx, item)
	if err != nil {
		err = utils.WrapErrorf(utils.ErrScanItem, "extracting %s: %v", loc.String(), err)
		o.failStatus(loc, start, err)
		return 0, err
	}

	found, keep, err := o.recordRefs(ctx, loc, refs)
	if err != nil {
		err = utils.WrapErrorf(utils.ErrScanItem, "recording %s: %v", loc.String(), err)
		o.failStatus(loc, start, err)
		return 0, err
	}

	retired, err := o.registry.Reconcile(loc, keep)
	if err != nil {
		err = utils.WrapErrorf(utils.ErrScanItem, "reconciling %s: %v", loc.String(), err)
		o.failStatus(loc, start, err)
		return 0, err
	}
	metrics.EntriesRetired.Add(float64(retired))

	o.writeStatus(loc, &models.ScanStatus{
		State:        models.ScanStateCompleted,
		LastScanned:  time.Now(),
		ScanDuration: time.Since(start).Seconds(),
		ImagesFound:  found,
		ScanMethod:   "item",
	})
	return found, nil
}

// scanWidgets records each widget instance under its own location
func (o *Orchestrator) scanWidgets(ctx context.Context, runLog *logrus.Entry, result *models.ScanResult) error {
	widgets, err := o.store.Widgets(ctx)
	if err != nil {
		return utils.WrapErrorf(utils.ErrContentStore, "listing widgets: %v", err)
	}

	for i := range widgets {
		widget := &widgets[i]
		loc := o.widgets.Location(widget)
		start := time.Now()

		refs, err := o.widgets.Scan(ctx, widget)
		if err == nil {
			var found int
			var keep map[string]struct{}
			found, keep, err = o.recordRefs(ctx, loc, refs)
			if err == nil {
				var retired int
				retired, err = o.registry.Reconcile(loc, keep)
				if err == nil {
					metrics.EntriesRetired.Add(float64(retired))
					result.ItemsProcessed++
					result.ImagesFound += found
					o.writeStatus(loc, &models.ScanStatus{
						State:        models.ScanStateCompleted,
						LastScanned:  time.Now(),
						ScanDuration: time.Since(start).Seconds(),
						ImagesFound:  found,
						ScanMethod:   "widget",
					})
					continue
				}
			}
		}

		result.ItemsFailed++
		err = utils.WrapErrorf(utils.ErrScanItem, "scanning widget %s: %v", loc.String(), err)
		o.failStatus(loc, start, err)
		runLog.WithField("location", loc.String()).Warnf("Widget scan failed: %v", err)
	}
	return nil
}

// scanTheme records the theme image slots. Every slot location is reconciled
// even when empty, so clearing the logo retires its old entry.
func (o *Orchestrator) scanTheme(ctx context.Context, runLog *logrus.Entry, result *models.ScanResult) error {
	assets, err := o.store.ThemeAssets(ctx)
	if err != nil {
		return utils.WrapErrorf(utils.ErrContentStore, "loading theme assets: %v", err)
	}

	images, err := o.theme.Scan(ctx, &assets)
	if err != nil {
		runLog.Warnf("Theme scan failed: %v", err)
		result.ItemsFailed++
		return nil
	}

	keepByLoc := map[string]map[string]struct{}{}
	locByKey := map[string]models.ContentLocation{}
	for _, loc := range extract.ThemeSlotLocations() {
		keepByLoc[loc.Key()] = map[string]struct{}{}
		locByKey[loc.Key()] = loc
	}

	for _, img := range images {
		found, keep, err := o.recordRefs(ctx, img.Location, []models.ImageReference{img.Reference})
		if err != nil {
			result.ItemsFailed++
			runLog.WithField("location", img.Location.String()).Warnf("Theme slot scan failed: %v", err)
			continue
		}
		result.ImagesFound += found
		key := img.Location.Key()
		if keepByLoc[key] == nil {
			keepByLoc[key] = map[string]struct{}{}
			locByKey[key] = img.Location
		}
		for url := range keep {
			keepByLoc[key][url] = struct{}{}
		}
	}

	for key, keep := range keepByLoc {
		retired, err := o.registry.Reconcile(locByKey[key], keep)
		if err != nil {
			runLog.Warnf("Theme reconciliation failed for %s: %v", locByKey[key].String(), err)
			continue
		}
		metrics.EntriesRetired.Add(float64(retired))
	}
	result.ItemsProcessed++
	return nil
}

// recordRefs upserts the references for a location and returns the recorded
// count plus the normalized keep-set for reconciliation
func (o *Orchestrator) recordRefs(ctx context.Context, loc models.ContentLocation, refs []models.ImageReference) (int, map[string]struct{}, error) {
	keep := make(map[string]struct{}, len(refs))
	found := 0
	for _, ref := range refs {
		_, recorded, err := o.registry.Upsert(ctx, loc, ref)
		if err != nil {
			return 0, nil, err
		}
		if !recorded {
			metrics.RegistryUpserts.WithLabelValues("skipped").Inc()
			continue
		}
		metrics.RegistryUpserts.WithLabelValues("recorded").Inc()
		metrics.ImagesFound.Inc()
		keep[parse.NormalizeImageURL(ref.URL)] = struct{}{}
		found++
	}
	return found, keep, nil
}

// SweepStuck re-triggers item scans whose status rows sat in a non-terminal
// state past the configured threshold (typically a crashed process). Returns
// the number of rescans attempted.
func (o *Orchestrator) SweepStuck(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-o.cfg.StuckScanThreshold)
	stuck, err := o.status.ListStuckScans(cutoff)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, row := range stuck {
		if err := ctx.Err(); err != nil {
			return swept, err
		}
		if row.ContentID == nil {
			// Widget/theme locations recover on the next full scan
			continue
		}
		swept++
		if _, err := o.ScanOne(ctx, *row.ContentID); err != nil {
			o.log.WithField("location", row.Location().String()).
				Warnf("Stuck-scan retry failed: %v", err)
		}
	}
	if swept > 0 {
		o.log.WithField("count", swept).Info("Re-triggered stuck scans")
	}
	return swept, nil
}

// PurgeRetention hard-deletes retired registry entries and unverified locator
// cache entries outside their retention windows
func (o *Orchestrator) PurgeRetention() error {
	entries, err := o.registry.PurgeStale(o.cfg.RegistryRetention)
	if err != nil {
		return err
	}
	cached, err := o.locator.Purge(o.cfg.LocatorRetention)
	if err != nil {
		return err
	}
	if entries > 0 || cached > 0 {
		o.log.WithFields(logrus.Fields{
			"registry_entries": entries,
			"locator_entries":  cached,
		}).Info("Retention purge removed expired records")
	}
	return nil
}

func (o *Orchestrator) abort(runLog *logrus.Entry, result *models.ScanResult, reason string) {
	result.Aborted = true
	runLog.WithField("reason", reason).Warn("Scan stopped early; committed work is kept")
}

// writeStatus persists a status row for the location, filling the location
// columns from loc
func (o *Orchestrator) writeStatus(loc models.ContentLocation, status *models.ScanStatus) {
	status.ContentType = loc.ContentType
	status.ContentID = loc.ContentID
	status.ContentURL = loc.ContentURL
	if err := o.status.PutScanStatus(status); err != nil {
		o.log.Warnf("Failed to write scan status for %s: %v", loc.String(), err)
	}
}

func (o *Orchestrator) failStatus(loc models.ContentLocation, start time.Time, cause error) {
	o.writeStatus(loc, &models.ScanStatus{
		State:        models.ScanStateError,
		LastScanned:  time.Now(),
		ScanDuration: time.Since(start).Seconds(),
		ErrorMessage: utils.CategorizeError(cause) + ": " + cause.Error(),
		ScanMethod:   "item",
	})
}
