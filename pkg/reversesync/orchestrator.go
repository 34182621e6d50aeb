package reversesync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/retailops/rms-bridge/pkg/catalog"
	"github.com/retailops/rms-bridge/pkg/observability"
)

// Options configure one reverse sync run. Use DefaultOptions as the base
// so the documented defaults (delete zero stock on, 10 workers) apply.
type Options struct {
	DryRun                bool
	DeleteZeroStock       bool
	PreserveSingleVariant bool
	BatchSize             int
	Limit                 int // 0 = no limit
	MaxConcurrent         int
	LockTTL               time.Duration
	InterPageDelay        time.Duration
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		DeleteZeroStock:       true,
		PreserveSingleVariant: true,
		BatchSize:             50,
		MaxConcurrent:         10,
		LockTTL:               300 * time.Second,
		InterPageDelay:        500 * time.Millisecond,
	}
}

func (o *Options) applyDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 10
	}
	if o.LockTTL <= 0 {
		o.LockTTL = 300 * time.Second
	}
	if o.InterPageDelay <= 0 {
		o.InterPageDelay = 500 * time.Millisecond
	}
}

// Orchestrator pages unsynced products from the storefront and fans out
// per-product reconciliation under a concurrency cap. A single product's
// failure never aborts the run; only catalog pagination failure is
// fatal.
type Orchestrator struct {
	catalog    CatalogService
	reconciler *Reconciler
	obs        *observability.Provider
	logger     *slog.Logger
	now        func() time.Time
}

// NewOrchestrator wires the run driver. obs may come from a disabled
// provider; it is never nil-checked beyond instrument presence.
func NewOrchestrator(cat CatalogService, reconciler *Reconciler, obs *observability.Provider, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		catalog:    cat,
		reconciler: reconciler,
		obs:        obs,
		logger:     logger.With("component", "orchestrator"),
		now:        time.Now,
	}
}

// Execute runs one reverse sync and returns its report.
func (o *Orchestrator) Execute(ctx context.Context, opts Options) (*Report, error) {
	opts.applyDefaults()

	startedAt := o.now().UTC()
	// Computed once; a run spanning UTC midnight keeps this marker.
	marker := SyncMarker(startedAt)
	syncID := fmt.Sprintf("reverse-sync-%s-%s",
		startedAt.Format("20060102T150405Z"), uuid.NewString()[:8])

	ctx, span := o.obs.StartSpan(ctx, "reverse_sync.execute")
	defer span.End()

	o.logger.InfoContext(ctx, "starting reverse sync",
		"sync_id", syncID,
		"marker", marker,
		"dry_run", opts.DryRun,
		"delete_zero_stock", opts.DeleteZeroStock,
		"batch_size", opts.BatchSize,
		"max_concurrent", opts.MaxConcurrent,
		"limit", opts.Limit,
	)

	locationID, err := o.catalog.PrimaryLocationID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve primary location: %w", err)
	}

	stats := &Statistics{}
	run := &runParams{
		marker:                marker,
		locationID:            locationID,
		dryRun:                opts.DryRun,
		deleteZeroStock:       opts.DeleteZeroStock,
		preserveSingleVariant: opts.PreserveSingleVariant,
		lockTTL:               opts.LockTTL,
		stats:                 stats,
	}

	sem := semaphore.NewWeighted(int64(opts.MaxConcurrent))
	var wg sync.WaitGroup

	var fatalErr error
	cursor := ""
	fetched := 0

pageLoop:
	for {
		batch := opts.BatchSize
		if opts.Limit > 0 && opts.Limit-fetched < batch {
			batch = opts.Limit - fetched
		}
		if batch <= 0 {
			break
		}

		page, err := o.catalog.ProductsWithoutTag(ctx, marker, batch, cursor)
		if err != nil {
			// Pagination failure is the one fatal condition.
			fatalErr = fmt.Errorf("failed to page unsynced products: %w", err)
			break
		}

		for _, product := range page.Products {
			fetched++
			if err := sem.Acquire(ctx, 1); err != nil {
				fatalErr = fmt.Errorf("sync cancelled: %w", err)
				break pageLoop
			}
			wg.Add(1)
			go func(p catalog.Product) {
				defer wg.Done()
				defer sem.Release(1)
				o.processOne(ctx, run, p)
			}(product)
		}

		if !page.HasNextPage || (opts.Limit > 0 && fetched >= opts.Limit) {
			break
		}
		cursor = page.EndCursor

		if err := sleepFor(ctx, opts.InterPageDelay); err != nil {
			fatalErr = fmt.Errorf("sync cancelled: %w", err)
			break
		}
	}

	wg.Wait()

	if fatalErr != nil {
		o.logger.ErrorContext(ctx, "reverse sync aborted", "sync_id", syncID, "error", fatalErr)
		return nil, fatalErr
	}

	duration := o.now().UTC().Sub(startedAt)
	report := o.buildReport(syncID, startedAt, duration, opts, stats)
	o.obs.RecordRun(ctx, duration, opts.DryRun)

	o.logger.InfoContext(ctx, "reverse sync complete",
		"sync_id", syncID,
		"duration_seconds", report.DurationSeconds,
		"products_checked", report.Statistics.ProductsChecked,
		"variants_updated", report.Statistics.VariantsUpdated,
		"variants_deleted", report.Statistics.VariantsDeleted,
		"errors", report.Statistics.Errors,
		"skipped", report.Statistics.Skipped,
	)
	return report, nil
}

// processOne guards a single product task: a panic or failure in one
// product must never cancel sibling tasks.
func (o *Orchestrator) processOne(ctx context.Context, run *runParams, product catalog.Product) {
	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("panic during reconciliation: %v", rec)
			run.stats.addError(product.Title, err)
			o.obs.RecordError(ctx)
			o.logger.ErrorContext(ctx, "product task panicked",
				"product", product.Title, "error", err)
		}
	}()

	outcome := o.reconciler.Process(ctx, run, product)
	switch outcome.Kind {
	case OutcomeSuccess:
		o.obs.RecordProduct(ctx, "success")
	case OutcomeSkipped:
		o.obs.RecordProduct(ctx, "skipped")
	case OutcomeFailed:
		o.obs.RecordProduct(ctx, "failed")
		o.obs.RecordError(ctx)
	}
}

func (o *Orchestrator) buildReport(syncID string, startedAt time.Time, duration time.Duration, opts Options, stats *Statistics) *Report {
	snap := stats.snapshot()
	seconds := duration.Seconds()

	perf := Performance{MaxConcurrentWorkers: opts.MaxConcurrent}
	if seconds > 0 {
		perf.ThroughputProductsPerSecond = float64(snap.ProductsChecked) / seconds
		perf.ThroughputVariantsPerSecond = float64(snap.VariantsChecked) / seconds
	}
	if snap.ProductsChecked > 0 {
		perf.AvgTimePerProductSeconds = seconds / float64(snap.ProductsChecked)
	}

	denominator := snap.VariantsChecked
	if denominator < 1 {
		denominator = 1
	}
	successRate := float64(snap.VariantsUpdated+snap.VariantsDeleted) / float64(denominator) * 100

	return &Report{
		SyncID:          syncID,
		Timestamp:       startedAt,
		DryRun:          opts.DryRun,
		DeleteZeroStock: opts.DeleteZeroStock,
		DurationSeconds: seconds,
		SuccessRate:     successRate,
		Statistics:      snap,
		Performance:     perf,
		Details:         stats.details(),
	}
}

func sleepFor(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
