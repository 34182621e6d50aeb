package reversesync

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/retailops/rms-bridge/pkg/catalog"
	"github.com/retailops/rms-bridge/pkg/locks"
)

// Skip reasons recorded on product-level outcomes.
const (
	SkipNoParentCode = "no_parent_code"
	SkipNoVariants   = "no_variants"
	SkipLocked       = "locked_by_other_run"
	SkipNoStockData  = "no_authoritative_stock"
)

// runParams are the per-run settings shared by every product task.
type runParams struct {
	marker                string
	locationID            string
	dryRun                bool
	deleteZeroStock       bool
	preserveSingleVariant bool
	lockTTL               time.Duration
	stats                 *Statistics
}

// Reconciler drives the per-product state machine: lock, classify,
// batch update, validated delete, tag. Applied updates are rolled back
// when a later phase fails.
type Reconciler struct {
	catalog   CatalogService
	resolver  *StockResolver
	validator *DeletionValidator
	rollback  *RollbackCoordinator
	locks     locks.Manager
	logger    *slog.Logger
}

// NewReconciler wires the per-product state machine.
func NewReconciler(cat CatalogService, resolver *StockResolver, validator *DeletionValidator,
	rollback *RollbackCoordinator, lockMgr locks.Manager, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		catalog:   cat,
		resolver:  resolver,
		validator: validator,
		rollback:  rollback,
		locks:     lockMgr,
		logger:    logger.With("component", "reconciler"),
	}
}

// updateCandidate pairs an inventory adjustment with the data needed to
// ledger and audit it.
type updateCandidate struct {
	variant    catalog.Variant
	adjustment catalog.InventoryAdjustment
}

// Process reconciles one product. Every exit path releases the lock.
func (r *Reconciler) Process(ctx context.Context, run *runParams, product catalog.Product) Outcome {
	code := product.ParentCode()
	run.stats.addProduct(code != "", len(product.Variants))

	if code == "" {
		run.stats.addSkipped(len(product.Variants))
		r.logger.InfoContext(ctx, "product has no parent code, out of scope",
			"product", product.Title)
		return skipped(SkipNoParentCode)
	}
	if len(product.Variants) == 0 {
		return skipped(SkipNoVariants)
	}

	lease, ok, err := r.locks.Acquire(ctx, catalog.NumericID(product.ID), run.lockTTL)
	if err != nil {
		// Lock backend trouble must not fail the product; treat it as
		// contention and let a later run pick the product up.
		r.logger.WarnContext(ctx, "lock backend error, skipping product",
			"product", product.Title, "error", err)
		run.stats.addSkipped(len(product.Variants))
		return skipped(SkipLocked)
	}
	if !ok {
		r.logger.InfoContext(ctx, "product locked by another run, skipping",
			"product", product.Title)
		run.stats.addSkipped(len(product.Variants))
		return skipped(SkipLocked)
	}
	defer lease.Release(ctx)

	stock := r.resolver.StockByParentCode(ctx, code)
	if len(stock) == 0 {
		r.logger.WarnContext(ctx, "no authoritative stock for code, skipping",
			"product", product.Title, "code", code)
		run.stats.addSkipped(len(product.Variants))
		return skipped(SkipNoStockData)
	}

	updates, deletes := r.classifyVariants(run, product, stock)

	ledger, err := r.applyUpdates(ctx, run, updates)
	if err != nil {
		// Nothing ledgered when the batch call itself fails, but run the
		// coordinator anyway so the failure path is uniform.
		r.rollback.Rollback(ctx, ledger)
		run.stats.addError(product.Title, err)
		return failed(err)
	}

	if err := r.applyDeletes(ctx, run, product, deletes); err != nil {
		r.rollback.Rollback(ctx, ledger)
		run.stats.addError(product.Title, err)
		return failed(err)
	}

	if err := r.tagProduct(ctx, run, product); err != nil {
		r.rollback.Rollback(ctx, ledger)
		run.stats.addError(product.Title, err)
		return failed(err)
	}

	return Outcome{Kind: OutcomeSuccess}
}

// classifyVariants splits the product's variants into update and delete
// candidates. NoOp variants produce nothing.
func (r *Reconciler) classifyVariants(run *runParams, product catalog.Product, stock map[string]int) ([]updateCandidate, []catalog.Variant) {
	var updates []updateCandidate
	var deletes []catalog.Variant

	for _, v := range product.Variants {
		authoritativeQty := stock[strings.ToLower(v.SKU)]
		decision := classify(v.InventoryQuantity, authoritativeQty, run.deleteZeroStock)
		switch decision.Kind {
		case DecisionDelete:
			deletes = append(deletes, v)
		case DecisionUpdate:
			updates = append(updates, updateCandidate{
				variant: v,
				adjustment: catalog.InventoryAdjustment{
					InventoryItemID: v.InventoryItemID,
					LocationID:      run.locationID,
					Available:       decision.TargetQty,
				},
			})
		}
	}
	return updates, deletes
}

// applyUpdates submits all update candidates as one batched write and
// returns the ledger of applied entries. Partial failures are counted as
// errors but do not abort the product; only a failed batch call does.
func (r *Reconciler) applyUpdates(ctx context.Context, run *runParams, updates []updateCandidate) ([]LedgerEntry, error) {
	if len(updates) == 0 {
		return nil, nil
	}

	if run.dryRun {
		for _, u := range updates {
			run.stats.addUpdated(UpdatedDetail{
				SKU:    u.variant.SKU,
				OldQty: u.variant.InventoryQuantity,
				NewQty: u.adjustment.Available,
				DryRun: true,
			})
		}
		return nil, nil
	}

	adjustments := make([]catalog.InventoryAdjustment, len(updates))
	for i, u := range updates {
		adjustments[i] = u.adjustment
	}

	result, err := r.catalog.BatchUpdateInventory(ctx, adjustments)
	if err != nil {
		return nil, fmt.Errorf("batch inventory update failed: %w", err)
	}

	var ledger []LedgerEntry
	for _, u := range updates {
		if slices.Contains(result.Applied, u.adjustment.InventoryItemID) {
			ledger = append(ledger, LedgerEntry{
				SKU:             u.variant.SKU,
				InventoryItemID: u.adjustment.InventoryItemID,
				LocationID:      u.adjustment.LocationID,
				PreviousQty:     u.variant.InventoryQuantity,
			})
			run.stats.addUpdated(UpdatedDetail{
				SKU:    u.variant.SKU,
				OldQty: u.variant.InventoryQuantity,
				NewQty: u.adjustment.Available,
			})
		}
	}
	for _, be := range result.Errors {
		run.stats.addError(be.InventoryItemID, fmt.Errorf("inventory update rejected: %s", be.Message))
	}
	return ledger, nil
}

// applyDeletes validates and executes the delete candidates. A deletion
// API failure aborts the product (triggering rollback in the caller);
// validation blocks are skips, not errors.
func (r *Reconciler) applyDeletes(ctx context.Context, run *runParams, product catalog.Product, deletes []catalog.Variant) error {
	if len(deletes) == 0 {
		return nil
	}

	if run.preserveSingleVariant && len(deletes) == len(product.Variants) {
		r.logger.InfoContext(ctx, "deletions would remove every variant, preserving product",
			"product", product.Title, "candidates", len(deletes))
		run.stats.addSkipped(len(deletes))
		return nil
	}

	for _, v := range deletes {
		if run.dryRun {
			run.stats.addDeleted(DeletedDetail{SKU: v.SKU, Reason: "zero_stock", DryRun: true})
			continue
		}

		allowed, reason := r.validator.CanDelete(ctx, v)
		if !allowed {
			r.logger.InfoContext(ctx, "deletion blocked by validation",
				"sku", v.SKU, "reason", reason)
			run.stats.addSkipped(1)
			continue
		}

		if err := r.catalog.DeleteVariant(ctx, product.ID, v.ID); err != nil {
			return fmt.Errorf("failed to delete variant %s: %w", v.SKU, err)
		}
		run.stats.addDeleted(DeletedDetail{SKU: v.SKU, Reason: reason})
		r.logger.InfoContext(ctx, "deleted zero-stock variant", "sku", v.SKU, "reason", reason)
	}
	return nil
}

// tagProduct appends the daily sync marker so pagination excludes the
// product for the rest of the UTC day. Already-tagged products are a
// no-op, which makes re-tagging idempotent.
func (r *Reconciler) tagProduct(ctx context.Context, run *runParams, product catalog.Product) error {
	if run.dryRun {
		return nil
	}

	tags, err := r.catalog.ProductTags(ctx, product.ID)
	if err != nil {
		return fmt.Errorf("failed to read tags: %w", err)
	}
	if slices.Contains(tags, run.marker) {
		return nil
	}
	if err := r.catalog.UpdateProductTags(ctx, product.ID, append(tags, run.marker)); err != nil {
		return fmt.Errorf("failed to tag product: %w", err)
	}
	return nil
}
