// Package reversesync reconciles storefront inventory back against the
// authoritative RMS stock. It scans catalog products missed by the
// forward sync, corrects or deletes their variants, and tags each
// product with a daily marker so a product is processed at most once per
// UTC day.
package reversesync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/retailops/rms-bridge/pkg/catalog"
	"github.com/retailops/rms-bridge/pkg/rms"
)

// markerPrefix is shared with the forward sync; the pagination query
// depends on the exact format.
const markerPrefix = "RMS-SYNC"

// SyncMarker returns the daily sync tag for the given instant, e.g.
// RMS-SYNC-25-06-01. Always UTC.
func SyncMarker(t time.Time) string {
	u := t.UTC()
	return fmt.Sprintf("%s-%02d-%02d-%02d", markerPrefix, u.Year()%100, int(u.Month()), u.Day())
}

// CatalogService is the storefront capability the synchronizer consumes.
// *catalog.Client satisfies it.
type CatalogService interface {
	ProductsWithoutTag(ctx context.Context, tag string, limit int, cursor string) (*catalog.ProductPage, error)
	BatchUpdateInventory(ctx context.Context, adjustments []catalog.InventoryAdjustment) (*catalog.BatchResult, error)
	SetVariantInventoryQuantity(ctx context.Context, inventoryItemID, locationID string, quantity int) error
	GetInventoryItem(ctx context.Context, inventoryItemID string) (*catalog.InventoryItem, error)
	DeleteVariant(ctx context.Context, productID, variantID string) error
	ProductTags(ctx context.Context, productID string) ([]string, error)
	UpdateProductTags(ctx context.Context, productID string, tags []string) error
	PrimaryLocationID(ctx context.Context) (string, error)
}

// StockSource is the authoritative stock capability. *rms.Store
// satisfies it.
type StockSource interface {
	VariantsByParentCode(ctx context.Context, ccod string) ([]rms.StockRecord, error)
}

// DecisionKind classifies what a variant needs.
type DecisionKind int

const (
	DecisionNoOp DecisionKind = iota
	DecisionUpdate
	DecisionDelete
)

// Decision is the per-variant reconciliation decision for one run.
type Decision struct {
	Kind      DecisionKind
	TargetQty int
}

// classify derives the decision for a single variant. Unmatched SKUs
// default to authoritative quantity zero.
func classify(remoteQty, authoritativeQty int, deleteZeroStock bool) Decision {
	if authoritativeQty == 0 && deleteZeroStock {
		return Decision{Kind: DecisionDelete}
	}
	if authoritativeQty != remoteQty {
		return Decision{Kind: DecisionUpdate, TargetQty: authoritativeQty}
	}
	return Decision{Kind: DecisionNoOp}
}

// LedgerEntry records one applied inventory update so it can be reversed
// if a later phase fails. Deletions are never ledgered.
type LedgerEntry struct {
	SKU             string
	InventoryItemID string
	LocationID      string
	PreviousQty     int
}

// OutcomeKind is the per-product result category.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeSkipped
	OutcomeFailed
)

// Outcome is the result of reconciling one product. Skip reasons and
// failures are data, not control flow.
type Outcome struct {
	Kind   OutcomeKind
	Reason string // set for skips
	Err    error  // set for failures
}

func skipped(reason string) Outcome { return Outcome{Kind: OutcomeSkipped, Reason: reason} }

func failed(err error) Outcome { return Outcome{Kind: OutcomeFailed, Err: err} }

// UpdatedDetail is an audit record of one applied (or would-be) update.
type UpdatedDetail struct {
	SKU    string `json:"sku"`
	OldQty int    `json:"old_qty"`
	NewQty int    `json:"new_qty"`
	DryRun bool   `json:"dry_run"`
}

// DeletedDetail is an audit record of one deletion decision.
type DeletedDetail struct {
	SKU    string `json:"sku"`
	Reason string `json:"reason"`
	DryRun bool   `json:"dry_run"`
}

// ErrorDetail is an audit record of one per-product failure.
type ErrorDetail struct {
	Product string `json:"product"`
	Error   string `json:"error"`
}

// Statistics accumulates counters for one run. It is owned by a single
// run but updated from concurrent product tasks, hence the mutex.
type Statistics struct {
	mu sync.Mutex

	ProductsChecked     int
	VariantsChecked     int
	VariantsUpdated     int
	VariantsDeleted     int
	Errors              int
	Skipped             int
	ProductsWithoutCode int
	ProductsWithCode    int

	Updated      []UpdatedDetail
	Deleted      []DeletedDetail
	ErrorDetails []ErrorDetail
}

func (s *Statistics) addProduct(withCode bool, variants int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ProductsChecked++
	s.VariantsChecked += variants
	if withCode {
		s.ProductsWithCode++
	} else {
		s.ProductsWithoutCode++
	}
}

func (s *Statistics) addSkipped(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Skipped += n
}

func (s *Statistics) addUpdated(d UpdatedDetail) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.VariantsUpdated++
	s.Updated = append(s.Updated, d)
}

func (s *Statistics) addDeleted(d DeletedDetail) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.VariantsDeleted++
	s.Deleted = append(s.Deleted, d)
}

func (s *Statistics) addError(product string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Errors++
	s.ErrorDetails = append(s.ErrorDetails, ErrorDetail{Product: product, Error: err.Error()})
}

// snapshot copies the counters under the lock.
func (s *Statistics) snapshot() StatisticsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatisticsSnapshot{
		ProductsChecked:     s.ProductsChecked,
		VariantsChecked:     s.VariantsChecked,
		VariantsUpdated:     s.VariantsUpdated,
		VariantsDeleted:     s.VariantsDeleted,
		Errors:              s.Errors,
		Skipped:             s.Skipped,
		ProductsWithoutCode: s.ProductsWithoutCode,
		ProductsWithCode:    s.ProductsWithCode,
	}
}

func (s *Statistics) details() Details {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := Details{
		Updated: append([]UpdatedDetail(nil), s.Updated...),
		Deleted: append([]DeletedDetail(nil), s.Deleted...),
		Errors:  append([]ErrorDetail(nil), s.ErrorDetails...),
	}
	return d
}

// StatisticsSnapshot is the immutable counter block of a report.
type StatisticsSnapshot struct {
	ProductsChecked     int `json:"products_checked"`
	VariantsChecked     int `json:"variants_checked"`
	VariantsUpdated     int `json:"variants_updated"`
	VariantsDeleted     int `json:"variants_deleted"`
	Errors              int `json:"errors"`
	Skipped             int `json:"skipped"`
	ProductsWithoutCode int `json:"products_without_code"`
	ProductsWithCode    int `json:"products_with_code"`
}

// Performance is the throughput block of a report.
type Performance struct {
	ThroughputProductsPerSecond float64 `json:"throughput_products_per_second"`
	ThroughputVariantsPerSecond float64 `json:"throughput_variants_per_second"`
	AvgTimePerProductSeconds    float64 `json:"avg_time_per_product_seconds"`
	MaxConcurrentWorkers        int     `json:"max_concurrent_workers"`
}

// Details holds the audit lists of a report.
type Details struct {
	Updated []UpdatedDetail `json:"updated"`
	Deleted []DeletedDetail `json:"deleted"`
	Errors  []ErrorDetail   `json:"errors"`
}

// Report is the artifact returned by Execute.
type Report struct {
	SyncID          string             `json:"sync_id"`
	Timestamp       time.Time          `json:"timestamp"`
	DryRun          bool               `json:"dry_run"`
	DeleteZeroStock bool               `json:"delete_zero_stock"`
	DurationSeconds float64            `json:"duration_seconds"`
	SuccessRate     float64            `json:"success_rate"`
	Statistics      StatisticsSnapshot `json:"statistics"`
	Performance     Performance        `json:"performance"`
	Details         Details            `json:"details"`
}
