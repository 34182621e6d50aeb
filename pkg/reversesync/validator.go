package reversesync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/retailops/rms-bridge/pkg/catalog"
)

// Deletion decision reasons recorded for audit.
const (
	ReasonPassedValidation  = "passed_validation"
	ReasonLookupFailedAllow = "lookup_failed_assumed_safe"
)

// InventoryLookup is the slice of the catalog the validator needs.
type InventoryLookup interface {
	GetInventoryItem(ctx context.Context, inventoryItemID string) (*catalog.InventoryItem, error)
}

// DeletionValidator decides whether deleting a zero-stock variant is
// currently safe. The check is advisory: it blocks deletion when units
// are inbound, but a failed lookup does not block (best-effort).
type DeletionValidator struct {
	lookup InventoryLookup
	logger *slog.Logger
}

// NewDeletionValidator creates a validator over the given lookup.
func NewDeletionValidator(lookup InventoryLookup, logger *slog.Logger) *DeletionValidator {
	return &DeletionValidator{lookup: lookup, logger: logger.With("component", "deletion_validator")}
}

// CanDelete reports whether the variant may be deleted, with the reason
// recorded for audit.
func (v *DeletionValidator) CanDelete(ctx context.Context, variant catalog.Variant) (bool, string) {
	item, err := v.lookup.GetInventoryItem(ctx, variant.InventoryItemID)
	if err != nil {
		v.logger.WarnContext(ctx, "inventory item lookup failed, permitting deletion",
			"sku", variant.SKU, "error", err)
		return true, ReasonLookupFailedAllow
	}

	for _, level := range item.Levels {
		if level.Incoming > 0 {
			return false, fmt.Sprintf("incoming_inventory_%d", level.Incoming)
		}
	}
	return true, ReasonPassedValidation
}
