package reversesync

import (
	"context"
	"log/slog"
)

// InventoryWriter is the slice of the catalog the rollback path needs.
type InventoryWriter interface {
	SetVariantInventoryQuantity(ctx context.Context, inventoryItemID, locationID string, quantity int) error
}

// RollbackCoordinator reverts ledgered inventory updates after a later
// phase fails, restoring each variant to its pre-update quantity.
// Rollback is always best-effort: failures are logged and counted, never
// raised, so the error that triggered the rollback is the one the caller
// sees.
type RollbackCoordinator struct {
	writer InventoryWriter
	logger *slog.Logger
}

// NewRollbackCoordinator creates a coordinator over the given writer.
func NewRollbackCoordinator(writer InventoryWriter, logger *slog.Logger) *RollbackCoordinator {
	return &RollbackCoordinator{writer: writer, logger: logger.With("component", "rollback")}
}

// Rollback replays the ledger in reverse (LIFO) order of application and
// returns how many entries were restored and how many failed.
func (c *RollbackCoordinator) Rollback(ctx context.Context, ledger []LedgerEntry) (successCount, failureCount int) {
	for i := len(ledger) - 1; i >= 0; i-- {
		entry := ledger[i]
		err := c.writer.SetVariantInventoryQuantity(ctx, entry.InventoryItemID, entry.LocationID, entry.PreviousQty)
		if err != nil {
			failureCount++
			c.logger.ErrorContext(ctx, "rollback write failed",
				"sku", entry.SKU, "previous_qty", entry.PreviousQty, "error", err)
			continue
		}
		successCount++
		c.logger.InfoContext(ctx, "rolled back inventory update",
			"sku", entry.SKU, "restored_qty", entry.PreviousQty)
	}
	return successCount, failureCount
}
