package reversesync

import (
	"context"
	"log/slog"
	"strings"
)

// StockResolver folds authoritative RMS stock into the shape the
// reconciler matches against: lowercase SKU to non-negative quantity.
type StockResolver struct {
	source StockSource
	logger *slog.Logger
}

// NewStockResolver creates a resolver over the given source.
func NewStockResolver(source StockSource, logger *slog.Logger) *StockResolver {
	return &StockResolver{source: source, logger: logger.With("component", "stock_resolver")}
}

// StockByParentCode returns the SKU→quantity mapping for a parent code.
// SKUs are lowercased for case-insensitive matching and oversold
// quantities are clamped to zero. A failed query or an unknown code
// yields an empty map, never an error: the caller treats "no
// authoritative data" as a skip, not a hard failure.
func (r *StockResolver) StockByParentCode(ctx context.Context, code string) map[string]int {
	records, err := r.source.VariantsByParentCode(ctx, code)
	if err != nil {
		r.logger.WarnContext(ctx, "authoritative stock query failed, skipping product",
			"code", code, "error", err)
		return map[string]int{}
	}

	stock := make(map[string]int, len(records))
	for _, rec := range records {
		qty := rec.Quantity
		if qty < 0 {
			qty = 0
		}
		stock[strings.ToLower(rec.SKU)] = qty
	}
	return stock
}
