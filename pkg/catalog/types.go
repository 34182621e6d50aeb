package catalog

import "strings"

// Metafield is a namespace/key/value triple attached to a product.
type Metafield struct {
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Value     string `json:"value"`
}

// Variant is a storefront product variant. InventoryItemID is the opaque
// handle the platform uses for stock mutations, distinct from the variant
// id itself.
type Variant struct {
	ID                string `json:"id"`
	SKU               string `json:"sku"`
	InventoryQuantity int    `json:"inventoryQuantity"`
	InventoryItemID   string `json:"inventoryItemId"`
}

// Product is a storefront product snapshot.
type Product struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Handle     string      `json:"handle"`
	Tags       []string    `json:"tags"`
	Metafields []Metafield `json:"metafields"`
	Variants   []Variant   `json:"variants"`
}

// Metafield namespaces and keys under which the RMS parent code may be
// stored, depending on when the product was created.
var (
	codeNamespaces = []string{"rms", "custom"}
	codeKeys       = []string{"ccod", "product_code", "codigo"}
)

// ParentCode resolves the RMS parent code (CCOD) from the product's
// metafields. Empty string means the product is out of scope for
// reconciliation.
func (p *Product) ParentCode() string {
	for _, ns := range codeNamespaces {
		for _, key := range codeKeys {
			for _, mf := range p.Metafields {
				if mf.Namespace == ns && mf.Key == key && mf.Value != "" {
					return strings.TrimSpace(mf.Value)
				}
			}
		}
	}
	return ""
}

// ProductPage is one page of a cursor-paginated product listing.
type ProductPage struct {
	Products    []Product
	HasNextPage bool
	EndCursor   string
}

// InventoryAdjustment sets a variant's available quantity at a location.
type InventoryAdjustment struct {
	InventoryItemID string
	LocationID      string
	Available       int
}

// BatchError describes one failed entry of a batched inventory write.
type BatchError struct {
	InventoryItemID string
	Message         string
}

// BatchResult reports a batched inventory write. Applied holds the
// inventory item ids that were actually written; entries listed in
// Errors were not.
type BatchResult struct {
	Applied []string
	Errors  []BatchError
}

// SuccessCount is the number of applied entries.
func (r *BatchResult) SuccessCount() int { return len(r.Applied) }

// InventoryLevel is a variant's stock record at one location.
type InventoryLevel struct {
	LocationID string
	Incoming   int
}

// InventoryItem is the platform's stock record for a variant across
// locations.
type InventoryItem struct {
	ID     string
	Levels []InventoryLevel
}

// NumericID extracts the trailing numeric id from a
// gid://shopify/Type/123 handle. Returns the input unchanged if it does
// not look like a GID.
func NumericID(gid string) string {
	if i := strings.LastIndex(gid, "/"); i >= 0 {
		return gid[i+1:]
	}
	return gid
}
