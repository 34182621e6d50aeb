package reversesync

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/retailops/rms-bridge/pkg/catalog"
	"github.com/retailops/rms-bridge/pkg/rms"
)

// fakeCatalog is an in-memory CatalogService. Tag state is live: a
// product tagged during a run disappears from subsequent page fetches,
// which is what the tag-idempotence tests rely on.
type fakeCatalog struct {
	mu sync.Mutex

	products   []catalog.Product
	tags       map[string][]string
	quantities map[string]int // inventoryItemID -> available
	items      map[string]*catalog.InventoryItem
	itemErr    map[string]error
	deleteErr  map[string]error

	pageErr     error
	batchErr    error
	rejectItems map[string]string // inventoryItemID -> rejection message
	tagReadErr  error
	tagWriteErr error

	writeLog    []catalog.InventoryAdjustment // single-variant writes (rollback path)
	batchLog    [][]catalog.InventoryAdjustment
	deletedVars []string
	pageCalls   int
}

func newFakeCatalog(products ...catalog.Product) *fakeCatalog {
	fc := &fakeCatalog{
		products:    products,
		tags:        make(map[string][]string),
		quantities:  make(map[string]int),
		items:       make(map[string]*catalog.InventoryItem),
		itemErr:     make(map[string]error),
		deleteErr:   make(map[string]error),
		rejectItems: make(map[string]string),
	}
	for _, p := range products {
		fc.tags[p.ID] = append([]string(nil), p.Tags...)
		for _, v := range p.Variants {
			fc.quantities[v.InventoryItemID] = v.InventoryQuantity
		}
	}
	return fc
}

func (f *fakeCatalog) ProductsWithoutTag(_ context.Context, tag string, limit int, cursor string) (*catalog.ProductPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageCalls++
	if f.pageErr != nil {
		return nil, f.pageErr
	}

	start := 0
	if cursor != "" {
		start, _ = strconv.Atoi(cursor)
	}

	page := &catalog.ProductPage{}
	i := start
	for ; i < len(f.products) && len(page.Products) < limit; i++ {
		p := f.products[i]
		if containsTag(f.tags[p.ID], tag) {
			continue
		}
		page.Products = append(page.Products, p)
	}
	page.EndCursor = strconv.Itoa(i)
	page.HasNextPage = i < len(f.products)
	return page, nil
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func (f *fakeCatalog) BatchUpdateInventory(_ context.Context, adjustments []catalog.InventoryAdjustment) (*catalog.BatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	f.batchLog = append(f.batchLog, adjustments)

	result := &catalog.BatchResult{}
	for _, a := range adjustments {
		if msg, bad := f.rejectItems[a.InventoryItemID]; bad {
			result.Errors = append(result.Errors, catalog.BatchError{
				InventoryItemID: a.InventoryItemID, Message: msg,
			})
			continue
		}
		f.quantities[a.InventoryItemID] = a.Available
		result.Applied = append(result.Applied, a.InventoryItemID)
	}
	return result, nil
}

func (f *fakeCatalog) SetVariantInventoryQuantity(_ context.Context, inventoryItemID, locationID string, quantity int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeLog = append(f.writeLog, catalog.InventoryAdjustment{
		InventoryItemID: inventoryItemID, LocationID: locationID, Available: quantity,
	})
	f.quantities[inventoryItemID] = quantity
	return nil
}

func (f *fakeCatalog) GetInventoryItem(_ context.Context, inventoryItemID string) (*catalog.InventoryItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.itemErr[inventoryItemID]; ok {
		return nil, err
	}
	if item, ok := f.items[inventoryItemID]; ok {
		return item, nil
	}
	return &catalog.InventoryItem{ID: inventoryItemID}, nil
}

func (f *fakeCatalog) DeleteVariant(_ context.Context, productID, variantID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.deleteErr[variantID]; ok {
		return err
	}
	f.deletedVars = append(f.deletedVars, variantID)
	return nil
}

func (f *fakeCatalog) ProductTags(_ context.Context, productID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tagReadErr != nil {
		return nil, f.tagReadErr
	}
	return append([]string(nil), f.tags[productID]...), nil
}

func (f *fakeCatalog) UpdateProductTags(_ context.Context, productID string, tags []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tagWriteErr != nil {
		return f.tagWriteErr
	}
	f.tags[productID] = append([]string(nil), tags...)
	return nil
}

func (f *fakeCatalog) PrimaryLocationID(context.Context) (string, error) {
	return "gid://shopify/Location/1", nil
}

func (f *fakeCatalog) quantity(inventoryItemID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quantities[inventoryItemID]
}

func (f *fakeCatalog) deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deletedVars...)
}

func (f *fakeCatalog) productTags(productID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tags[productID]...)
}

func (f *fakeCatalog) singleWrites() []catalog.InventoryAdjustment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]catalog.InventoryAdjustment(nil), f.writeLog...)
}

func (f *fakeCatalog) batches() [][]catalog.InventoryAdjustment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]catalog.InventoryAdjustment(nil), f.batchLog...)
}

// fakeStock is an in-memory StockSource.
type fakeStock struct {
	mu      sync.Mutex
	records map[string][]rms.StockRecord
	err     error

	inFlight    int
	maxInFlight int
}

func newFakeStock() *fakeStock {
	return &fakeStock{records: make(map[string][]rms.StockRecord)}
}

func (f *fakeStock) VariantsByParentCode(_ context.Context, ccod string) ([]rms.StockRecord, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	recs := f.records[ccod]
	err := f.err
	f.mu.Unlock()

	// Hold the in-flight slot long enough for overlapping callers to
	// register on the gauge.
	time.Sleep(2 * time.Millisecond)

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// product builds a test product with a CCOD metafield.
func product(id, ccod string, variants ...catalog.Variant) catalog.Product {
	p := catalog.Product{
		ID:       fmt.Sprintf("gid://shopify/Product/%s", id),
		Title:    "Product " + id,
		Handle:   "product-" + id,
		Variants: variants,
	}
	if ccod != "" {
		p.Metafields = []catalog.Metafield{{Namespace: "rms", Key: "ccod", Value: ccod}}
	}
	return p
}

func variant(id, sku string, qty int) catalog.Variant {
	return catalog.Variant{
		ID:                fmt.Sprintf("gid://shopify/ProductVariant/%s", id),
		SKU:               sku,
		InventoryQuantity: qty,
		InventoryItemID:   fmt.Sprintf("gid://shopify/InventoryItem/%s", id),
	}
}

func testLogger() *slog.Logger { return slog.Default() }
