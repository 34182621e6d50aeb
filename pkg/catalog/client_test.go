package catalog

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClient points a Client at a fake GraphQL endpoint.
func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New("test-shop.myshopify.com", "token", "2024-10", slog.Default())
	c.endpoint = srv.URL
	return c
}

func decodeRequest(t *testing.T, r *http.Request) graphQLRequest {
	t.Helper()
	var req graphQLRequest
	require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
	return req
}

func TestProductsWithoutTag(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		assert.Contains(t, req.Query, "ProductsWithoutTag")
		assert.Equal(t, `-tag:"RMS-SYNC-25-06-01"`, req.Variables["query"])

		w.Write([]byte(`{"data":{"products":{
			"edges":[{"node":{
				"id":"gid://shopify/Product/1","title":"Tee","handle":"tee","tags":["summer"],
				"metafields":{"edges":[{"node":{"namespace":"rms","key":"ccod","value":"26TS00"}}]},
				"variants":{"edges":[{"node":{
					"id":"gid://shopify/ProductVariant/11","sku":"26TS00-41-BEIGE",
					"inventoryQuantity":5,"inventoryItem":{"id":"gid://shopify/InventoryItem/111"}}}]}
			}}],
			"pageInfo":{"hasNextPage":true,"endCursor":"abc"}}}}`))
	})

	page, err := c.ProductsWithoutTag(context.Background(), "RMS-SYNC-25-06-01", 50, "")
	require.NoError(t, err)
	require.Len(t, page.Products, 1)

	p := page.Products[0]
	assert.Equal(t, "26TS00", p.ParentCode())
	require.Len(t, p.Variants, 1)
	assert.Equal(t, "gid://shopify/InventoryItem/111", p.Variants[0].InventoryItemID)
	assert.Equal(t, 5, p.Variants[0].InventoryQuantity)
	assert.True(t, page.HasNextPage)
	assert.Equal(t, "abc", page.EndCursor)
}

func TestBatchUpdateInventoryPartialFailure(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"inventorySetOnHandQuantities":{
			"userErrors":[{"field":["input","setQuantities","1","quantity"],"message":"negative quantity"}]}}}`))
	})

	result, err := c.BatchUpdateInventory(context.Background(), []InventoryAdjustment{
		{InventoryItemID: "item-a", LocationID: "loc", Available: 3},
		{InventoryItemID: "item-b", LocationID: "loc", Available: -1},
		{InventoryItemID: "item-c", LocationID: "loc", Available: 7},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"item-a", "item-c"}, result.Applied)
	assert.Equal(t, 2, result.SuccessCount())
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "item-b", result.Errors[0].InventoryItemID)
}

func TestBatchUpdateInventoryBatchLevelError(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"inventorySetOnHandQuantities":{
			"userErrors":[{"field":["input","reason"],"message":"invalid reason"}]}}}`))
	})

	result, err := c.BatchUpdateInventory(context.Background(), []InventoryAdjustment{
		{InventoryItemID: "item-a", LocationID: "loc", Available: 3},
		{InventoryItemID: "item-b", LocationID: "loc", Available: 4},
	})
	require.NoError(t, err)
	assert.Empty(t, result.Applied)
	assert.Len(t, result.Errors, 2)
}

func TestExecuteRawRetriesOn5xx(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"data":{"ok":true}}`))
	})

	data, err := c.ExecuteRaw(context.Background(), "query { ok }", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.JSONEq(t, `{"ok":true}`, string(data))
}

func TestExecuteRawGraphQLErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"errors":[{"message":"Field 'nope' doesn't exist"}]}`))
	})

	_, err := c.ExecuteRaw(context.Background(), "query { nope }", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "doesn't exist")
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetInventoryItem(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"inventoryItem":{
			"id":"gid://shopify/InventoryItem/111",
			"inventoryLevels":{"edges":[
				{"node":{"location":{"id":"loc-1"},"quantities":[{"name":"incoming","quantity":4}]}},
				{"node":{"location":{"id":"loc-2"},"quantities":[{"name":"incoming","quantity":0}]}}
			]}}}}`))
	})

	item, err := c.GetInventoryItem(context.Background(), "gid://shopify/InventoryItem/111")
	require.NoError(t, err)
	require.Len(t, item.Levels, 2)
	assert.Equal(t, 4, item.Levels[0].Incoming)
	assert.Equal(t, 0, item.Levels[1].Incoming)
}

func TestDeleteVariantUserError(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"productVariantsBulkDelete":{
			"userErrors":[{"field":["variantsIds"],"message":"cannot delete last variant"}]}}}`))
	})

	err := c.DeleteVariant(context.Background(), "gid://shopify/Product/1", "gid://shopify/ProductVariant/11")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "last variant")
}

func TestProductTagsRoundTrip(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		if strings.Contains(req.Query, "ProductTags") {
			w.Write([]byte(`{"data":{"product":{"id":"gid://shopify/Product/1","tags":["summer"]}}}`))
			return
		}
		input := req.Variables["input"].(map[string]any)
		tags := input["tags"].([]any)
		assert.Len(t, tags, 2)
		w.Write([]byte(`{"data":{"productUpdate":{"product":{"id":"gid://shopify/Product/1"},"userErrors":[]}}}`))
	})

	ctx := context.Background()
	tags, err := c.ProductTags(ctx, "gid://shopify/Product/1")
	require.NoError(t, err)
	assert.Equal(t, []string{"summer"}, tags)

	err = c.UpdateProductTags(ctx, "gid://shopify/Product/1", append(tags, "RMS-SYNC-25-06-01"))
	require.NoError(t, err)
}

func TestPrimaryLocationIDCached(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"data":{"location":{"id":"gid://shopify/Location/7"}}}`))
	})

	ctx := context.Background()
	id, err := c.PrimaryLocationID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "gid://shopify/Location/7", id)

	_, err = c.PrimaryLocationID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestParentCodeFallbackKeys(t *testing.T) {
	p := Product{Metafields: []Metafield{
		{Namespace: "custom", Key: "codigo", Value: "26TS00"},
	}}
	assert.Equal(t, "26TS00", p.ParentCode())

	none := Product{Metafields: []Metafield{
		{Namespace: "seo", Key: "title", Value: "x"},
	}}
	assert.Equal(t, "", none.ParentCode())
}

func TestNumericID(t *testing.T) {
	assert.Equal(t, "123", NumericID("gid://shopify/Product/123"))
	assert.Equal(t, "plain", NumericID("plain"))
}
