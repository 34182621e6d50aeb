// Package catalog is the storefront Admin GraphQL client consumed by the
// reverse synchronizer. All calls are rate limited client-side and
// retried on transient failures (5xx, throttling).
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// graphQLRequest is the wire envelope for a query or mutation.
type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

type userError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
}

// Client talks to the storefront Admin GraphQL endpoint.
type Client struct {
	httpClient *http.Client
	endpoint   string
	token      string
	limiter    *rate.Limiter
	maxRetries int
	logger     *slog.Logger

	mu         sync.Mutex
	locationID string
}

// New creates a client for the given shop. The limiter keeps us under the
// platform's leaky-bucket budget so the retry path stays exceptional.
func New(shopDomain, accessToken, apiVersion string, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		endpoint:   fmt.Sprintf("https://%s/admin/api/%s/graphql.json", shopDomain, apiVersion),
		token:      accessToken,
		limiter:    rate.NewLimiter(rate.Limit(2), 4),
		maxRetries: 3,
		logger:     logger.With("component", "catalog"),
	}
}

// ExecuteRaw runs an arbitrary GraphQL document and returns the raw data
// payload. GraphQL-level errors (other than throttling) are returned as a
// single wrapped error.
func (c *Client) ExecuteRaw(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, backoffDelay(attempt-1)); err != nil {
				return nil, err
			}
		}

		data, retryable, err := c.doOnce(ctx, body)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		c.logger.WarnContext(ctx, "retrying storefront call",
			"attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("storefront call failed after %d retries: %w", c.maxRetries, lastErr)
}

// doOnce performs a single HTTP round trip. The bool reports whether the
// failure is retryable.
func (c *Client) doOnce(ctx context.Context, body []byte) (json.RawMessage, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("storefront request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, perr := strconv.ParseFloat(ra, 64); perr == nil {
				_ = sleepCtx(ctx, time.Duration(secs*float64(time.Second)))
			}
		}
		return nil, true, fmt.Errorf("storefront throttled (429)")
	}
	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("storefront returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("storefront returned %d", resp.StatusCode)
	}

	var gqlResp graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&gqlResp); err != nil {
		return nil, true, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(gqlResp.Errors) > 0 {
		for _, e := range gqlResp.Errors {
			if e.Extensions.Code == "THROTTLED" {
				return nil, true, fmt.Errorf("storefront throttled: %s", e.Message)
			}
		}
		return nil, false, fmt.Errorf("graphql error: %s", gqlResp.Errors[0].Message)
	}
	return gqlResp.Data, false, nil
}

// backoffDelay computes exponential backoff with jitter for a 0-indexed
// attempt.
func backoffDelay(attempt int) time.Duration {
	base := time.Duration(math.Pow(2, float64(attempt))) * 500 * time.Millisecond
	jitter := time.Duration(rand.Int63n(int64(250 * time.Millisecond)))
	return base + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// connection decode targets

type productsPayload struct {
	Products struct {
		Edges []struct {
			Node struct {
				ID         string   `json:"id"`
				Title      string   `json:"title"`
				Handle     string   `json:"handle"`
				Tags       []string `json:"tags"`
				Metafields struct {
					Edges []struct {
						Node Metafield `json:"node"`
					} `json:"edges"`
				} `json:"metafields"`
				Variants struct {
					Edges []struct {
						Node struct {
							ID                string `json:"id"`
							SKU               string `json:"sku"`
							InventoryQuantity int    `json:"inventoryQuantity"`
							InventoryItem     struct {
								ID string `json:"id"`
							} `json:"inventoryItem"`
						} `json:"node"`
					} `json:"edges"`
				} `json:"variants"`
			} `json:"node"`
		} `json:"edges"`
		PageInfo struct {
			HasNextPage bool   `json:"hasNextPage"`
			EndCursor   string `json:"endCursor"`
		} `json:"pageInfo"`
	} `json:"products"`
}

// ProductsWithoutTag fetches one page of products that do not carry the
// given tag, following the cursor if non-empty.
func (c *Client) ProductsWithoutTag(ctx context.Context, tag string, limit int, cursor string) (*ProductPage, error) {
	variables := map[string]any{
		"query": fmt.Sprintf("-tag:%q", tag),
		"first": limit,
	}
	if cursor != "" {
		variables["after"] = cursor
	}

	data, err := c.ExecuteRaw(ctx, productsWithoutTagQuery, variables)
	if err != nil {
		return nil, fmt.Errorf("failed to page products: %w", err)
	}

	var payload productsPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode product page: %w", err)
	}

	page := &ProductPage{
		HasNextPage: payload.Products.PageInfo.HasNextPage,
		EndCursor:   payload.Products.PageInfo.EndCursor,
	}
	for _, edge := range payload.Products.Edges {
		p := Product{
			ID:     edge.Node.ID,
			Title:  edge.Node.Title,
			Handle: edge.Node.Handle,
			Tags:   edge.Node.Tags,
		}
		for _, me := range edge.Node.Metafields.Edges {
			p.Metafields = append(p.Metafields, me.Node)
		}
		for _, ve := range edge.Node.Variants.Edges {
			p.Variants = append(p.Variants, Variant{
				ID:                ve.Node.ID,
				SKU:               ve.Node.SKU,
				InventoryQuantity: ve.Node.InventoryQuantity,
				InventoryItemID:   ve.Node.InventoryItem.ID,
			})
		}
		page.Products = append(page.Products, p)
	}
	return page, nil
}

// BatchUpdateInventory writes all adjustments in one mutation. Entries
// rejected by the platform are reported in BatchResult.Errors; the rest
// are considered applied.
func (c *Client) BatchUpdateInventory(ctx context.Context, adjustments []InventoryAdjustment) (*BatchResult, error) {
	if len(adjustments) == 0 {
		return &BatchResult{}, nil
	}

	setQuantities := make([]map[string]any, len(adjustments))
	for i, a := range adjustments {
		setQuantities[i] = map[string]any{
			"inventoryItemId": a.InventoryItemID,
			"locationId":      a.LocationID,
			"quantity":        a.Available,
		}
	}
	variables := map[string]any{
		"input": map[string]any{
			"reason":        "correction",
			"setQuantities": setQuantities,
		},
	}

	data, err := c.ExecuteRaw(ctx, setQuantitiesMutation, variables)
	if err != nil {
		return nil, fmt.Errorf("failed to batch update inventory: %w", err)
	}

	var payload struct {
		InventorySetOnHandQuantities struct {
			UserErrors []userError `json:"userErrors"`
		} `json:"inventorySetOnHandQuantities"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode batch result: %w", err)
	}

	failed, batchMsg := failedQuantityIndexes(payload.InventorySetOnHandQuantities.UserErrors)
	result := &BatchResult{}
	for i, a := range adjustments {
		msg, bad := failed[i]
		if batchMsg != "" {
			msg, bad = batchMsg, true
		}
		if bad {
			result.Errors = append(result.Errors, BatchError{
				InventoryItemID: a.InventoryItemID,
				Message:         msg,
			})
			continue
		}
		result.Applied = append(result.Applied, a.InventoryItemID)
	}
	return result, nil
}

// failedQuantityIndexes maps setQuantities entry indexes to error
// messages, parsed from userError field paths of the shape
// ["input", "setQuantities", "3", ...]. A userError that names no entry
// index is batch-level and fails every entry; its message is returned
// separately.
func failedQuantityIndexes(errs []userError) (map[int]string, string) {
	failed := make(map[int]string)
	batchMsg := ""
	for _, ue := range errs {
		idx := -1
		for i, f := range ue.Field {
			if f == "setQuantities" && i+1 < len(ue.Field) {
				if n, err := strconv.Atoi(ue.Field[i+1]); err == nil {
					idx = n
				}
				break
			}
		}
		if idx >= 0 {
			failed[idx] = ue.Message
		} else {
			batchMsg = ue.Message
		}
	}
	return failed, batchMsg
}

// SetVariantInventoryQuantity writes a single variant quantity. Used by
// the rollback path, which replays entries one at a time.
func (c *Client) SetVariantInventoryQuantity(ctx context.Context, inventoryItemID, locationID string, quantity int) error {
	result, err := c.BatchUpdateInventory(ctx, []InventoryAdjustment{{
		InventoryItemID: inventoryItemID,
		LocationID:      locationID,
		Available:       quantity,
	}})
	if err != nil {
		return err
	}
	if len(result.Errors) > 0 {
		return fmt.Errorf("inventory write rejected: %s", result.Errors[0].Message)
	}
	return nil
}

// GetInventoryItem fetches per-location inventory levels, including
// incoming quantities, for one inventory item.
func (c *Client) GetInventoryItem(ctx context.Context, inventoryItemID string) (*InventoryItem, error) {
	data, err := c.ExecuteRaw(ctx, inventoryItemQuery, map[string]any{"id": inventoryItemID})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch inventory item: %w", err)
	}

	var payload struct {
		InventoryItem struct {
			ID              string `json:"id"`
			InventoryLevels struct {
				Edges []struct {
					Node struct {
						Location struct {
							ID string `json:"id"`
						} `json:"location"`
						Quantities []struct {
							Name     string `json:"name"`
							Quantity int    `json:"quantity"`
						} `json:"quantities"`
					} `json:"node"`
				} `json:"edges"`
			} `json:"inventoryLevels"`
		} `json:"inventoryItem"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode inventory item: %w", err)
	}
	if payload.InventoryItem.ID == "" {
		return nil, fmt.Errorf("inventory item %s not found", inventoryItemID)
	}

	item := &InventoryItem{ID: payload.InventoryItem.ID}
	for _, edge := range payload.InventoryItem.InventoryLevels.Edges {
		level := InventoryLevel{LocationID: edge.Node.Location.ID}
		for _, q := range edge.Node.Quantities {
			if q.Name == "incoming" {
				level.Incoming = q.Quantity
			}
		}
		item.Levels = append(item.Levels, level)
	}
	return item, nil
}

// DeleteVariant removes one variant from a product.
func (c *Client) DeleteVariant(ctx context.Context, productID, variantID string) error {
	data, err := c.ExecuteRaw(ctx, deleteVariantMutation, map[string]any{
		"productId":   productID,
		"variantsIds": []string{variantID},
	})
	if err != nil {
		return fmt.Errorf("failed to delete variant: %w", err)
	}

	var payload struct {
		ProductVariantsBulkDelete struct {
			UserErrors []userError `json:"userErrors"`
		} `json:"productVariantsBulkDelete"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("failed to decode delete result: %w", err)
	}
	if ue := payload.ProductVariantsBulkDelete.UserErrors; len(ue) > 0 {
		return fmt.Errorf("variant delete rejected: %s", ue[0].Message)
	}
	return nil
}

// ProductTags reads the current tag list of a product.
func (c *Client) ProductTags(ctx context.Context, productID string) ([]string, error) {
	data, err := c.ExecuteRaw(ctx, productTagsQuery, map[string]any{"id": productID})
	if err != nil {
		return nil, fmt.Errorf("failed to read product tags: %w", err)
	}

	var payload struct {
		Product struct {
			ID   string   `json:"id"`
			Tags []string `json:"tags"`
		} `json:"product"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode product tags: %w", err)
	}
	if payload.Product.ID == "" {
		return nil, fmt.Errorf("product %s not found", productID)
	}
	return payload.Product.Tags, nil
}

// UpdateProductTags replaces a product's tag list.
func (c *Client) UpdateProductTags(ctx context.Context, productID string, tags []string) error {
	data, err := c.ExecuteRaw(ctx, productUpdateTagsMutation, map[string]any{
		"input": map[string]any{
			"id":   productID,
			"tags": tags,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to update product tags: %w", err)
	}

	var payload struct {
		ProductUpdate struct {
			UserErrors []userError `json:"userErrors"`
		} `json:"productUpdate"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("failed to decode tag update: %w", err)
	}
	if ue := payload.ProductUpdate.UserErrors; len(ue) > 0 {
		return fmt.Errorf("tag update rejected: %s", ue[0].Message)
	}
	return nil
}

// PrimaryLocationID returns the shop's primary location, cached after the
// first lookup.
func (c *Client) PrimaryLocationID(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.locationID != "" {
		id := c.locationID
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	data, err := c.ExecuteRaw(ctx, primaryLocationQuery, nil)
	if err != nil {
		return "", fmt.Errorf("failed to fetch primary location: %w", err)
	}

	var payload struct {
		Location struct {
			ID string `json:"id"`
		} `json:"location"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", fmt.Errorf("failed to decode primary location: %w", err)
	}
	if payload.Location.ID == "" {
		return "", fmt.Errorf("shop has no primary location")
	}

	c.mu.Lock()
	c.locationID = payload.Location.ID
	c.mu.Unlock()
	return payload.Location.ID, nil
}
