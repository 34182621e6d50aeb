package reversesync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/retailops/rms-bridge/pkg/catalog"
)

func TestCanDeletePassed(t *testing.T) {
	fc := newFakeCatalog()
	v := NewDeletionValidator(fc, testLogger())

	allowed, reason := v.CanDelete(context.Background(), variant("41", "SKU-41", 0))
	assert.True(t, allowed)
	assert.Equal(t, ReasonPassedValidation, reason)
}

func TestCanDeleteBlockedByIncoming(t *testing.T) {
	fc := newFakeCatalog()
	fc.items["gid://shopify/InventoryItem/41"] = &catalog.InventoryItem{
		ID: "gid://shopify/InventoryItem/41",
		Levels: []catalog.InventoryLevel{
			{LocationID: "loc-1", Incoming: 0},
			{LocationID: "loc-2", Incoming: 7},
		},
	}
	v := NewDeletionValidator(fc, testLogger())

	allowed, reason := v.CanDelete(context.Background(), variant("41", "SKU-41", 0))
	assert.False(t, allowed)
	assert.Equal(t, "incoming_inventory_7", reason)
}

func TestCanDeleteLookupFailureAllows(t *testing.T) {
	fc := newFakeCatalog()
	fc.itemErr["gid://shopify/InventoryItem/41"] = errors.New("not found")
	v := NewDeletionValidator(fc, testLogger())

	// Best-effort check: a failed lookup permits deletion.
	allowed, reason := v.CanDelete(context.Background(), variant("41", "SKU-41", 0))
	assert.True(t, allowed)
	assert.Equal(t, ReasonLookupFailedAllow, reason)
}
