package inventory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrdinalIndexBuildAssignsByStoredAt(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	index := NewOrdinalIndex()

	// Deliberately out of order; ordinals follow StoredAt, not input order.
	snapshots := index.Build("u1", []FoodRecord{
		{ID: "r2", Name: "egg", StoredAt: base.Add(time.Hour)},
		{ID: "r1", Name: "milk", StoredAt: base},
		{ID: "r3", Name: "tofu", StoredAt: base.Add(2 * time.Hour)},
	})

	require.Len(t, snapshots, 3)
	assert.Equal(t, "r1", snapshots[0].ID)
	assert.Equal(t, "r3", snapshots[2].ID)

	snap, err := index.Resolve("u1", 1)
	require.NoError(t, err)
	assert.Equal(t, "milk", snap.Name)
}

func TestOrdinalIndexRemoveInvalidatesNumber(t *testing.T) {
	base := time.Now()
	index := NewOrdinalIndex()
	index.Build("u1", []FoodRecord{
		{ID: "r1", Name: "milk", StoredAt: base},
		{ID: "r2", Name: "egg", StoredAt: base.Add(time.Minute)},
		{ID: "r3", Name: "tofu", StoredAt: base.Add(2 * time.Minute)},
	})

	index.Remove("u1", 2)

	_, err := index.Resolve("u1", 2)
	assert.ErrorIs(t, err, ErrOrdinalNotFound)

	// Neighbouring ordinals keep their numbers until the next rebuild.
	snap, err := index.Resolve("u1", 3)
	require.NoError(t, err)
	assert.Equal(t, "tofu", snap.Name)
}

func TestOrdinalIndexUpdateQuantity(t *testing.T) {
	index := NewOrdinalIndex()
	index.Build("u1", []FoodRecord{
		{ID: "r1", Name: "milk", Quantity: qty(5), StoredAt: time.Now()},
	})

	index.UpdateQuantity("u1", 1, 3)

	snap, err := index.Resolve("u1", 1)
	require.NoError(t, err)
	assert.Equal(t, 3.0, *snap.Quantity)
}

func TestOrdinalIndexClear(t *testing.T) {
	index := NewOrdinalIndex()
	index.Build("u1", []FoodRecord{{ID: "r1", Name: "milk", StoredAt: time.Now()}})

	index.Clear("u1")

	_, err := index.Resolve("u1", 1)
	assert.ErrorIs(t, err, ErrOrdinalNotFound)
}

func TestOrdinalIndexRebuildReplacesMapping(t *testing.T) {
	base := time.Now()
	index := NewOrdinalIndex()
	index.Build("u1", []FoodRecord{
		{ID: "r1", Name: "milk", StoredAt: base},
		{ID: "r2", Name: "egg", StoredAt: base.Add(time.Minute)},
	})
	index.Build("u1", []FoodRecord{
		{ID: "r2", Name: "egg", StoredAt: base.Add(time.Minute)},
	})

	snap, err := index.Resolve("u1", 1)
	require.NoError(t, err)
	assert.Equal(t, "egg", snap.Name)

	_, err = index.Resolve("u1", 2)
	assert.ErrorIs(t, err, ErrOrdinalNotFound)
}
