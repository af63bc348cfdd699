package inventory

import (
	"sort"
	"sync"
)

// OrdinalIndex caches the numbered listing shown when delete mode is
// entered: per user, displayed ordinal (1-based) to a record snapshot. It
// is rebuilt wholesale on every listing render and is never a source of
// truth for quantities beyond that user's delete session.
type OrdinalIndex struct {
	mu    sync.RWMutex
	users map[string]map[int]RecordSnapshot
}

func NewOrdinalIndex() *OrdinalIndex {
	return &OrdinalIndex{users: make(map[string]map[int]RecordSnapshot)}
}

// Build replaces the user's mapping with dense ordinals 1..N assigned over
// the records sorted ascending by StoredAt. Returns the snapshots in
// ordinal order.
func (x *OrdinalIndex) Build(userID string, records []FoodRecord) []RecordSnapshot {
	sorted := make([]FoodRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StoredAt.Before(sorted[j].StoredAt)
	})

	mapping := make(map[int]RecordSnapshot, len(sorted))
	snapshots := make([]RecordSnapshot, 0, len(sorted))
	for i, rec := range sorted {
		snap := snapshot(rec)
		mapping[i+1] = snap
		snapshots = append(snapshots, snap)
	}

	x.mu.Lock()
	x.users[userID] = mapping
	x.mu.Unlock()
	return snapshots
}

// Resolve looks up the record behind a displayed ordinal.
func (x *OrdinalIndex) Resolve(userID string, ordinal int) (RecordSnapshot, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	mapping, ok := x.users[userID]
	if !ok {
		return RecordSnapshot{}, ErrOrdinalNotFound
	}
	snap, ok := mapping[ordinal]
	if !ok {
		return RecordSnapshot{}, ErrOrdinalNotFound
	}
	return snap, nil
}

// Remove drops one ordinal after its record was fully deleted. The other
// ordinals keep their numbers until the next rebuild.
func (x *OrdinalIndex) Remove(userID string, ordinal int) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if mapping, ok := x.users[userID]; ok {
		delete(mapping, ordinal)
	}
}

// UpdateQuantity refreshes the cached quantity after a partial deduction so
// repeated deductions against the same ordinal stay consistent without a
// storage round trip.
func (x *OrdinalIndex) UpdateQuantity(userID string, ordinal int, quantity float64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	mapping, ok := x.users[userID]
	if !ok {
		return
	}
	snap, ok := mapping[ordinal]
	if !ok {
		return
	}
	q := quantity
	snap.Quantity = &q
	mapping[ordinal] = snap
}

// Clear discards the user's whole mapping, e.g. on mode exit.
func (x *OrdinalIndex) Clear(userID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.users, userID)
}
