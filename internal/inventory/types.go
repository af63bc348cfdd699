package inventory

import "time"

// FoodRecord is one row of the foods ledger. Quantity is nil when the
// original record carried no amount.
type FoodRecord struct {
	ID       string
	Owner    string
	Name     string
	Quantity *float64
	StoredAt time.Time
}

// RecordSnapshot is a point-in-time copy of a record, used by the ordinal
// index and returned from deletions. It is never written back to storage.
type RecordSnapshot struct {
	ID       string
	Name     string
	Quantity *float64
	StoredAt time.Time
}

// UpdatedRecord describes a partial deduction applied to one record.
type UpdatedRecord struct {
	ID          string
	Name        string
	OldQuantity float64
	NewQuantity float64
	Deducted    float64
}

// DeletedRecord describes a record fully consumed by a deduction.
type DeletedRecord struct {
	ID       string
	Name     string
	Quantity float64
}

// DeductResult reports the effect of one FIFO deduction. Remaining is the
// amount that could not be satisfied; a positive value means the stock ran
// out before the request was filled.
type DeductResult struct {
	Updated   []UpdatedRecord
	Deleted   []DeletedRecord
	Remaining float64
}

func snapshot(r FoodRecord) RecordSnapshot {
	return RecordSnapshot{
		ID:       r.ID,
		Name:     r.Name,
		Quantity: r.Quantity,
		StoredAt: r.StoredAt,
	}
}
