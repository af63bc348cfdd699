package inventory

import (
	"context"
	"fmt"
	"log/slog"
)

// Ledger applies consumption against the foods store. Deductions always
// walk records oldest first so the oldest stock is used up before newer
// purchases are touched.
type Ledger struct {
	store  Store
	logger *slog.Logger
}

func NewLedger(log *slog.Logger, store Store) *Ledger {
	if log == nil {
		log = slog.Default()
	}
	return &Ledger{
		store:  store,
		logger: log.With(slog.String("service", "inventory")),
	}
}

// ListByOwner returns every record of one owner, oldest first.
func (l *Ledger) ListByOwner(ctx context.Context, owner string) ([]FoodRecord, error) {
	return l.store.ListByOwner(ctx, owner)
}

// Insert stores a new record.
func (l *Ledger) Insert(ctx context.Context, rec FoodRecord) (FoodRecord, error) {
	return l.store.Insert(ctx, rec)
}

// Deduct removes amount of (owner, name) from the ledger, oldest records
// first. Records whose quantity does not cover the remainder are deleted
// outright; the first record that does cover it is updated and the walk
// stops. Records with no quantity are skipped. Returns ErrRecordNotFound
// when no record matches; a positive Remaining in the result means the
// stock ran out and is reported, not an error. All mutations commit or
// roll back together.
func (l *Ledger) Deduct(ctx context.Context, owner, name string, amount float64) (DeductResult, error) {
	result := DeductResult{Remaining: amount}

	err := l.store.InTx(ctx, func(tx Store) error {
		records, err := tx.ListByOwnerName(ctx, owner, name)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return fmt.Errorf("%w: %s", ErrRecordNotFound, name)
		}

		for _, rec := range records {
			if result.Remaining <= 0 {
				break
			}
			if rec.Quantity == nil {
				continue
			}
			current := *rec.Quantity

			if current <= result.Remaining {
				if err := tx.DeleteByID(ctx, rec.ID); err != nil {
					return err
				}
				result.Deleted = append(result.Deleted, DeletedRecord{
					ID:       rec.ID,
					Name:     rec.Name,
					Quantity: current,
				})
				result.Remaining -= current
				continue
			}

			newQuantity := current - result.Remaining
			if err := tx.UpdateQuantity(ctx, rec.ID, newQuantity); err != nil {
				return err
			}
			result.Updated = append(result.Updated, UpdatedRecord{
				ID:          rec.ID,
				Name:        rec.Name,
				OldQuantity: current,
				NewQuantity: newQuantity,
				Deducted:    result.Remaining,
			})
			result.Remaining = 0
		}
		return nil
	})
	if err != nil {
		return DeductResult{Remaining: amount}, err
	}

	l.logger.Info("deducted stock",
		slog.String("owner", owner),
		slog.String("name", name),
		slog.Float64("amount", amount),
		slog.Int("updated", len(result.Updated)),
		slog.Int("deleted", len(result.Deleted)),
		slog.Float64("remaining", result.Remaining))
	return result, nil
}

// DeleteByID removes one record entirely and returns what was deleted.
// Read-then-delete runs inside one transaction.
func (l *Ledger) DeleteByID(ctx context.Context, id string) (RecordSnapshot, error) {
	var snap RecordSnapshot
	err := l.store.InTx(ctx, func(tx Store) error {
		rec, err := tx.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.DeleteByID(ctx, id); err != nil {
			return err
		}
		snap = snapshot(rec)
		return nil
	})
	if err != nil {
		return RecordSnapshot{}, err
	}
	l.logger.Info("deleted record", slog.String("id", id), slog.String("name", snap.Name))
	return snap, nil
}

// SetQuantity writes a new quantity on one record. Used for ordinal-pinned
// partial deductions, which bypass the FIFO walk.
func (l *Ledger) SetQuantity(ctx context.Context, id string, quantity float64) error {
	return l.store.UpdateQuantity(ctx, id, quantity)
}
