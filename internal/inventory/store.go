package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the persistence surface the ledger walks. InTx runs fn against a
// store bound to one transaction; every mutation fn makes commits or rolls
// back together.
type Store interface {
	ListByOwner(ctx context.Context, owner string) ([]FoodRecord, error)
	ListByOwnerName(ctx context.Context, owner, name string) ([]FoodRecord, error)
	GetByID(ctx context.Context, id string) (FoodRecord, error)
	Insert(ctx context.Context, rec FoodRecord) (FoodRecord, error)
	UpdateQuantity(ctx context.Context, id string, quantity float64) error
	DeleteByID(ctx context.Context, id string) error
	InTx(ctx context.Context, fn func(Store) error) error
}

// PgStore is the Postgres-backed Store.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const selectColumns = "id, owner, name, quantity, stored_at"

func (s *PgStore) ListByOwner(ctx context.Context, owner string) ([]FoodRecord, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+selectColumns+" FROM foods WHERE owner = $1 ORDER BY stored_at ASC", owner)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *PgStore) ListByOwnerName(ctx context.Context, owner, name string) ([]FoodRecord, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+selectColumns+" FROM foods WHERE owner = $1 AND name = $2 ORDER BY stored_at ASC", owner, name)
	if err != nil {
		return nil, fmt.Errorf("list records by name: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *PgStore) GetByID(ctx context.Context, id string) (FoodRecord, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+selectColumns+" FROM foods WHERE id = $1", id)
	return scanRecord(row)
}

func (s *PgStore) Insert(ctx context.Context, rec FoodRecord) (FoodRecord, error) {
	return insertRecord(ctx, s.pool, rec)
}

func (s *PgStore) UpdateQuantity(ctx context.Context, id string, quantity float64) error {
	return updateQuantity(ctx, s.pool, id, quantity)
}

func (s *PgStore) DeleteByID(ctx context.Context, id string) error {
	return deleteByID(ctx, s.pool, id)
}

func (s *PgStore) InTx(ctx context.Context, fn func(Store) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&txStore{tx: tx})
	})
}

// txStore serves the same queries against one open transaction. Nested
// transactions are not supported; fn runs on the same tx.
type txStore struct {
	tx pgx.Tx
}

func (s *txStore) ListByOwner(ctx context.Context, owner string) ([]FoodRecord, error) {
	rows, err := s.tx.Query(ctx,
		"SELECT "+selectColumns+" FROM foods WHERE owner = $1 ORDER BY stored_at ASC", owner)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *txStore) ListByOwnerName(ctx context.Context, owner, name string) ([]FoodRecord, error) {
	rows, err := s.tx.Query(ctx,
		"SELECT "+selectColumns+" FROM foods WHERE owner = $1 AND name = $2 ORDER BY stored_at ASC", owner, name)
	if err != nil {
		return nil, fmt.Errorf("list records by name: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *txStore) GetByID(ctx context.Context, id string) (FoodRecord, error) {
	row := s.tx.QueryRow(ctx,
		"SELECT "+selectColumns+" FROM foods WHERE id = $1", id)
	return scanRecord(row)
}

func (s *txStore) Insert(ctx context.Context, rec FoodRecord) (FoodRecord, error) {
	return insertRecord(ctx, s.tx, rec)
}

func (s *txStore) UpdateQuantity(ctx context.Context, id string, quantity float64) error {
	return updateQuantity(ctx, s.tx, id, quantity)
}

func (s *txStore) DeleteByID(ctx context.Context, id string) error {
	return deleteByID(ctx, s.tx, id)
}

func (s *txStore) InTx(ctx context.Context, fn func(Store) error) error {
	return fn(s)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertRecord(ctx context.Context, q execer, rec FoodRecord) (FoodRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.StoredAt.IsZero() {
		rec.StoredAt = time.Now()
	}
	_, err := q.Exec(ctx,
		"INSERT INTO foods (id, owner, name, quantity, stored_at) VALUES ($1, $2, $3, $4, $5)",
		rec.ID, rec.Owner, rec.Name, rec.Quantity, rec.StoredAt)
	if err != nil {
		return FoodRecord{}, fmt.Errorf("insert record: %w", err)
	}
	return rec, nil
}

func updateQuantity(ctx context.Context, q execer, id string, quantity float64) error {
	tag, err := q.Exec(ctx, "UPDATE foods SET quantity = $1 WHERE id = $2", quantity, id)
	if err != nil {
		return fmt.Errorf("update quantity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func deleteByID(ctx context.Context, q execer, id string) error {
	tag, err := q.Exec(ctx, "DELETE FROM foods WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func scanRecords(rows pgx.Rows) ([]FoodRecord, error) {
	var records []FoodRecord
	for rows.Next() {
		var rec FoodRecord
		if err := rows.Scan(&rec.ID, &rec.Owner, &rec.Name, &rec.Quantity, &rec.StoredAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func scanRecord(row pgx.Row) (FoodRecord, error) {
	var rec FoodRecord
	if err := row.Scan(&rec.ID, &rec.Owner, &rec.Name, &rec.Quantity, &rec.StoredAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return FoodRecord{}, ErrRecordNotFound
		}
		return FoodRecord{}, fmt.Errorf("scan record: %w", err)
	}
	return rec, nil
}
