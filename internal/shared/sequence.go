package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Rower is satisfied by both pgxpool.Pool and pgx.Tx, so document numbers can
// be issued inside or outside an enclosing transaction.
type Rower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SequenceStore issues human-readable, date-seeded document numbers
// (PO-20250131-0007). Counters live in a per-prefix per-day row, so
// concurrent callers always draw distinct values; the documents' own
// unique constraints are the final guard.
type SequenceStore struct {
	db Rower
}

// NewSequenceStore constructs the store over a pool or transaction.
func NewSequenceStore(db Rower) *SequenceStore {
	return &SequenceStore{db: db}
}

// Next returns the next number for prefix, seeded with the given day.
func (s *SequenceStore) Next(ctx context.Context, prefix string, day time.Time) (string, error) {
	if s == nil || s.db == nil {
		return "", errors.New("sequence store not initialised")
	}
	if prefix == "" {
		return "", errors.New("sequence prefix required")
	}
	if day.IsZero() {
		day = time.Now().UTC()
	}
	dayKey := day.UTC().Format("2006-01-02")
	var value int64
	err := s.db.QueryRow(ctx, `INSERT INTO document_counters (prefix, day, value)
VALUES ($1, $2, 1)
ON CONFLICT (prefix, day) DO UPDATE SET value = document_counters.value + 1
RETURNING value`, prefix, dayKey).Scan(&value)
	if err != nil {
		return "", fmt.Errorf("shared: next %s number: %w", prefix, err)
	}
	return fmt.Sprintf("%s-%s-%04d", prefix, day.UTC().Format("20060102"), value), nil
}
