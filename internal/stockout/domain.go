package stockout

import (
	"fmt"
	"time"

	"github.com/dentora-hq/dentora/internal/ledger"
	"github.com/dentora-hq/dentora/internal/shared"
)

// StockOut is the header of one posted release. Allocations below it were
// debited from the ledger in the same transaction that wrote this row.
type StockOut struct {
	ID          int64
	ReferenceNo string
	ReleasedTo  string
	Purpose     string
	Note        string
	ReleasedBy  int64
	OccurredAt  time.Time
	CreatedAt   time.Time
	Treatment   *ledger.TreatmentLink
	Allocations []Allocation
}

// Allocation records the quantity taken from one batch for one requested
// line. A FEFO line split across batches produces several allocations.
type Allocation struct {
	ID         int64
	StockOutID int64
	ItemID     int64
	BatchID    int64
	Qty        float64
	MovementID int64
}

// ReleaseLineInput is one requested line. BatchID zero means FEFO
// auto-allocation; non-zero pins the batch.
type ReleaseLineInput struct {
	ItemID  int64
	Qty     float64
	BatchID int64
}

// ReleaseInput describes a stock-out submission.
type ReleaseInput struct {
	ReleasedTo     string
	Purpose        string
	Note           string
	ReleasedBy     int64
	OccurredAt     time.Time
	IdempotencyKey string
	Treatment      *ledger.TreatmentLink
	Lines          []ReleaseLineInput
}

// StockOutFilter narrows release listings.
type StockOutFilter struct {
	ReleasedTo string
	From       time.Time
	To         time.Time
	Page       int
	PerPage    int
}

// TreatmentFilter narrows treatment usage queries.
type TreatmentFilter struct {
	PatientID int64
	InvoiceID int64
	Page      int
	PerPage   int
}

var (
	// ErrNotFound indicates the stock-out record does not exist.
	ErrNotFound = fmt.Errorf("stockout: release %w", shared.ErrNotFound)
	// ErrValidation indicates invalid input.
	ErrValidation = fmt.Errorf("stockout: invalid input: %w", shared.ErrValidation)
)

// expiredBatchError names the pinned batch that can no longer be released.
func expiredBatchError(batchNo string) error {
	return fmt.Errorf("stockout: batch %s is expired: %w", batchNo, shared.ErrValidation)
}

// batchItemMismatchError names a pinned batch holding a different item.
func batchItemMismatchError(batchNo string, itemID int64) error {
	return fmt.Errorf("stockout: batch %s does not hold item %d: %w", batchNo, itemID, shared.ErrValidation)
}
