package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dentora-hq/dentora/internal/shared"
)

// MovementKind enumerates ledger entry variants.
type MovementKind string

const (
	// KindReceipt represents stock credited by a delivery.
	KindReceipt MovementKind = "RECEIPT"
	// KindRelease represents stock debited for use or transfer.
	KindRelease MovementKind = "RELEASE"
	// KindAdjustment represents a manual quantity correction.
	KindAdjustment MovementKind = "ADJUSTMENT"
)

// AdjustmentType classifies manual corrections.
type AdjustmentType string

const (
	AdjustmentCorrection AdjustmentType = "CORRECTION"
	AdjustmentDisposal   AdjustmentType = "DISPOSAL"
	AdjustmentReturn     AdjustmentType = "RETURN"
)

// ValidAdjustmentType reports whether t is a known adjustment type.
func ValidAdjustmentType(t AdjustmentType) bool {
	switch t {
	case AdjustmentCorrection, AdjustmentDisposal, AdjustmentReturn:
		return true
	}
	return false
}

// ExpiringSoonWindow is how far ahead a batch counts as expiring-soon.
const ExpiringSoonWindow = 30 * 24 * time.Hour

// BatchStatus is the derived expiry label for a batch. It is computed on
// read, never stored.
type BatchStatus string

const (
	StatusExpired      BatchStatus = "expired"
	StatusExpiringSoon BatchStatus = "expiring-soon"
	StatusGood         BatchStatus = "good"
	StatusNoExpiry     BatchStatus = "no-expiry"
)

// StockBatch is the unit of truth for on-hand stock. Quantity is mutated
// only through Credit, Debit and AdjustTo; batches are never deleted.
type StockBatch struct {
	ID           int64
	ItemID       int64
	BatchNo      string
	ExpiryDate   *time.Time
	QtyAvailable float64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Expired reports whether the batch's expiry date lies strictly before the
// day of asOf. A batch expiring today is still usable.
func (b StockBatch) Expired(asOf time.Time) bool {
	if b.ExpiryDate == nil {
		return false
	}
	return b.ExpiryDate.Before(startOfDay(asOf))
}

// Status derives the expiry label as of the given time.
func (b StockBatch) Status(asOf time.Time) BatchStatus {
	if b.ExpiryDate == nil {
		return StatusNoExpiry
	}
	if b.Expired(asOf) {
		return StatusExpired
	}
	if b.ExpiryDate.Before(asOf.Add(ExpiringSoonWindow)) {
		return StatusExpiringSoon
	}
	return StatusGood
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// TreatmentLink ties a release to clinical records. Pure metadata; the
// ledger invariants never read it.
type TreatmentLink struct {
	PatientID int64  `json:"patient_id"`
	InvoiceID *int64 `json:"invoice_id,omitempty"`
	ChargeID  *int64 `json:"charge_id,omitempty"`
	ServiceID *int64 `json:"service_id,omitempty"`
}

// Movement is one append-only ledger entry. Qty is the signed quantity
// delta; BalanceQty is the batch quantity after the entry. Variant fields
// are populated according to Kind.
type Movement struct {
	ID         int64
	BatchID    int64
	Kind       MovementKind
	Qty        float64
	BalanceQty float64
	CreatedBy  int64
	OccurredAt time.Time

	// Receipt fields.
	UnitCost  *decimal.Decimal
	POID      *int64
	StockInNo *string

	// Release fields.
	ReleasedTo  *string
	Purpose     *string
	ReferenceNo *string
	Treatment   *TreatmentLink

	// Adjustment fields.
	OldQty         *float64
	NewQty         *float64
	Reason         *string
	AdjustmentType *AdjustmentType
}

// CreditInput describes a receipt posting against one batch.
type CreditInput struct {
	BatchID    int64
	Qty        float64
	UnitCost   decimal.Decimal
	POID       *int64
	StockInNo  string
	ReceivedBy int64
	OccurredAt time.Time
}

// DebitInput describes a release posting against one batch.
type DebitInput struct {
	BatchID     int64
	Qty         float64
	ReleasedTo  string
	Purpose     string
	ReferenceNo string
	CreatedBy   int64
	OccurredAt  time.Time
	Treatment   *TreatmentLink
}

// AdjustInput describes a manual correction of one batch to an absolute
// quantity.
type AdjustInput struct {
	BatchID    int64
	NewQty     float64
	Reason     string
	Type       AdjustmentType
	AdjustedBy int64
	OccurredAt time.Time
}

// BatchFilter narrows batch listings.
type BatchFilter struct {
	ItemID       int64
	ExpiryFilter BatchStatus
	Page         int
	PerPage      int
}

// MovementFilter narrows movement history queries.
type MovementFilter struct {
	BatchID int64
	ItemID  int64
	Kind    MovementKind
	ActorID int64
	From    time.Time
	To      time.Time
	Page    int
	PerPage int
}

var (
	// ErrBatchNotFound indicates the batch does not exist.
	ErrBatchNotFound = fmt.Errorf("ledger: batch %w", shared.ErrNotFound)
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = fmt.Errorf("ledger: quantity must be positive: %w", shared.ErrValidation)
	// ErrNegativeTarget indicates an adjustment below zero.
	ErrNegativeTarget = fmt.Errorf("ledger: adjusted quantity must be >= 0: %w", shared.ErrValidation)
	// ErrEmptyReason indicates an adjustment without a reason.
	ErrEmptyReason = fmt.Errorf("ledger: adjustment reason required: %w", shared.ErrInvalidState)
	// ErrInvalidAdjustmentType indicates an unknown adjustment type.
	ErrInvalidAdjustmentType = fmt.Errorf("ledger: unknown adjustment type: %w", shared.ErrValidation)
	// ErrBatchConflict indicates an existing batch row that contradicts the
	// incoming line (same batch number, different expiry date).
	ErrBatchConflict = fmt.Errorf("ledger: batch attributes mismatch: %w", shared.ErrConflict)
)
