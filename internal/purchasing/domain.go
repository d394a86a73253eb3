package purchasing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dentora-hq/dentora/internal/shared"
)

// POStatus enumerates purchase order lifecycle states.
type POStatus string

const (
	StatusPending   POStatus = "Pending"
	StatusApproved  POStatus = "Approved"
	StatusReceived  POStatus = "Received"
	StatusCancelled POStatus = "Cancelled"
)

// PurchaseOrder domain model. Status only moves forward, except to
// Cancelled from Pending or Approved; Received and Cancelled are terminal.
type PurchaseOrder struct {
	ID           int64
	Number       string
	SupplierID   int64
	OrderDate    time.Time
	ExpectedDate *time.Time
	Status       POStatus
	Note         string
	CreatedBy    int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Lines        []POLine
}

// POLine represents one ordered item. QtyReceived accumulates from
// deliveries and is never edited directly.
type POLine struct {
	ID          int64
	POID        int64
	ItemID      int64
	QtyOrdered  float64
	UnitCost    decimal.Decimal
	QtyReceived float64
	Remarks     string
}

// FullyReceived reports whether every line's cumulative receipt covers its
// ordered quantity.
func (po PurchaseOrder) FullyReceived() bool {
	if len(po.Lines) == 0 {
		return false
	}
	for _, line := range po.Lines {
		if line.QtyReceived < line.QtyOrdered {
			return false
		}
	}
	return true
}

// OverReceived reports whether any line received more than ordered.
// Over-receipt is permitted but flagged for reporting.
func (po PurchaseOrder) OverReceived() bool {
	for _, line := range po.Lines {
		if line.QtyReceived > line.QtyOrdered {
			return true
		}
	}
	return false
}

// HasReceipts reports whether any quantity has been received at all.
func (po PurchaseOrder) HasReceipts() bool {
	for _, line := range po.Lines {
		if line.QtyReceived > 0 {
			return true
		}
	}
	return false
}

// LineForItem returns the index of the line ordering itemID, or -1.
func (po PurchaseOrder) LineForItem(itemID int64) int {
	for i, line := range po.Lines {
		if line.ItemID == itemID {
			return i
		}
	}
	return -1
}

// Total sums line amounts (qty ordered times unit cost).
func (po PurchaseOrder) Total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range po.Lines {
		total = total.Add(line.UnitCost.Mul(decimal.NewFromFloat(line.QtyOrdered)))
	}
	return total
}

// POFilter narrows purchase order listings.
type POFilter struct {
	Status     POStatus
	SupplierID int64
	From       time.Time
	To         time.Time
	Page       int
	PerPage    int
}

var (
	// ErrNotFound indicates the purchase order does not exist.
	ErrNotFound = fmt.Errorf("purchasing: purchase order %w", shared.ErrNotFound)
	// ErrInvalidTransition occurs when an action violates the status workflow.
	ErrInvalidTransition = fmt.Errorf("purchasing: %w for this status", shared.ErrInvalidState)
	// ErrPartiallyReceived blocks cancelling an order that already has receipts.
	ErrPartiallyReceived = fmt.Errorf("purchasing: order has recorded receipts: %w", shared.ErrConflict)
	// ErrValidation indicates invalid input.
	ErrValidation = fmt.Errorf("purchasing: invalid input: %w", shared.ErrValidation)
)
