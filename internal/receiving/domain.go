package receiving

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dentora-hq/dentora/internal/shared"
)

// StockIn is the header of one posted delivery. Every line below it was
// credited to the ledger in the same transaction that wrote this row.
// POID is zero for ad-hoc deliveries posted without a purchase order; those
// carry the supplier directly on the header.
type StockIn struct {
	ID           int64
	Number       string
	POID         int64
	SupplierID   int64
	DeliveryDate time.Time
	Note         string
	ReceivedBy   int64
	CreatedAt    time.Time
	Lines        []StockInLine
}

// TotalAmount sums qty times unit cost over all lines.
func (s StockIn) TotalAmount() decimal.Decimal {
	total := decimal.Zero
	for _, line := range s.Lines {
		total = total.Add(line.UnitCost.Mul(decimal.NewFromFloat(line.Qty)))
	}
	return total
}

// StockInLine records one received line and the ledger entry it produced.
type StockInLine struct {
	ID         int64
	StockInID  int64
	ItemID     int64
	BatchID    int64
	BatchNo    string
	Qty        float64
	UnitCost   decimal.Decimal
	MovementID int64
}

// DeliveryLineInput is one line of an incoming delivery.
type DeliveryLineInput struct {
	ItemID     int64
	BatchNo    string
	ExpiryDate *time.Time
	Qty        float64
	UnitCost   decimal.Decimal
}

// PostDeliveryInput describes a delivery submission. POID links the delivery
// to a purchase order; when zero the delivery is ad-hoc and SupplierID must
// identify where the goods came from.
type PostDeliveryInput struct {
	POID           int64
	SupplierID     int64
	IdempotencyKey string
	DeliveryDate   time.Time
	Note           string
	ReceivedBy     int64
	Lines          []DeliveryLineInput
}

// StockInFilter narrows delivery listings.
type StockInFilter struct {
	POID    int64
	From    time.Time
	To      time.Time
	Page    int
	PerPage int
}

var (
	// ErrNotFound indicates the stock-in record does not exist.
	ErrNotFound = fmt.Errorf("receiving: stock-in %w", shared.ErrNotFound)
	// ErrPONotReceivable blocks deliveries against orders that are not Approved.
	ErrPONotReceivable = fmt.Errorf("receiving: order not approved for receiving: %w", shared.ErrInvalidState)
	// ErrValidation indicates invalid input.
	ErrValidation = fmt.Errorf("receiving: invalid input: %w", shared.ErrValidation)
)
