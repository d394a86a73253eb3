package receiving

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dentora-hq/dentora/internal/ledger"
	"github.com/dentora-hq/dentora/internal/purchasing"
	"github.com/dentora-hq/dentora/internal/shared"
)

// TxRepository groups everything a delivery posting touches inside one
// transaction: its own header rows, the purchase order, and the ledger.
type TxRepository interface {
	Ledger() ledger.TxRepository
	Orders() purchasing.TxRepository
	NextNumber(ctx context.Context, prefix string, day time.Time) (string, error)
	InsertStockIn(ctx context.Context, si StockIn) (int64, error)
	InsertStockInLine(ctx context.Context, line StockInLine) (int64, error)
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetStockIn(ctx context.Context, id int64) (StockIn, error)
	List(ctx context.Context, filter StockInFilter) ([]StockIn, int, error)
}

// IdempotencyPort guards against replayed submissions.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort receives receiving counters.
type MetricsPort interface {
	DeliveryPosted(lines int)
}

// Service posts deliveries. A delivery is all-or-nothing: either every line
// lands as a batch credit plus order progress, or nothing does.
type Service struct {
	repo        RepositoryPort
	idempotency IdempotencyPort
	audit       AuditPort
	metrics     MetricsPort
}

// NewService builds Service. Idempotency, audit and metrics may be nil.
func NewService(repo RepositoryPort, idempotency IdempotencyPort, audit AuditPort, metrics MetricsPort) *Service {
	return &Service{repo: repo, idempotency: idempotency, audit: audit, metrics: metrics}
}

// PostDelivery validates the submission, then applies all lines in one
// transaction: find-or-create each batch, credit it, and when the delivery
// references a purchase order, bump the matching order line and close the
// order when every line is covered. Over-receipt is accepted and surfaces on
// the order as a flag. Deliveries without an order are ad-hoc and require a
// supplier on the header instead.
func (s *Service) PostDelivery(ctx context.Context, input PostDeliveryInput) (StockIn, error) {
	if input.POID <= 0 && input.SupplierID <= 0 {
		return StockIn{}, fmt.Errorf("%w: supplier or purchase order required", ErrValidation)
	}
	if len(input.Lines) == 0 {
		return StockIn{}, fmt.Errorf("%w: at least one line required", ErrValidation)
	}
	lineErrs := &shared.LineErrors{}
	for i, line := range input.Lines {
		if line.ItemID <= 0 {
			lineErrs.Add(i, "item required")
		}
		if line.BatchNo == "" {
			lineErrs.Add(i, "batch number required")
		}
		if line.Qty <= 0 {
			lineErrs.Add(i, "quantity must be positive")
		}
		if line.UnitCost.IsNegative() {
			lineErrs.Add(i, "unit cost must be >= 0")
		}
	}
	if !lineErrs.Empty() {
		return StockIn{}, lineErrs
	}

	if input.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, "receiving"); err != nil {
			return StockIn{}, err
		}
	}

	deliveryDate := input.DeliveryDate
	if deliveryDate.IsZero() {
		deliveryDate = time.Now().UTC()
	}

	var si StockIn
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var po purchasing.PurchaseOrder
		var lineIdx []int
		supplierID := input.SupplierID
		if input.POID > 0 {
			var err error
			po, err = tx.Orders().GetPOForUpdate(ctx, input.POID)
			if err != nil {
				return err
			}
			if po.Status != purchasing.StatusApproved {
				return ErrPONotReceivable
			}
			matchErrs := &shared.LineErrors{}
			lineIdx = make([]int, len(input.Lines))
			for i, line := range input.Lines {
				idx := po.LineForItem(line.ItemID)
				if idx < 0 {
					matchErrs.Add(i, "item not on this purchase order")
				}
				lineIdx[i] = idx
			}
			if !matchErrs.Empty() {
				return matchErrs
			}
			supplierID = po.SupplierID
		}

		number, err := tx.NextNumber(ctx, "SI", deliveryDate)
		if err != nil {
			return err
		}
		si = StockIn{
			Number:       number,
			POID:         po.ID,
			SupplierID:   supplierID,
			DeliveryDate: deliveryDate,
			Note:         input.Note,
			ReceivedBy:   input.ReceivedBy,
		}
		si.ID, err = tx.InsertStockIn(ctx, si)
		if err != nil {
			return err
		}

		for i, line := range input.Lines {
			batch, err := ledger.EnsureBatch(ctx, tx.Ledger(), line.ItemID, line.BatchNo, line.ExpiryDate)
			if err != nil {
				return fmt.Errorf("line %d: %w", i, err)
			}
			var poRef *int64
			if po.ID > 0 {
				poID := po.ID
				poRef = &poID
			}
			movement, err := ledger.Credit(ctx, tx.Ledger(), ledger.CreditInput{
				BatchID:    batch.ID,
				Qty:        line.Qty,
				UnitCost:   line.UnitCost,
				POID:       poRef,
				StockInNo:  number,
				ReceivedBy: input.ReceivedBy,
				OccurredAt: deliveryDate,
			})
			if err != nil {
				return fmt.Errorf("line %d: %w", i, err)
			}
			if po.ID > 0 {
				poLine := po.Lines[lineIdx[i]]
				if err := tx.Orders().AddLineReceipt(ctx, poLine.ID, line.Qty); err != nil {
					return err
				}
				po.Lines[lineIdx[i]].QtyReceived += line.Qty
			}

			siLine := StockInLine{
				StockInID:  si.ID,
				ItemID:     line.ItemID,
				BatchID:    batch.ID,
				BatchNo:    line.BatchNo,
				Qty:        line.Qty,
				UnitCost:   line.UnitCost,
				MovementID: movement.ID,
			}
			siLine.ID, err = tx.InsertStockInLine(ctx, siLine)
			if err != nil {
				return err
			}
			si.Lines = append(si.Lines, siLine)
		}

		if po.ID > 0 && po.FullyReceived() {
			if err := tx.Orders().UpdateStatus(ctx, po.ID, purchasing.StatusReceived); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if input.IdempotencyKey != "" && s.idempotency != nil && !errors.Is(err, shared.ErrIdempotencyConflict) {
			_ = s.idempotency.Delete(ctx, input.IdempotencyKey)
		}
		return StockIn{}, err
	}

	if s.metrics != nil {
		s.metrics.DeliveryPosted(len(si.Lines))
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ReceivedBy,
			Action:   "RECEIVE_DELIVERY",
			Entity:   "stock_in",
			EntityID: fmt.Sprintf("%d", si.ID),
			Meta:     map[string]any{"number": si.Number, "po_id": si.POID, "supplier_id": si.SupplierID, "lines": len(si.Lines)},
		})
	}
	return si, nil
}

// Get returns one posted delivery with lines.
func (s *Service) Get(ctx context.Context, id int64) (StockIn, error) {
	if id <= 0 {
		return StockIn{}, ErrNotFound
	}
	return s.repo.GetStockIn(ctx, id)
}

// List returns posted deliveries matching the filter.
func (s *Service) List(ctx context.Context, filter StockInFilter) ([]StockIn, int, error) {
	return s.repo.List(ctx, filter)
}
