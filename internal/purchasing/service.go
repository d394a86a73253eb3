package purchasing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dentora-hq/dentora/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPO(ctx context.Context, id int64) (PurchaseOrder, error)
	List(ctx context.Context, filter POFilter) ([]PurchaseOrder, int, error)
}

// SequencePort issues document numbers.
type SequencePort interface {
	Next(ctx context.Context, prefix string, day time.Time) (string, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates the purchase order workflow.
type Service struct {
	repo      RepositoryPort
	sequences SequencePort
	audit     AuditPort
}

// NewService constructs purchasing service.
func NewService(repo RepositoryPort, sequences SequencePort, audit AuditPort) *Service {
	return &Service{repo: repo, sequences: sequences, audit: audit}
}

// LineInput describes one requested line.
type LineInput struct {
	ItemID     int64
	QtyOrdered float64
	UnitCost   decimal.Decimal
	Remarks    string
}

// CreateInput describes creation payload.
type CreateInput struct {
	SupplierID   int64
	ExpectedDate *time.Time
	OrderDate    time.Time
	Note         string
	CreatedBy    int64
	Lines        []LineInput
}

// Create persists a new order in Pending status. The order number comes from
// the store-backed daily sequence, so burst creation cannot collide.
func (s *Service) Create(ctx context.Context, input CreateInput) (PurchaseOrder, error) {
	if input.SupplierID <= 0 {
		return PurchaseOrder{}, fmt.Errorf("%w: supplier required", ErrValidation)
	}
	lines, err := buildLines(input.Lines)
	if err != nil {
		return PurchaseOrder{}, err
	}
	orderDate := input.OrderDate
	if orderDate.IsZero() {
		orderDate = time.Now().UTC()
	}
	number, err := s.sequences.Next(ctx, "PO", orderDate)
	if err != nil {
		return PurchaseOrder{}, err
	}
	po := PurchaseOrder{
		Number:       number,
		SupplierID:   input.SupplierID,
		OrderDate:    orderDate,
		ExpectedDate: input.ExpectedDate,
		Status:       StatusPending,
		Note:         input.Note,
		CreatedBy:    input.CreatedBy,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		poID, err := tx.CreatePO(ctx, po)
		if err != nil {
			return err
		}
		po.ID = poID
		for i := range lines {
			lines[i].POID = poID
			lineID, err := tx.InsertLine(ctx, lines[i])
			if err != nil {
				return err
			}
			lines[i].ID = lineID
		}
		po.Lines = lines
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, input.CreatedBy, "PO_CREATE", po.ID, map[string]any{"number": po.Number})
	return po, nil
}

// Approve transitions Pending to Approved.
func (s *Service) Approve(ctx context.Context, poID, actorID int64) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		po, err = tx.GetPOForUpdate(ctx, poID)
		if err != nil {
			return err
		}
		if po.Status != StatusPending {
			return ErrInvalidTransition
		}
		po.Status = StatusApproved
		return tx.UpdateStatus(ctx, poID, StatusApproved)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, actorID, "PO_APPROVE", poID, map[string]any{"number": po.Number})
	return po, nil
}

// Cancel transitions Pending or Approved to Cancelled. Orders with any
// recorded receipt cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, poID, actorID int64) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		po, err = tx.GetPOForUpdate(ctx, poID)
		if err != nil {
			return err
		}
		if po.Status != StatusPending && po.Status != StatusApproved {
			return ErrInvalidTransition
		}
		if po.HasReceipts() {
			return ErrPartiallyReceived
		}
		po.Status = StatusCancelled
		return tx.UpdateStatus(ctx, poID, StatusCancelled)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, actorID, "PO_CANCEL", poID, map[string]any{"number": po.Number})
	return po, nil
}

// UpdateLines replaces the order's lines. Allowed only while Pending.
func (s *Service) UpdateLines(ctx context.Context, poID, actorID int64, inputs []LineInput) (PurchaseOrder, error) {
	lines, err := buildLines(inputs)
	if err != nil {
		return PurchaseOrder{}, err
	}
	var po PurchaseOrder
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		po, err = tx.GetPOForUpdate(ctx, poID)
		if err != nil {
			return err
		}
		if po.Status != StatusPending {
			return ErrInvalidTransition
		}
		for i := range lines {
			lines[i].POID = poID
		}
		if err := tx.ReplaceLines(ctx, poID, lines); err != nil {
			return err
		}
		po.Lines = lines
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, actorID, "PO_UPDATE_LINES", poID, map[string]any{"number": po.Number, "lines": len(lines)})
	return po, nil
}

// Get returns one order with lines.
func (s *Service) Get(ctx context.Context, poID int64) (PurchaseOrder, error) {
	if poID <= 0 {
		return PurchaseOrder{}, ErrNotFound
	}
	return s.repo.GetPO(ctx, poID)
}

// List returns orders matching the filter.
func (s *Service) List(ctx context.Context, filter POFilter) ([]PurchaseOrder, int, error) {
	return s.repo.List(ctx, filter)
}

func buildLines(inputs []LineInput) ([]POLine, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: at least one line required", ErrValidation)
	}
	lineErrs := &shared.LineErrors{}
	lines := make([]POLine, 0, len(inputs))
	for i, in := range inputs {
		if in.ItemID <= 0 {
			lineErrs.Add(i, "item required")
		}
		if in.QtyOrdered <= 0 {
			lineErrs.Add(i, "quantity ordered must be positive")
		}
		if in.UnitCost.IsNegative() {
			lineErrs.Add(i, "unit cost must be >= 0")
		}
		lines = append(lines, POLine{
			ItemID:     in.ItemID,
			QtyOrdered: in.QtyOrdered,
			UnitCost:   in.UnitCost,
			Remarks:    in.Remarks,
		})
	}
	if !lineErrs.Empty() {
		return nil, lineErrs
	}
	return lines, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, poID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "purchase_order", EntityID: fmt.Sprintf("%d", poID), Meta: meta})
}
