package stockout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dentora-hq/dentora/internal/ledger"
	"github.com/dentora-hq/dentora/internal/shared"
)

// TxRepository groups everything a release touches inside one transaction.
type TxRepository interface {
	Ledger() ledger.TxRepository
	NextNumber(ctx context.Context, prefix string, day time.Time) (string, error)
	InsertStockOut(ctx context.Context, so StockOut) (int64, error)
	InsertAllocation(ctx context.Context, alloc Allocation) (int64, error)
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetStockOut(ctx context.Context, id int64) (StockOut, error)
	List(ctx context.Context, filter StockOutFilter) ([]StockOut, int, error)
	ListTreatmentUsage(ctx context.Context, filter TreatmentFilter) ([]StockOut, int, error)
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

// MetricsPort receives stock-out counters.
type MetricsPort interface {
	ReleasePosted(lines int)
	StockRejected()
}

// Service posts stock releases. Lines without a pinned batch are allocated
// FEFO, soonest expiry first, and may split across batches. A release is
// all-or-nothing: any shortage rolls back every debit.
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

// Release validates the submission, then debits all lines in one
// transaction. Shortages across all lines are collected into a single
// error so the caller sees the full picture, not just the first failure.
func (s *Service) Release(ctx context.Context, input ReleaseInput) (StockOut, error) {
	if input.ReleasedTo == "" {
		return StockOut{}, fmt.Errorf("%w: released_to required", ErrValidation)
	}
	if len(input.Lines) == 0 {
		return StockOut{}, fmt.Errorf("%w: at least one line required", ErrValidation)
	}
	if input.Treatment != nil && input.Treatment.PatientID <= 0 {
		return StockOut{}, fmt.Errorf("%w: treatment link requires patient", ErrValidation)
	}
	lineErrs := &shared.LineErrors{}
	for i, line := range input.Lines {
		if line.ItemID <= 0 && line.BatchID <= 0 {
			lineErrs.Add(i, "item or batch required")
		}
		if line.Qty <= 0 {
			lineErrs.Add(i, "quantity must be positive")
		}
	}
	if !lineErrs.Empty() {
		return StockOut{}, lineErrs
	}

	if input.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, "stockout"); err != nil {
			return StockOut{}, err
		}
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	var so StockOut
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		reference, err := tx.NextNumber(ctx, "SO", occurredAt)
		if err != nil {
			return err
		}
		so = StockOut{
			ReferenceNo: reference,
			ReleasedTo:  input.ReleasedTo,
			Purpose:     input.Purpose,
			Note:        input.Note,
			ReleasedBy:  input.ReleasedBy,
			OccurredAt:  occurredAt,
			Treatment:   input.Treatment,
		}
		so.ID, err = tx.InsertStockOut(ctx, so)
		if err != nil {
			return err
		}

		var shortages []shared.BatchShortage
		for _, line := range input.Lines {
			lineShortages, allocs, err := s.releaseLine(ctx, tx, so, line, input, occurredAt)
			if err != nil {
				return err
			}
			shortages = append(shortages, lineShortages...)
			so.Allocations = append(so.Allocations, allocs...)
		}
		if len(shortages) > 0 {
			return &shared.StockShortageError{Shortages: shortages}
		}
		return nil
	})
	if err != nil {
		if input.IdempotencyKey != "" && s.idempotency != nil && !errors.Is(err, shared.ErrIdempotencyConflict) {
			_ = s.idempotency.Delete(ctx, input.IdempotencyKey)
		}
		if s.metrics != nil && errors.Is(err, shared.ErrInsufficientStock) {
			s.metrics.StockRejected()
		}
		return StockOut{}, err
	}

	if s.metrics != nil {
		s.metrics.ReleasePosted(len(so.Allocations))
	}
	if s.audit != nil {
		meta := map[string]any{"reference_no": so.ReferenceNo, "released_to": so.ReleasedTo, "allocations": len(so.Allocations)}
		if so.Treatment != nil {
			meta["patient_id"] = so.Treatment.PatientID
		}
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ReleasedBy,
			Action:   "STOCK_OUT",
			Entity:   "stock_out",
			EntityID: fmt.Sprintf("%d", so.ID),
			Meta:     meta,
		})
	}
	return so, nil
}

// releaseLine debits one requested line. Pinned lines hit their batch
// directly; FEFO lines walk available batches soonest-expiry first. A
// short line reports its shortage instead of debiting at all.
func (s *Service) releaseLine(ctx context.Context, tx TxRepository, so StockOut, line ReleaseLineInput, input ReleaseInput, occurredAt time.Time) ([]shared.BatchShortage, []Allocation, error) {
	if line.BatchID > 0 {
		batch, err := tx.Ledger().GetBatchForUpdate(ctx, line.BatchID)
		if err != nil {
			return nil, nil, err
		}
		if line.ItemID > 0 && batch.ItemID != line.ItemID {
			return nil, nil, batchItemMismatchError(batch.BatchNo, line.ItemID)
		}
		if batch.Expired(occurredAt) {
			return nil, nil, expiredBatchError(batch.BatchNo)
		}
		if line.Qty > batch.QtyAvailable {
			return []shared.BatchShortage{{
				BatchID:   batch.ID,
				ItemID:    batch.ItemID,
				Requested: line.Qty,
				Available: batch.QtyAvailable,
			}}, nil, nil
		}
		alloc, err := s.debit(ctx, tx, so, batch.ID, batch.ItemID, line.Qty, input, occurredAt)
		if err != nil {
			return nil, nil, err
		}
		return nil, []Allocation{alloc}, nil
	}

	batches, err := tx.Ledger().ListAvailableForUpdate(ctx, line.ItemID, occurredAt)
	if err != nil {
		return nil, nil, err
	}
	var available float64
	for _, b := range batches {
		available += b.QtyAvailable
	}
	if available < line.Qty {
		return []shared.BatchShortage{{
			ItemID:    line.ItemID,
			Requested: line.Qty,
			Available: available,
		}}, nil, nil
	}

	var allocs []Allocation
	remaining := line.Qty
	for _, b := range batches {
		if remaining <= 0 {
			break
		}
		take := remaining
		if take > b.QtyAvailable {
			take = b.QtyAvailable
		}
		alloc, err := s.debit(ctx, tx, so, b.ID, b.ItemID, take, input, occurredAt)
		if err != nil {
			return nil, nil, err
		}
		allocs = append(allocs, alloc)
		remaining -= take
	}
	return nil, allocs, nil
}

func (s *Service) debit(ctx context.Context, tx TxRepository, so StockOut, batchID, itemID int64, qty float64, input ReleaseInput, occurredAt time.Time) (Allocation, error) {
	movement, err := ledger.Debit(ctx, tx.Ledger(), ledger.DebitInput{
		BatchID:     batchID,
		Qty:         qty,
		ReleasedTo:  input.ReleasedTo,
		Purpose:     input.Purpose,
		ReferenceNo: so.ReferenceNo,
		CreatedBy:   input.ReleasedBy,
		OccurredAt:  occurredAt,
		Treatment:   input.Treatment,
	})
	if err != nil {
		return Allocation{}, err
	}
	alloc := Allocation{
		StockOutID: so.ID,
		ItemID:     itemID,
		BatchID:    batchID,
		Qty:        qty,
		MovementID: movement.ID,
	}
	alloc.ID, err = tx.InsertAllocation(ctx, alloc)
	if err != nil {
		return Allocation{}, err
	}
	return alloc, nil
}

// Get returns one posted release with allocations.
func (s *Service) Get(ctx context.Context, id int64) (StockOut, error) {
	if id <= 0 {
		return StockOut{}, ErrNotFound
	}
	return s.repo.GetStockOut(ctx, id)
}

// List returns posted releases matching the filter.
func (s *Service) List(ctx context.Context, filter StockOutFilter) ([]StockOut, int, error) {
	return s.repo.List(ctx, filter)
}

// ListTreatmentUsage returns releases linked to clinical records, filtered
// by patient or invoice.
func (s *Service) ListTreatmentUsage(ctx context.Context, filter TreatmentFilter) ([]StockOut, int, error) {
	if filter.PatientID <= 0 && filter.InvoiceID <= 0 {
		return nil, 0, fmt.Errorf("%w: patient_id or invoice_id required", ErrValidation)
	}
	return s.repo.ListTreatmentUsage(ctx, filter)
}
