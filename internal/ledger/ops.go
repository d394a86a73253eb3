package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/dentora-hq/dentora/internal/shared"
)

// TxRepository exposes batch and movement operations bound to one open
// transaction. Every quantity mutation in the system flows through the
// functions below, so a batch update and its movement row always commit
// together.
type TxRepository interface {
	GetBatchForUpdate(ctx context.Context, batchID int64) (StockBatch, error)
	FindBatchForUpdate(ctx context.Context, itemID int64, batchNo string) (StockBatch, error)
	CreateBatch(ctx context.Context, batch StockBatch) (int64, error)
	UpdateBatchQty(ctx context.Context, batchID int64, qty float64) error
	InsertMovement(ctx context.Context, m Movement) (int64, error)
	ListAvailableForUpdate(ctx context.Context, itemID int64, asOf time.Time) ([]StockBatch, error)
}

// Credit adds quantity to a locked batch and writes the paired receipt row.
func Credit(ctx context.Context, tx TxRepository, in CreditInput) (Movement, error) {
	if in.Qty <= 0 {
		return Movement{}, ErrInvalidQuantity
	}
	batch, err := tx.GetBatchForUpdate(ctx, in.BatchID)
	if err != nil {
		return Movement{}, err
	}
	newQty := batch.QtyAvailable + in.Qty
	if err := tx.UpdateBatchQty(ctx, batch.ID, newQty); err != nil {
		return Movement{}, err
	}
	occurredAt := in.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	unitCost := in.UnitCost
	stockInNo := in.StockInNo
	m := Movement{
		BatchID:    batch.ID,
		Kind:       KindReceipt,
		Qty:        in.Qty,
		BalanceQty: newQty,
		CreatedBy:  in.ReceivedBy,
		OccurredAt: occurredAt,
		UnitCost:   &unitCost,
		POID:       in.POID,
		StockInNo:  &stockInNo,
	}
	id, err := tx.InsertMovement(ctx, m)
	if err != nil {
		return Movement{}, err
	}
	m.ID = id
	return m, nil
}

// Debit removes quantity from a locked batch and writes the paired release
// row. The available quantity is re-read under the row lock, so concurrent
// debits on the same batch serialize and can never drive it negative.
func Debit(ctx context.Context, tx TxRepository, in DebitInput) (Movement, error) {
	if in.Qty <= 0 {
		return Movement{}, ErrInvalidQuantity
	}
	batch, err := tx.GetBatchForUpdate(ctx, in.BatchID)
	if err != nil {
		return Movement{}, err
	}
	if in.Qty > batch.QtyAvailable {
		return Movement{}, &shared.StockShortageError{Shortages: []shared.BatchShortage{{
			BatchID:   batch.ID,
			ItemID:    batch.ItemID,
			Requested: in.Qty,
			Available: batch.QtyAvailable,
		}}}
	}
	newQty := batch.QtyAvailable - in.Qty
	if err := tx.UpdateBatchQty(ctx, batch.ID, newQty); err != nil {
		return Movement{}, err
	}
	occurredAt := in.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	releasedTo := in.ReleasedTo
	referenceNo := in.ReferenceNo
	m := Movement{
		BatchID:     batch.ID,
		Kind:        KindRelease,
		Qty:         -in.Qty,
		BalanceQty:  newQty,
		CreatedBy:   in.CreatedBy,
		OccurredAt:  occurredAt,
		ReleasedTo:  &releasedTo,
		ReferenceNo: &referenceNo,
		Treatment:   in.Treatment,
	}
	if in.Purpose != "" {
		purpose := in.Purpose
		m.Purpose = &purpose
	}
	id, err := tx.InsertMovement(ctx, m)
	if err != nil {
		return Movement{}, err
	}
	m.ID = id
	return m, nil
}

// AdjustTo sets a locked batch to an absolute quantity and writes the paired
// adjustment row. The old quantity is read at lock time, so two concurrent
// adjustments serialize and the second records the post-first state.
func AdjustTo(ctx context.Context, tx TxRepository, in AdjustInput) (Movement, error) {
	if in.Reason == "" {
		return Movement{}, ErrEmptyReason
	}
	if in.NewQty < 0 {
		return Movement{}, ErrNegativeTarget
	}
	if !ValidAdjustmentType(in.Type) {
		return Movement{}, ErrInvalidAdjustmentType
	}
	batch, err := tx.GetBatchForUpdate(ctx, in.BatchID)
	if err != nil {
		return Movement{}, err
	}
	oldQty := batch.QtyAvailable
	if err := tx.UpdateBatchQty(ctx, batch.ID, in.NewQty); err != nil {
		return Movement{}, err
	}
	occurredAt := in.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	newQty := in.NewQty
	reason := in.Reason
	adjType := in.Type
	m := Movement{
		BatchID:        batch.ID,
		Kind:           KindAdjustment,
		Qty:            in.NewQty - oldQty,
		BalanceQty:     in.NewQty,
		CreatedBy:      in.AdjustedBy,
		OccurredAt:     occurredAt,
		OldQty:         &oldQty,
		NewQty:         &newQty,
		Reason:         &reason,
		AdjustmentType: &adjType,
	}
	id, err := tx.InsertMovement(ctx, m)
	if err != nil {
		return Movement{}, err
	}
	m.ID = id
	return m, nil
}

// EnsureBatch returns the locked batch for (itemID, batchNo), creating it
// with zero quantity when absent. An existing batch whose expiry date
// contradicts the incoming one is a conflict, not a silent overwrite.
func EnsureBatch(ctx context.Context, tx TxRepository, itemID int64, batchNo string, expiry *time.Time) (StockBatch, error) {
	batch, err := tx.FindBatchForUpdate(ctx, itemID, batchNo)
	if err == nil {
		if !sameExpiry(batch.ExpiryDate, expiry) {
			return StockBatch{}, ErrBatchConflict
		}
		return batch, nil
	}
	if !errors.Is(err, ErrBatchNotFound) {
		return StockBatch{}, err
	}
	created := StockBatch{ItemID: itemID, BatchNo: batchNo, ExpiryDate: expiry}
	id, err := tx.CreateBatch(ctx, created)
	if err != nil {
		return StockBatch{}, err
	}
	created.ID = id
	return created, nil
}

func sameExpiry(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return startOfDay(*a).Equal(startOfDay(*b))
}
