package adjustments

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dentora-hq/dentora/internal/ledger"
	"github.com/dentora-hq/dentora/internal/shared"
)

type memoryLedger struct {
	batches   map[int64]ledger.StockBatch
	movements []ledger.Movement
	nextMove  int64
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{batches: make(map[int64]ledger.StockBatch)}
}

func (r *memoryLedger) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	return fn(ctx, &memoryLedgerTx{repo: r})
}

func (r *memoryLedger) ListMovements(ctx context.Context, filter ledger.MovementFilter) ([]ledger.Movement, int, error) {
	var out []ledger.Movement
	for _, m := range r.movements {
		if filter.Kind != "" && m.Kind != filter.Kind {
			continue
		}
		if filter.BatchID != 0 && m.BatchID != filter.BatchID {
			continue
		}
		if filter.ActorID != 0 && m.CreatedBy != filter.ActorID {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

type memoryLedgerTx struct {
	repo *memoryLedger
}

func (t *memoryLedgerTx) GetBatchForUpdate(ctx context.Context, batchID int64) (ledger.StockBatch, error) {
	b, ok := t.repo.batches[batchID]
	if !ok {
		return ledger.StockBatch{}, ledger.ErrBatchNotFound
	}
	return b, nil
}

func (t *memoryLedgerTx) FindBatchForUpdate(ctx context.Context, itemID int64, batchNo string) (ledger.StockBatch, error) {
	for _, b := range t.repo.batches {
		if b.ItemID == itemID && b.BatchNo == batchNo {
			return b, nil
		}
	}
	return ledger.StockBatch{}, ledger.ErrBatchNotFound
}

func (t *memoryLedgerTx) CreateBatch(ctx context.Context, batch ledger.StockBatch) (int64, error) {
	id := int64(len(t.repo.batches) + 1)
	batch.ID = id
	t.repo.batches[id] = batch
	return id, nil
}

func (t *memoryLedgerTx) UpdateBatchQty(ctx context.Context, batchID int64, qty float64) error {
	b, ok := t.repo.batches[batchID]
	if !ok {
		return ledger.ErrBatchNotFound
	}
	b.QtyAvailable = qty
	t.repo.batches[batchID] = b
	return nil
}

func (t *memoryLedgerTx) InsertMovement(ctx context.Context, m ledger.Movement) (int64, error) {
	t.repo.nextMove++
	m.ID = t.repo.nextMove
	t.repo.movements = append(t.repo.movements, m)
	return m.ID, nil
}

func (t *memoryLedgerTx) ListAvailableForUpdate(ctx context.Context, itemID int64, asOf time.Time) ([]ledger.StockBatch, error) {
	return nil, nil
}

type memoryAudit struct {
	logs []shared.AuditLog
}

func (a *memoryAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func seedBatch(repo *memoryLedger, id int64, qty float64, expiry *time.Time) {
	repo.batches[id] = ledger.StockBatch{ID: id, ItemID: 1, BatchNo: "LOT-A", ExpiryDate: expiry, QtyAvailable: qty}
}

func TestAdjustRecordsOldAndNewQty(t *testing.T) {
	repo := newMemoryLedger()
	seedBatch(repo, 1, 10, nil)
	svc := NewService(repo, nil, nil)

	m, err := svc.Adjust(context.Background(), Input{
		BatchID:    1,
		NewQty:     7,
		Reason:     "cycle count",
		Type:       ledger.AdjustmentCorrection,
		AdjustedBy: 5,
	})
	require.NoError(t, err)
	require.Equal(t, ledger.KindAdjustment, m.Kind)
	require.Equal(t, float64(10), *m.OldQty)
	require.Equal(t, float64(7), *m.NewQty)
	require.Equal(t, float64(-3), m.Qty)
	require.Equal(t, float64(7), repo.batches[1].QtyAvailable)
}

func TestSequentialAdjustmentsChainOldQty(t *testing.T) {
	repo := newMemoryLedger()
	seedBatch(repo, 1, 10, nil)
	svc := NewService(repo, nil, nil)

	first, err := svc.Adjust(context.Background(), Input{BatchID: 1, NewQty: 4, Reason: "count", Type: ledger.AdjustmentCorrection, AdjustedBy: 5})
	require.NoError(t, err)
	second, err := svc.Adjust(context.Background(), Input{BatchID: 1, NewQty: 9, Reason: "recount", Type: ledger.AdjustmentCorrection, AdjustedBy: 5})
	require.NoError(t, err)

	// The second adjustment sees the post-first state, never the original.
	require.Equal(t, *first.NewQty, *second.OldQty)
	require.Equal(t, float64(9), repo.batches[1].QtyAvailable)
}

func TestAdjustValidation(t *testing.T) {
	repo := newMemoryLedger()
	seedBatch(repo, 1, 10, nil)
	svc := NewService(repo, nil, nil)

	_, err := svc.Adjust(context.Background(), Input{BatchID: 1, NewQty: 7, Type: ledger.AdjustmentCorrection, AdjustedBy: 5})
	require.ErrorIs(t, err, ledger.ErrEmptyReason)

	_, err = svc.Adjust(context.Background(), Input{BatchID: 1, NewQty: -1, Reason: "x", Type: ledger.AdjustmentCorrection, AdjustedBy: 5})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Adjust(context.Background(), Input{BatchID: 1, NewQty: 7, Reason: "x", Type: "SHRINKAGE", AdjustedBy: 5})
	require.ErrorIs(t, err, ledger.ErrInvalidAdjustmentType)

	_, err = svc.Adjust(context.Background(), Input{BatchID: 99, NewQty: 7, Reason: "x", Type: ledger.AdjustmentCorrection, AdjustedBy: 5})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestAdjustExpiredBatchFlaggedForReview(t *testing.T) {
	repo := newMemoryLedger()
	expired := time.Now().UTC().AddDate(0, 0, -3)
	seedBatch(repo, 1, 5, &expired)
	audit := &memoryAudit{}
	svc := NewService(repo, audit, nil)

	_, err := svc.Adjust(context.Background(), Input{BatchID: 1, NewQty: 6, Reason: "found extra", Type: ledger.AdjustmentCorrection, AdjustedBy: 5})
	require.NoError(t, err)
	require.Len(t, audit.logs, 1)
	require.Equal(t, true, audit.logs[0].Meta["expired_batch"])
	require.Contains(t, audit.logs[0].Meta, "review")

	_, err = svc.Adjust(context.Background(), Input{BatchID: 1, NewQty: 0, Reason: "disposed", Type: ledger.AdjustmentDisposal, AdjustedBy: 5})
	require.NoError(t, err)
	require.Equal(t, true, audit.logs[1].Meta["expired_batch"])
	require.NotContains(t, audit.logs[1].Meta, "review")
}

func TestHistoryFiltersAdjustmentsOnly(t *testing.T) {
	repo := newMemoryLedger()
	seedBatch(repo, 1, 10, nil)
	svc := NewService(repo, nil, nil)

	_, err := svc.Adjust(context.Background(), Input{BatchID: 1, NewQty: 8, Reason: "count", Type: ledger.AdjustmentCorrection, AdjustedBy: 5})
	require.NoError(t, err)

	// A receipt in the same ledger must not show up in adjustment history.
	require.NoError(t, repo.WithTx(context.Background(), func(ctx context.Context, tx ledger.TxRepository) error {
		_, err := tx.InsertMovement(ctx, ledger.Movement{BatchID: 1, Kind: ledger.KindReceipt, Qty: 2, BalanceQty: 10})
		return err
	}))

	movements, total, err := svc.History(context.Background(), HistoryFilter{BatchID: 1})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, ledger.KindAdjustment, movements[0].Kind)
}
