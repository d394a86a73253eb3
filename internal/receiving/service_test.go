package receiving

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/dentora-hq/dentora/internal/ledger"
	"github.com/dentora-hq/dentora/internal/purchasing"
	"github.com/dentora-hq/dentora/internal/shared"
)

// memoryState mirrors everything a delivery touches. WithTx runs the
// callback against a deep copy and swaps it in only on success, so rollback
// behaves like the real transaction.
type memoryState struct {
	batches    map[int64]ledger.StockBatch
	movements  []ledger.Movement
	orders     map[int64]purchasing.PurchaseOrder
	stockIns   map[int64]StockIn
	counters   map[string]int64
	nextID     int64
	nextBatch  int64
	nextMove   int64
	nextSILine int64
}

func newMemoryState() *memoryState {
	return &memoryState{
		batches:  make(map[int64]ledger.StockBatch),
		orders:   make(map[int64]purchasing.PurchaseOrder),
		stockIns: make(map[int64]StockIn),
		counters: make(map[string]int64),
	}
}

func (s *memoryState) clone() *memoryState {
	out := &memoryState{
		batches:    make(map[int64]ledger.StockBatch, len(s.batches)),
		movements:  append([]ledger.Movement(nil), s.movements...),
		orders:     make(map[int64]purchasing.PurchaseOrder, len(s.orders)),
		stockIns:   make(map[int64]StockIn, len(s.stockIns)),
		counters:   make(map[string]int64, len(s.counters)),
		nextID:     s.nextID,
		nextBatch:  s.nextBatch,
		nextMove:   s.nextMove,
		nextSILine: s.nextSILine,
	}
	for k, v := range s.batches {
		out.batches[k] = v
	}
	for k, v := range s.orders {
		v.Lines = append([]purchasing.POLine(nil), v.Lines...)
		out.orders[k] = v
	}
	for k, v := range s.stockIns {
		v.Lines = append([]StockInLine(nil), v.Lines...)
		out.stockIns[k] = v
	}
	for k, v := range s.counters {
		out.counters[k] = v
	}
	return out
}

type memoryRepo struct {
	state *memoryState
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: newMemoryState()}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	work := r.state.clone()
	if err := fn(ctx, &memoryTx{state: work}); err != nil {
		return err
	}
	r.state = work
	return nil
}

func (r *memoryRepo) GetStockIn(ctx context.Context, id int64) (StockIn, error) {
	si, ok := r.state.stockIns[id]
	if !ok {
		return StockIn{}, ErrNotFound
	}
	return si, nil
}

func (r *memoryRepo) List(ctx context.Context, filter StockInFilter) ([]StockIn, int, error) {
	var out []StockIn
	for _, si := range r.state.stockIns {
		if filter.POID != 0 && si.POID != filter.POID {
			continue
		}
		out = append(out, si)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

type memoryTx struct {
	state *memoryState
}

func (t *memoryTx) Ledger() ledger.TxRepository { return &memoryLedgerTx{state: t.state} }

func (t *memoryTx) Orders() purchasing.TxRepository { return &memoryOrdersTx{state: t.state} }

func (t *memoryTx) NextNumber(ctx context.Context, prefix string, day time.Time) (string, error) {
	key := prefix + day.Format("20060102")
	t.state.counters[key]++
	return fmt.Sprintf("%s-%s-%04d", prefix, day.Format("20060102"), t.state.counters[key]), nil
}

func (t *memoryTx) InsertStockIn(ctx context.Context, si StockIn) (int64, error) {
	t.state.nextID++
	si.ID = t.state.nextID
	t.state.stockIns[si.ID] = si
	return si.ID, nil
}

func (t *memoryTx) InsertStockInLine(ctx context.Context, line StockInLine) (int64, error) {
	si, ok := t.state.stockIns[line.StockInID]
	if !ok {
		return 0, ErrNotFound
	}
	t.state.nextSILine++
	line.ID = t.state.nextSILine
	si.Lines = append(si.Lines, line)
	t.state.stockIns[si.ID] = si
	return line.ID, nil
}

type memoryLedgerTx struct {
	state *memoryState
}

func (t *memoryLedgerTx) GetBatchForUpdate(ctx context.Context, batchID int64) (ledger.StockBatch, error) {
	b, ok := t.state.batches[batchID]
	if !ok {
		return ledger.StockBatch{}, ledger.ErrBatchNotFound
	}
	return b, nil
}

func (t *memoryLedgerTx) FindBatchForUpdate(ctx context.Context, itemID int64, batchNo string) (ledger.StockBatch, error) {
	for _, b := range t.state.batches {
		if b.ItemID == itemID && b.BatchNo == batchNo {
			return b, nil
		}
	}
	return ledger.StockBatch{}, ledger.ErrBatchNotFound
}

func (t *memoryLedgerTx) CreateBatch(ctx context.Context, batch ledger.StockBatch) (int64, error) {
	t.state.nextBatch++
	batch.ID = t.state.nextBatch
	batch.QtyAvailable = 0
	t.state.batches[batch.ID] = batch
	return batch.ID, nil
}

func (t *memoryLedgerTx) UpdateBatchQty(ctx context.Context, batchID int64, qty float64) error {
	b, ok := t.state.batches[batchID]
	if !ok {
		return ledger.ErrBatchNotFound
	}
	b.QtyAvailable = qty
	t.state.batches[batchID] = b
	return nil
}

func (t *memoryLedgerTx) InsertMovement(ctx context.Context, m ledger.Movement) (int64, error) {
	t.state.nextMove++
	m.ID = t.state.nextMove
	t.state.movements = append(t.state.movements, m)
	return m.ID, nil
}

func (t *memoryLedgerTx) ListAvailableForUpdate(ctx context.Context, itemID int64, asOf time.Time) ([]ledger.StockBatch, error) {
	var out []ledger.StockBatch
	for _, b := range t.state.batches {
		if b.ItemID == itemID && b.QtyAvailable > 0 && !b.Expired(asOf) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.ExpiryDate == nil && b.ExpiryDate == nil:
			return a.ID < b.ID
		case a.ExpiryDate == nil:
			return false
		case b.ExpiryDate == nil:
			return true
		case a.ExpiryDate.Equal(*b.ExpiryDate):
			return a.ID < b.ID
		default:
			return a.ExpiryDate.Before(*b.ExpiryDate)
		}
	})
	return out, nil
}

type memoryOrdersTx struct {
	state *memoryState
}

func (t *memoryOrdersTx) GetPOForUpdate(ctx context.Context, poID int64) (purchasing.PurchaseOrder, error) {
	po, ok := t.state.orders[poID]
	if !ok {
		return purchasing.PurchaseOrder{}, purchasing.ErrNotFound
	}
	po.Lines = append([]purchasing.POLine(nil), po.Lines...)
	return po, nil
}

func (t *memoryOrdersTx) CreatePO(ctx context.Context, po purchasing.PurchaseOrder) (int64, error) {
	t.state.nextID++
	po.ID = t.state.nextID
	t.state.orders[po.ID] = po
	return po.ID, nil
}

func (t *memoryOrdersTx) InsertLine(ctx context.Context, line purchasing.POLine) (int64, error) {
	po, ok := t.state.orders[line.POID]
	if !ok {
		return 0, purchasing.ErrNotFound
	}
	t.state.nextSILine++
	line.ID = t.state.nextSILine
	po.Lines = append(po.Lines, line)
	t.state.orders[po.ID] = po
	return line.ID, nil
}

func (t *memoryOrdersTx) ReplaceLines(ctx context.Context, poID int64, lines []purchasing.POLine) error {
	po, ok := t.state.orders[poID]
	if !ok {
		return purchasing.ErrNotFound
	}
	po.Lines = nil
	t.state.orders[poID] = po
	for _, line := range lines {
		line.POID = poID
		if _, err := t.InsertLine(ctx, line); err != nil {
			return err
		}
	}
	return nil
}

func (t *memoryOrdersTx) AddLineReceipt(ctx context.Context, lineID int64, qty float64) error {
	for id, po := range t.state.orders {
		for i := range po.Lines {
			if po.Lines[i].ID == lineID {
				po.Lines[i].QtyReceived += qty
				t.state.orders[id] = po
				return nil
			}
		}
	}
	return purchasing.ErrNotFound
}

func (t *memoryOrdersTx) UpdateStatus(ctx context.Context, poID int64, status purchasing.POStatus) error {
	po, ok := t.state.orders[poID]
	if !ok {
		return purchasing.ErrNotFound
	}
	po.Status = status
	t.state.orders[poID] = po
	return nil
}

type memoryIdempotency struct {
	keys map[string]bool
}

func (m *memoryIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	if m.keys == nil {
		m.keys = make(map[string]bool)
	}
	if m.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = true
	return nil
}

func (m *memoryIdempotency) Delete(ctx context.Context, key string) error {
	delete(m.keys, key)
	return nil
}

func seedApprovedPO(t *testing.T, repo *memoryRepo) purchasing.PurchaseOrder {
	t.Helper()
	var po purchasing.PurchaseOrder
	err := repo.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		var err error
		po = purchasing.PurchaseOrder{
			Number:     "PO-20250310-0001",
			SupplierID: 7,
			Status:     purchasing.StatusApproved,
		}
		po.ID, err = tx.Orders().CreatePO(ctx, po)
		if err != nil {
			return err
		}
		for _, line := range []purchasing.POLine{
			{POID: po.ID, ItemID: 1, QtyOrdered: 10, UnitCost: decimal.NewFromFloat(2.5)},
			{POID: po.ID, ItemID: 2, QtyOrdered: 5, UnitCost: decimal.NewFromInt(11)},
		} {
			if _, err := tx.Orders().InsertLine(ctx, line); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return repo.state.orders[po.ID]
}

func expiryDate(year int, month time.Month, day int) *time.Time {
	d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return &d
}

func TestPostDeliveryCreditsBatchesAndTracksProgress(t *testing.T) {
	repo := newMemoryRepo()
	po := seedApprovedPO(t, repo)
	svc := NewService(repo, nil, nil, nil)

	si, err := svc.PostDelivery(context.Background(), PostDeliveryInput{
		POID:       po.ID,
		ReceivedBy: 3,
		Lines: []DeliveryLineInput{
			{ItemID: 1, BatchNo: "LOT-A", ExpiryDate: expiryDate(2027, 1, 1), Qty: 6, UnitCost: decimal.NewFromFloat(2.5)},
			{ItemID: 2, BatchNo: "LOT-B", Qty: 5, UnitCost: decimal.NewFromInt(11)},
		},
	})
	require.NoError(t, err)
	require.Regexp(t, `^SI-\d{8}-\d{4}$`, si.Number)
	require.Len(t, si.Lines, 2)

	require.Len(t, repo.state.batches, 2)
	require.Equal(t, float64(6), repo.state.batches[si.Lines[0].BatchID].QtyAvailable)
	require.Len(t, repo.state.movements, 2)
	for _, m := range repo.state.movements {
		require.Equal(t, ledger.KindReceipt, m.Kind)
		require.Equal(t, si.Number, *m.StockInNo)
		require.Equal(t, po.ID, *m.POID)
	}

	stored := repo.state.orders[po.ID]
	require.Equal(t, purchasing.StatusApproved, stored.Status)
	require.Equal(t, float64(6), stored.Lines[0].QtyReceived)
	require.Equal(t, float64(5), stored.Lines[1].QtyReceived)
}

func TestPostDeliveryClosesFullyReceivedOrder(t *testing.T) {
	repo := newMemoryRepo()
	po := seedApprovedPO(t, repo)
	svc := NewService(repo, nil, nil, nil)

	_, err := svc.PostDelivery(context.Background(), PostDeliveryInput{
		POID:       po.ID,
		ReceivedBy: 3,
		Lines: []DeliveryLineInput{
			{ItemID: 1, BatchNo: "LOT-A", Qty: 10, UnitCost: decimal.NewFromFloat(2.5)},
			{ItemID: 2, BatchNo: "LOT-B", Qty: 5, UnitCost: decimal.NewFromInt(11)},
		},
	})
	require.NoError(t, err)
	require.Equal(t, purchasing.StatusReceived, repo.state.orders[po.ID].Status)
}

func TestPostDeliveryOverReceiptAcceptedAndFlagged(t *testing.T) {
	repo := newMemoryRepo()
	po := seedApprovedPO(t, repo)
	svc := NewService(repo, nil, nil, nil)

	_, err := svc.PostDelivery(context.Background(), PostDeliveryInput{
		POID:       po.ID,
		ReceivedBy: 3,
		Lines: []DeliveryLineInput{
			{ItemID: 1, BatchNo: "LOT-A", Qty: 12, UnitCost: decimal.NewFromFloat(2.5)},
			{ItemID: 2, BatchNo: "LOT-B", Qty: 5, UnitCost: decimal.NewFromInt(11)},
		},
	})
	require.NoError(t, err)
	stored := repo.state.orders[po.ID]
	require.Equal(t, purchasing.StatusReceived, stored.Status)
	require.True(t, stored.OverReceived())
}

func TestPostDeliveryRejectsUnknownItemAllOrNothing(t *testing.T) {
	repo := newMemoryRepo()
	po := seedApprovedPO(t, repo)
	svc := NewService(repo, nil, nil, nil)

	_, err := svc.PostDelivery(context.Background(), PostDeliveryInput{
		POID:       po.ID,
		ReceivedBy: 3,
		Lines: []DeliveryLineInput{
			{ItemID: 1, BatchNo: "LOT-A", Qty: 6, UnitCost: decimal.NewFromFloat(2.5)},
			{ItemID: 99, BatchNo: "LOT-X", Qty: 1, UnitCost: decimal.NewFromInt(1)},
		},
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	// First line must not have landed either.
	require.Empty(t, repo.state.batches)
	require.Empty(t, repo.state.movements)
	require.Equal(t, float64(0), repo.state.orders[po.ID].Lines[0].QtyReceived)
}

func TestPostDeliveryRollsBackOnBatchConflict(t *testing.T) {
	repo := newMemoryRepo()
	po := seedApprovedPO(t, repo)
	svc := NewService(repo, nil, nil, nil)

	_, err := svc.PostDelivery(context.Background(), PostDeliveryInput{
		POID:       po.ID,
		ReceivedBy: 3,
		Lines: []DeliveryLineInput{
			{ItemID: 1, BatchNo: "LOT-A", ExpiryDate: expiryDate(2027, 1, 1), Qty: 4, UnitCost: decimal.NewFromFloat(2.5)},
		},
	})
	require.NoError(t, err)
	movementsBefore := len(repo.state.movements)

	// Same batch number, contradictory expiry.
	_, err = svc.PostDelivery(context.Background(), PostDeliveryInput{
		POID:       po.ID,
		ReceivedBy: 3,
		Lines: []DeliveryLineInput{
			{ItemID: 2, BatchNo: "LOT-B", Qty: 2, UnitCost: decimal.NewFromInt(11)},
			{ItemID: 1, BatchNo: "LOT-A", ExpiryDate: expiryDate(2028, 6, 1), Qty: 1, UnitCost: decimal.NewFromFloat(2.5)},
		},
	})
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Len(t, repo.state.movements, movementsBefore)
	require.Equal(t, float64(0), repo.state.orders[po.ID].Lines[1].QtyReceived)
}

func TestPostDeliveryRequiresApprovedOrder(t *testing.T) {
	repo := newMemoryRepo()
	po := seedApprovedPO(t, repo)
	require.NoError(t, repo.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		return tx.Orders().UpdateStatus(ctx, po.ID, purchasing.StatusPending)
	}))
	svc := NewService(repo, nil, nil, nil)

	_, err := svc.PostDelivery(context.Background(), PostDeliveryInput{
		POID:       po.ID,
		ReceivedBy: 3,
		Lines:      []DeliveryLineInput{{ItemID: 1, BatchNo: "LOT-A", Qty: 1, UnitCost: decimal.NewFromInt(1)}},
	})
	require.ErrorIs(t, err, ErrPONotReceivable)
}

func TestPostDeliveryAggregatesLineErrors(t *testing.T) {
	repo := newMemoryRepo()
	po := seedApprovedPO(t, repo)
	svc := NewService(repo, nil, nil, nil)

	_, err := svc.PostDelivery(context.Background(), PostDeliveryInput{
		POID:       po.ID,
		ReceivedBy: 3,
		Lines: []DeliveryLineInput{
			{ItemID: 0, BatchNo: "", Qty: -1, UnitCost: decimal.NewFromInt(1)},
			{ItemID: 2, BatchNo: "LOT-B", Qty: 3, UnitCost: decimal.NewFromInt(11)},
		},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	var lineErrs *shared.LineErrors
	require.ErrorAs(t, err, &lineErrs)
	require.Len(t, lineErrs.Lines()[0], 3)
}

func TestPostDeliveryIdempotencyReplayRejected(t *testing.T) {
	repo := newMemoryRepo()
	po := seedApprovedPO(t, repo)
	idem := &memoryIdempotency{}
	svc := NewService(repo, idem, nil, nil)

	input := PostDeliveryInput{
		POID:           po.ID,
		IdempotencyKey: "req-1",
		ReceivedBy:     3,
		Lines:          []DeliveryLineInput{{ItemID: 1, BatchNo: "LOT-A", Qty: 2, UnitCost: decimal.NewFromInt(1)}},
	}
	_, err := svc.PostDelivery(context.Background(), input)
	require.NoError(t, err)

	_, err = svc.PostDelivery(context.Background(), input)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	require.Len(t, repo.state.movements, 1)
}

func TestPostDeliveryIdempotencyKeyReleasedOnFailure(t *testing.T) {
	repo := newMemoryRepo()
	po := seedApprovedPO(t, repo)
	idem := &memoryIdempotency{}
	svc := NewService(repo, idem, nil, nil)

	input := PostDeliveryInput{
		POID:           po.ID,
		IdempotencyKey: "req-2",
		ReceivedBy:     3,
		Lines:          []DeliveryLineInput{{ItemID: 99, BatchNo: "LOT-X", Qty: 1, UnitCost: decimal.NewFromInt(1)}},
	}
	_, err := svc.PostDelivery(context.Background(), input)
	require.ErrorIs(t, err, shared.ErrValidation)

	// The failed attempt must not burn the key.
	input.Lines = []DeliveryLineInput{{ItemID: 1, BatchNo: "LOT-A", Qty: 1, UnitCost: decimal.NewFromInt(1)}}
	_, err = svc.PostDelivery(context.Background(), input)
	require.NoError(t, err)
}

func TestPostDeliveryWithoutOrderCreditsBatches(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)

	si, err := svc.PostDelivery(context.Background(), PostDeliveryInput{
		SupplierID: 7,
		ReceivedBy: 3,
		Lines: []DeliveryLineInput{
			{ItemID: 1, BatchNo: "LOT-A", ExpiryDate: expiryDate(2027, 1, 1), Qty: 6, UnitCost: decimal.NewFromFloat(2.5)},
		},
	})
	require.NoError(t, err)
	require.Regexp(t, `^SI-\d{8}-\d{4}$`, si.Number)
	require.Equal(t, int64(0), si.POID)
	require.Equal(t, int64(7), si.SupplierID)

	require.Len(t, repo.state.movements, 1)
	require.Nil(t, repo.state.movements[0].POID)
	require.Equal(t, float64(6), repo.state.batches[si.Lines[0].BatchID].QtyAvailable)
	require.Empty(t, repo.state.orders)
}

func TestPostDeliveryRequiresSupplierOrOrder(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, nil)

	_, err := svc.PostDelivery(context.Background(), PostDeliveryInput{
		ReceivedBy: 3,
		Lines:      []DeliveryLineInput{{ItemID: 1, BatchNo: "LOT-A", Qty: 1, UnitCost: decimal.NewFromInt(1)}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestPostDeliveryHeaderCarriesOrderSupplier(t *testing.T) {
	repo := newMemoryRepo()
	po := seedApprovedPO(t, repo)
	svc := NewService(repo, nil, nil, nil)

	si, err := svc.PostDelivery(context.Background(), PostDeliveryInput{
		POID:       po.ID,
		ReceivedBy: 3,
		Lines:      []DeliveryLineInput{{ItemID: 1, BatchNo: "LOT-A", Qty: 2, UnitCost: decimal.NewFromInt(1)}},
	})
	require.NoError(t, err)
	require.Equal(t, po.SupplierID, si.SupplierID)
	require.Equal(t, po.SupplierID, repo.state.stockIns[si.ID].SupplierID)
}

func TestStockInViewTotals(t *testing.T) {
	si := StockIn{
		ID:     1,
		Number: "SI-20250310-0001",
		Lines: []StockInLine{
			{Qty: 6, UnitCost: decimal.NewFromFloat(2.5)},
			{Qty: 5, UnitCost: decimal.NewFromInt(11)},
		},
	}
	view := newStockInView(si)
	require.Equal(t, 2, view.TotalItems)
	require.Equal(t, "70.00", view.TotalAmount)
}
