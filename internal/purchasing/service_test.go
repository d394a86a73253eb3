package purchasing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/dentora-hq/dentora/internal/shared"
)

type memoryPORepo struct {
	orders     map[int64]PurchaseOrder
	nextID     int64
	nextLineID int64
}

type memoryPOTx struct {
	repo *memoryPORepo
}

func newMemoryPORepo() *memoryPORepo {
	return &memoryPORepo{orders: make(map[int64]PurchaseOrder)}
}

func (r *memoryPORepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryPOTx{repo: r})
}

func (r *memoryPORepo) GetPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	po, ok := r.orders[id]
	if !ok {
		return PurchaseOrder{}, ErrNotFound
	}
	return po, nil
}

func (r *memoryPORepo) List(ctx context.Context, filter POFilter) ([]PurchaseOrder, int, error) {
	var out []PurchaseOrder
	for _, po := range r.orders {
		if filter.Status != "" && po.Status != filter.Status {
			continue
		}
		if filter.SupplierID != 0 && po.SupplierID != filter.SupplierID {
			continue
		}
		out = append(out, po)
	}
	return out, len(out), nil
}

func (t *memoryPOTx) GetPOForUpdate(ctx context.Context, poID int64) (PurchaseOrder, error) {
	return t.repo.GetPO(ctx, poID)
}

func (t *memoryPOTx) CreatePO(ctx context.Context, po PurchaseOrder) (int64, error) {
	t.repo.nextID++
	po.ID = t.repo.nextID
	t.repo.orders[po.ID] = po
	return po.ID, nil
}

func (t *memoryPOTx) InsertLine(ctx context.Context, line POLine) (int64, error) {
	po, ok := t.repo.orders[line.POID]
	if !ok {
		return 0, ErrNotFound
	}
	t.repo.nextLineID++
	line.ID = t.repo.nextLineID
	po.Lines = append(po.Lines, line)
	t.repo.orders[po.ID] = po
	return line.ID, nil
}

func (t *memoryPOTx) ReplaceLines(ctx context.Context, poID int64, lines []POLine) error {
	po, ok := t.repo.orders[poID]
	if !ok {
		return ErrNotFound
	}
	po.Lines = nil
	t.repo.orders[poID] = po
	for _, line := range lines {
		line.POID = poID
		if _, err := t.InsertLine(ctx, line); err != nil {
			return err
		}
	}
	return nil
}

func (t *memoryPOTx) AddLineReceipt(ctx context.Context, lineID int64, qty float64) error {
	for id, po := range t.repo.orders {
		for i := range po.Lines {
			if po.Lines[i].ID == lineID {
				po.Lines[i].QtyReceived += qty
				t.repo.orders[id] = po
				return nil
			}
		}
	}
	return ErrNotFound
}

func (t *memoryPOTx) UpdateStatus(ctx context.Context, poID int64, status POStatus) error {
	po, ok := t.repo.orders[poID]
	if !ok {
		return ErrNotFound
	}
	po.Status = status
	t.repo.orders[poID] = po
	return nil
}

type memorySequence struct {
	counters map[string]int64
}

func (s *memorySequence) Next(ctx context.Context, prefix string, day time.Time) (string, error) {
	if s.counters == nil {
		s.counters = make(map[string]int64)
	}
	key := prefix + day.Format("20060102")
	s.counters[key]++
	return fmt.Sprintf("%s-%s-%04d", prefix, day.Format("20060102"), s.counters[key]), nil
}

func newPOService(repo *memoryPORepo) *Service {
	return NewService(repo, &memorySequence{}, nil)
}

func sampleLines() []LineInput {
	return []LineInput{
		{ItemID: 1, QtyOrdered: 10, UnitCost: decimal.NewFromFloat(2.50)},
		{ItemID: 2, QtyOrdered: 5, UnitCost: decimal.NewFromFloat(11.00)},
	}
}

func TestCreateAssignsNumberAndPendingStatus(t *testing.T) {
	repo := newMemoryPORepo()
	svc := newPOService(repo)

	po, err := svc.Create(context.Background(), CreateInput{
		SupplierID: 7,
		OrderDate:  time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		CreatedBy:  1,
		Lines:      sampleLines(),
	})
	require.NoError(t, err)
	require.Equal(t, StatusPending, po.Status)
	require.Equal(t, "PO-20250310-0001", po.Number)
	require.Len(t, po.Lines, 2)
	require.Equal(t, "80.00", po.Total().StringFixed(2))
}

func TestCreateNumbersDoNotCollide(t *testing.T) {
	repo := newMemoryPORepo()
	svc := newPOService(repo)
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		po, err := svc.Create(context.Background(), CreateInput{
			SupplierID: 7, OrderDate: day, CreatedBy: 1, Lines: sampleLines(),
		})
		require.NoError(t, err)
		require.False(t, seen[po.Number], "duplicate number %s", po.Number)
		seen[po.Number] = true
	}
}

func TestCreateRejectsEmptyLines(t *testing.T) {
	svc := newPOService(newMemoryPORepo())

	_, err := svc.Create(context.Background(), CreateInput{SupplierID: 7, CreatedBy: 1})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateAggregatesLineErrors(t *testing.T) {
	svc := newPOService(newMemoryPORepo())

	_, err := svc.Create(context.Background(), CreateInput{
		SupplierID: 7,
		CreatedBy:  1,
		Lines: []LineInput{
			{ItemID: 0, QtyOrdered: -1, UnitCost: decimal.NewFromInt(1)},
			{ItemID: 2, QtyOrdered: 3, UnitCost: decimal.NewFromInt(-4)},
		},
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	var lineErrs *shared.LineErrors
	require.ErrorAs(t, err, &lineErrs)
	lines := lineErrs.Lines()
	require.Len(t, lines[0], 2)
	require.Len(t, lines[1], 1)
}

func TestApproveOnlyFromPending(t *testing.T) {
	repo := newMemoryPORepo()
	svc := newPOService(repo)
	po, err := svc.Create(context.Background(), CreateInput{SupplierID: 7, CreatedBy: 1, Lines: sampleLines()})
	require.NoError(t, err)

	approved, err := svc.Approve(context.Background(), po.ID, 1)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, approved.Status)

	_, err = svc.Approve(context.Background(), po.ID, 1)
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestCancelBlockedAfterReceipts(t *testing.T) {
	repo := newMemoryPORepo()
	svc := newPOService(repo)
	po, err := svc.Create(context.Background(), CreateInput{SupplierID: 7, CreatedBy: 1, Lines: sampleLines()})
	require.NoError(t, err)
	_, err = svc.Approve(context.Background(), po.ID, 1)
	require.NoError(t, err)

	err = repo.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		stored, err := tx.GetPOForUpdate(ctx, po.ID)
		if err != nil {
			return err
		}
		return tx.AddLineReceipt(ctx, stored.Lines[0].ID, 4)
	})
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), po.ID, 1)
	require.ErrorIs(t, err, ErrPartiallyReceived)
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestCancelFromPendingAndApproved(t *testing.T) {
	repo := newMemoryPORepo()
	svc := newPOService(repo)

	pending, err := svc.Create(context.Background(), CreateInput{SupplierID: 7, CreatedBy: 1, Lines: sampleLines()})
	require.NoError(t, err)
	cancelled, err := svc.Cancel(context.Background(), pending.ID, 1)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)

	_, err = svc.Cancel(context.Background(), pending.ID, 1)
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestUpdateLinesOnlyWhilePending(t *testing.T) {
	repo := newMemoryPORepo()
	svc := newPOService(repo)
	po, err := svc.Create(context.Background(), CreateInput{SupplierID: 7, CreatedBy: 1, Lines: sampleLines()})
	require.NoError(t, err)

	updated, err := svc.UpdateLines(context.Background(), po.ID, 1, []LineInput{
		{ItemID: 3, QtyOrdered: 2, UnitCost: decimal.NewFromInt(9)},
	})
	require.NoError(t, err)
	require.Len(t, updated.Lines, 1)

	_, err = svc.Approve(context.Background(), po.ID, 1)
	require.NoError(t, err)
	_, err = svc.UpdateLines(context.Background(), po.ID, 1, sampleLines())
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestFullyReceivedHelpers(t *testing.T) {
	po := PurchaseOrder{Lines: []POLine{
		{QtyOrdered: 10, QtyReceived: 10},
		{QtyOrdered: 5, QtyReceived: 7},
	}}
	require.True(t, po.FullyReceived())
	require.True(t, po.OverReceived())
	require.True(t, po.HasReceipts())

	empty := PurchaseOrder{}
	require.False(t, empty.FullyReceived())
}
