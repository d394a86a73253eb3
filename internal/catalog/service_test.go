package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dentora-hq/dentora/internal/ledger"
	"github.com/dentora-hq/dentora/internal/shared"
)

type memoryItemRepo struct {
	items         map[int64]Item
	withMovements map[int64]bool
	nextID        int64
}

func newMemoryItemRepo() *memoryItemRepo {
	return &memoryItemRepo{items: make(map[int64]Item), withMovements: make(map[int64]bool)}
}

func (r *memoryItemRepo) Create(ctx context.Context, item Item) (int64, error) {
	for _, existing := range r.items {
		if existing.Code == item.Code {
			return 0, ErrCodeTaken
		}
	}
	r.nextID++
	item.ID = r.nextID
	r.items[item.ID] = item
	return item.ID, nil
}

func (r *memoryItemRepo) Update(ctx context.Context, item Item) error {
	if _, ok := r.items[item.ID]; !ok {
		return ErrNotFound
	}
	r.items[item.ID] = item
	return nil
}

func (r *memoryItemRepo) Get(ctx context.Context, id int64) (Item, error) {
	item, ok := r.items[id]
	if !ok {
		return Item{}, ErrNotFound
	}
	return item, nil
}

func (r *memoryItemRepo) GetByCode(ctx context.Context, code string) (Item, error) {
	for _, item := range r.items {
		if item.Code == code {
			return item, nil
		}
	}
	return Item{}, ErrNotFound
}

func (r *memoryItemRepo) List(ctx context.Context, filter ItemFilter) ([]Item, int, error) {
	var out []Item
	for _, item := range r.items {
		if filter.Active != nil && item.IsActive != *filter.Active {
			continue
		}
		out = append(out, item)
	}
	return out, len(out), nil
}

func (r *memoryItemRepo) Delete(ctx context.Context, id int64) error {
	if _, ok := r.items[id]; !ok {
		return ErrNotFound
	}
	delete(r.items, id)
	return nil
}

func (r *memoryItemRepo) SetActive(ctx context.Context, id int64, active bool) error {
	item, ok := r.items[id]
	if !ok {
		return ErrNotFound
	}
	item.IsActive = active
	r.items[id] = item
	return nil
}

func (r *memoryItemRepo) HasMovements(ctx context.Context, id int64) (bool, error) {
	return r.withMovements[id], nil
}

type memoryAvailability struct {
	batches map[int64][]ledger.StockBatch
}

func (m *memoryAvailability) ListAvailable(ctx context.Context, itemID int64, asOf time.Time) ([]ledger.StockBatch, error) {
	var out []ledger.StockBatch
	for _, b := range m.batches[itemID] {
		if b.QtyAvailable > 0 && !b.Expired(asOf) {
			out = append(out, b)
		}
	}
	return out, nil
}

func TestNormalizeName(t *testing.T) {
	require.Equal(t, "Composite Resin", NormalizeName("  composite   RESIN "))
	require.Equal(t, "Niti Rotary File", NormalizeName("NiTi rotary file"))
}

func TestCreateNormalizesAndActivates(t *testing.T) {
	repo := newMemoryItemRepo()
	svc := NewService(repo, &memoryAvailability{}, nil)

	item, err := svc.Create(context.Background(), CreateInput{
		Code: "DEN-001", Name: "composite resin", Unit: "syringe", ReorderLevel: 5, ActorID: 1,
	})
	require.NoError(t, err)
	require.Equal(t, "Composite Resin", item.Name)
	require.True(t, item.IsActive)
}

func TestCreateRejectsDuplicateCode(t *testing.T) {
	repo := newMemoryItemRepo()
	svc := NewService(repo, &memoryAvailability{}, nil)

	_, err := svc.Create(context.Background(), CreateInput{Code: "DEN-001", Name: "a", Unit: "box", ActorID: 1})
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), CreateInput{Code: "DEN-001", Name: "b", Unit: "box", ActorID: 1})
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestCreateValidation(t *testing.T) {
	svc := NewService(newMemoryItemRepo(), &memoryAvailability{}, nil)

	_, err := svc.Create(context.Background(), CreateInput{Name: "a", Unit: "box"})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.Create(context.Background(), CreateInput{Code: "X", Unit: "box"})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.Create(context.Background(), CreateInput{Code: "X", Name: "a"})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.Create(context.Background(), CreateInput{Code: "X", Name: "a", Unit: "box", ReorderLevel: -1})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRemoveDeactivatesItemWithHistory(t *testing.T) {
	repo := newMemoryItemRepo()
	svc := NewService(repo, &memoryAvailability{}, nil)

	withHistory, err := svc.Create(context.Background(), CreateInput{Code: "A", Name: "a", Unit: "box", ActorID: 1})
	require.NoError(t, err)
	fresh, err := svc.Create(context.Background(), CreateInput{Code: "B", Name: "b", Unit: "box", ActorID: 1})
	require.NoError(t, err)
	repo.withMovements[withHistory.ID] = true

	require.NoError(t, svc.Remove(context.Background(), withHistory.ID, 1))
	stored, err := repo.Get(context.Background(), withHistory.ID)
	require.NoError(t, err)
	require.False(t, stored.IsActive)

	require.NoError(t, svc.Remove(context.Background(), fresh.ID, 1))
	_, err = repo.Get(context.Background(), fresh.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAvailabilityExcludesExpiredAndFlagsReorder(t *testing.T) {
	repo := newMemoryItemRepo()
	expired := time.Now().UTC().AddDate(0, 0, -1)
	good := time.Now().UTC().AddDate(0, 1, 0)
	avail := &memoryAvailability{batches: map[int64][]ledger.StockBatch{}}
	svc := NewService(repo, avail, nil)

	item, err := svc.Create(context.Background(), CreateInput{Code: "A", Name: "a", Unit: "box", ReorderLevel: 10, ActorID: 1})
	require.NoError(t, err)
	avail.batches[item.ID] = []ledger.StockBatch{
		{ID: 1, ItemID: item.ID, QtyAvailable: 4, ExpiryDate: &good},
		{ID: 2, ItemID: item.ID, QtyAvailable: 50, ExpiryDate: &expired},
		{ID: 3, ItemID: item.ID, QtyAvailable: 3},
	}

	result, err := svc.Availability(context.Background(), item.ID)
	require.NoError(t, err)
	require.Equal(t, float64(7), result.OnHand)
	require.True(t, result.BelowReorder)
}
