package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/dentora-hq/dentora/internal/ledger"
	"github.com/dentora-hq/dentora/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	Create(ctx context.Context, item Item) (int64, error)
	Update(ctx context.Context, item Item) error
	Get(ctx context.Context, id int64) (Item, error)
	GetByCode(ctx context.Context, code string) (Item, error)
	List(ctx context.Context, filter ItemFilter) ([]Item, int, error)
	Delete(ctx context.Context, id int64) error
	SetActive(ctx context.Context, id int64, active bool) error
	HasMovements(ctx context.Context, id int64) (bool, error)
}

// LedgerPort is the slice of the ledger catalog reads for availability.
type LedgerPort interface {
	ListAvailable(ctx context.Context, itemID int64, asOf time.Time) ([]ledger.StockBatch, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service manages the item catalog.
type Service struct {
	repo   RepositoryPort
	ledger LedgerPort
	audit  AuditPort
}

// NewService builds Service. Audit may be nil.
func NewService(repo RepositoryPort, ledgerRepo LedgerPort, audit AuditPort) *Service {
	return &Service{repo: repo, ledger: ledgerRepo, audit: audit}
}

// CreateInput describes a new item.
type CreateInput struct {
	Code         string
	Name         string
	CategoryID   *int64
	Unit         string
	ReorderLevel float64
	SupplierID   *int64
	ActorID      int64
}

// Create registers an item with a normalized display name.
func (s *Service) Create(ctx context.Context, input CreateInput) (Item, error) {
	if input.Code == "" {
		return Item{}, fmt.Errorf("%w: code required", ErrValidation)
	}
	if input.Name == "" {
		return Item{}, fmt.Errorf("%w: name required", ErrValidation)
	}
	if input.Unit == "" {
		return Item{}, fmt.Errorf("%w: unit of measure required", ErrValidation)
	}
	if input.ReorderLevel < 0 {
		return Item{}, fmt.Errorf("%w: reorder level must be >= 0", ErrValidation)
	}
	item := Item{
		Code:         input.Code,
		Name:         NormalizeName(input.Name),
		CategoryID:   input.CategoryID,
		Unit:         input.Unit,
		ReorderLevel: input.ReorderLevel,
		SupplierID:   input.SupplierID,
		IsActive:     true,
	}
	id, err := s.repo.Create(ctx, item)
	if err != nil {
		return Item{}, err
	}
	item.ID = id
	s.recordAudit(ctx, input.ActorID, "ITEM_CREATE", id, map[string]any{"code": item.Code})
	return item, nil
}

// UpdateInput describes editable item fields.
type UpdateInput struct {
	Name         string
	CategoryID   *int64
	Unit         string
	ReorderLevel float64
	SupplierID   *int64
	ActorID      int64
}

// Update edits an item's descriptive fields. The code is immutable; it is
// printed on labels and referenced by suppliers.
func (s *Service) Update(ctx context.Context, id int64, input UpdateInput) (Item, error) {
	item, err := s.repo.Get(ctx, id)
	if err != nil {
		return Item{}, err
	}
	if input.Name == "" {
		return Item{}, fmt.Errorf("%w: name required", ErrValidation)
	}
	if input.Unit == "" {
		return Item{}, fmt.Errorf("%w: unit of measure required", ErrValidation)
	}
	if input.ReorderLevel < 0 {
		return Item{}, fmt.Errorf("%w: reorder level must be >= 0", ErrValidation)
	}
	item.Name = NormalizeName(input.Name)
	item.CategoryID = input.CategoryID
	item.Unit = input.Unit
	item.ReorderLevel = input.ReorderLevel
	item.SupplierID = input.SupplierID
	if err := s.repo.Update(ctx, item); err != nil {
		return Item{}, err
	}
	s.recordAudit(ctx, input.ActorID, "ITEM_UPDATE", id, map[string]any{"code": item.Code})
	return item, nil
}

// Get returns one item.
func (s *Service) Get(ctx context.Context, id int64) (Item, error) {
	if id <= 0 {
		return Item{}, ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

// List returns items matching the filter.
func (s *Service) List(ctx context.Context, filter ItemFilter) ([]Item, int, error) {
	return s.repo.List(ctx, filter)
}

// Remove deletes an item without ledger history, and deactivates one with
// history instead; batches and movements must stay resolvable forever.
func (s *Service) Remove(ctx context.Context, id, actorID int64) error {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}
	has, err := s.repo.HasMovements(ctx, id)
	if err != nil {
		return err
	}
	if has {
		if err := s.repo.SetActive(ctx, id, false); err != nil {
			return err
		}
		s.recordAudit(ctx, actorID, "ITEM_DEACTIVATE", id, nil)
		return nil
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "ITEM_DELETE", id, nil)
	return nil
}

// Activate re-enables a deactivated item.
func (s *Service) Activate(ctx context.Context, id, actorID int64) error {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.SetActive(ctx, id, true); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "ITEM_ACTIVATE", id, nil)
	return nil
}

// Availability sums non-expired batch quantities for one item and compares
// the total against the reorder level.
func (s *Service) Availability(ctx context.Context, id int64) (Availability, error) {
	item, err := s.repo.Get(ctx, id)
	if err != nil {
		return Availability{}, err
	}
	batches, err := s.ledger.ListAvailable(ctx, id, time.Now().UTC())
	if err != nil {
		return Availability{}, err
	}
	var onHand float64
	for _, b := range batches {
		onHand += b.QtyAvailable
	}
	return Availability{
		ItemID:       item.ID,
		OnHand:       onHand,
		ReorderLevel: item.ReorderLevel,
		BelowReorder: onHand < item.ReorderLevel,
	}, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, itemID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "item", EntityID: fmt.Sprintf("%d", itemID), Meta: meta})
}
