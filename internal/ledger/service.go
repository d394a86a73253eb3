package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dentora-hq/dentora/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBatch(ctx context.Context, batchID int64) (StockBatch, error)
	ListBatches(ctx context.Context, filter BatchFilter) ([]StockBatch, int, error)
	ListAvailable(ctx context.Context, itemID int64, asOf time.Time) ([]StockBatch, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, int, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort receives ledger counters.
type MetricsPort interface {
	MovementPosted(kind string)
	StockRejected()
}

// Service coordinates single-batch ledger operations and history queries.
// Multi-line flows (deliveries, releases) compose the same Credit/Debit
// primitives inside their own transactions.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	metrics MetricsPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, metrics MetricsPort) *Service {
	return &Service{repo: repo, audit: audit, metrics: metrics}
}

// Credit posts a receipt against one batch.
func (s *Service) Credit(ctx context.Context, in CreditInput) (Movement, error) {
	var m Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		m, err = Credit(ctx, tx, in)
		return err
	})
	if err != nil {
		return Movement{}, err
	}
	s.observe(ctx, m, in.ReceivedBy)
	return m, nil
}

// Debit posts a release against one batch.
func (s *Service) Debit(ctx context.Context, in DebitInput) (Movement, error) {
	var m Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		m, err = Debit(ctx, tx, in)
		return err
	})
	if err != nil {
		if s.metrics != nil && errors.Is(err, shared.ErrInsufficientStock) {
			s.metrics.StockRejected()
		}
		return Movement{}, err
	}
	s.observe(ctx, m, in.CreatedBy)
	return m, nil
}

// AdjustTo corrects one batch to an absolute quantity.
func (s *Service) AdjustTo(ctx context.Context, in AdjustInput) (Movement, error) {
	var m Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		m, err = AdjustTo(ctx, tx, in)
		return err
	})
	if err != nil {
		return Movement{}, err
	}
	s.observe(ctx, m, in.AdjustedBy)
	return m, nil
}

// GetBatch returns one batch, including retired ones.
func (s *Service) GetBatch(ctx context.Context, batchID int64) (StockBatch, error) {
	if batchID <= 0 {
		return StockBatch{}, ErrBatchNotFound
	}
	return s.repo.GetBatch(ctx, batchID)
}

// ListBatches lists batches with derived status labels.
func (s *Service) ListBatches(ctx context.Context, filter BatchFilter) ([]StockBatch, int, error) {
	return s.repo.ListBatches(ctx, filter)
}

// ListAvailableBatches returns allocation candidates for an item: quantity
// above zero and not expired, soonest expiry first.
func (s *Service) ListAvailableBatches(ctx context.Context, itemID int64) ([]StockBatch, error) {
	if itemID <= 0 {
		return nil, fmt.Errorf("ledger: item required: %w", shared.ErrValidation)
	}
	return s.repo.ListAvailable(ctx, itemID, time.Now().UTC())
}

// ListMovements lists ledger history.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, int, error) {
	return s.repo.ListMovements(ctx, filter)
}

func (s *Service) observe(ctx context.Context, m Movement, actorID int64) {
	if s.metrics != nil {
		s.metrics.MovementPosted(string(m.Kind))
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   fmt.Sprintf("ledger:%s", m.Kind),
			Entity:   "stock_batch",
			EntityID: fmt.Sprintf("%d", m.BatchID),
			Meta: map[string]any{
				"movement_id": m.ID,
				"qty":         m.Qty,
				"balance_qty": m.BalanceQty,
			},
		})
	}
}
