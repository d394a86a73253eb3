package adjustments

import (
	"context"
	"fmt"
	"time"

	"github.com/dentora-hq/dentora/internal/ledger"
	"github.com/dentora-hq/dentora/internal/shared"
)

// LedgerPort is the slice of the ledger repository adjustments need: a
// transaction to post through and the movement history to query.
type LedgerPort interface {
	WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error
	ListMovements(ctx context.Context, filter ledger.MovementFilter) ([]ledger.Movement, int, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort receives adjustment counters.
type MetricsPort interface {
	MovementPosted(kind string)
}

// Input describes one manual correction.
type Input struct {
	BatchID    int64
	NewQty     float64
	Reason     string
	Type       ledger.AdjustmentType
	AdjustedBy int64
}

// HistoryFilter narrows adjustment history queries.
type HistoryFilter struct {
	BatchID    int64
	ItemID     int64
	AdjustedBy int64
	From       time.Time
	To         time.Time
	Page       int
	PerPage    int
}

// Service posts manual corrections and serves their immutable history. The
// movement row written by the ledger is the audit record; history is a
// filtered read of it, never an edit.
type Service struct {
	ledger  LedgerPort
	audit   AuditPort
	metrics MetricsPort
}

// NewService builds Service. Audit and metrics may be nil.
func NewService(ledgerRepo LedgerPort, audit AuditPort, metrics MetricsPort) *Service {
	return &Service{ledger: ledgerRepo, audit: audit, metrics: metrics}
}

// Adjust corrects one batch to an absolute quantity. The old quantity is
// read under the row lock, so concurrent adjustments serialize. Adjusting
// an expired batch is allowed (that is how expired stock gets disposed),
// but a non-disposal correction on an expired batch is flagged in the
// audit trail for review.
func (s *Service) Adjust(ctx context.Context, input Input) (ledger.Movement, error) {
	var m ledger.Movement
	var expiredBatch bool
	err := s.ledger.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
		batch, err := tx.GetBatchForUpdate(ctx, input.BatchID)
		if err != nil {
			return err
		}
		expiredBatch = batch.Expired(time.Now().UTC())
		m, err = ledger.AdjustTo(ctx, tx, ledger.AdjustInput{
			BatchID:    input.BatchID,
			NewQty:     input.NewQty,
			Reason:     input.Reason,
			Type:       input.Type,
			AdjustedBy: input.AdjustedBy,
		})
		return err
	})
	if err != nil {
		return ledger.Movement{}, err
	}

	if s.metrics != nil {
		s.metrics.MovementPosted(string(m.Kind))
	}
	if s.audit != nil {
		meta := map[string]any{
			"movement_id": m.ID,
			"old_qty":     *m.OldQty,
			"new_qty":     *m.NewQty,
			"reason":      input.Reason,
			"type":        string(input.Type),
		}
		if expiredBatch {
			meta["expired_batch"] = true
			if input.Type != ledger.AdjustmentDisposal {
				meta["review"] = "non-disposal adjustment on expired batch"
			}
		}
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.AdjustedBy,
			Action:   "STOCK_ADJUST",
			Entity:   "stock_batch",
			EntityID: fmt.Sprintf("%d", input.BatchID),
			Meta:     meta,
		})
	}
	return m, nil
}

// History returns adjustment movements matching the filter.
func (s *Service) History(ctx context.Context, filter HistoryFilter) ([]ledger.Movement, int, error) {
	return s.ledger.ListMovements(ctx, ledger.MovementFilter{
		BatchID: filter.BatchID,
		ItemID:  filter.ItemID,
		Kind:    ledger.KindAdjustment,
		ActorID: filter.AdjustedBy,
		From:    filter.From,
		To:      filter.To,
		Page:    filter.Page,
		PerPage: filter.PerPage,
	})
}
