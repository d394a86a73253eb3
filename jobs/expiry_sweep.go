package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/dentora-hq/dentora/internal/jobs"
	"github.com/dentora-hq/dentora/internal/observability"
)

const (
	// TaskExpirySweep refreshes the expired and expiring-soon batch gauges.
	TaskExpirySweep = "ledger:expiry_sweep"
)

// ExpirySweepPayload carries scheduling metadata.
type ExpirySweepPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewExpirySweepTask constructs an Asynq task for the expiry sweep.
func NewExpirySweepTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ExpirySweepPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskExpirySweep, body, asynq.Queue(QueueDefault)), nil
}

// ExpiryCounter reports batch counts past expiry and inside the warning window.
type ExpiryCounter interface {
	CountExpiry(ctx context.Context, asOf time.Time) (expired, expiringSoon int, err error)
}

// NewExpirySweepHandler builds the handler that counts expired and
// expiring-soon batches and publishes them as gauges. The sweep is
// read-only; expired stock stays on hand until a disposal adjustment.
func NewExpirySweepHandler(ledger ExpiryCounter, metrics *observability.Metrics, jm *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ExpirySweepPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		tracker := jm.Track("expiry_sweep")
		expired, expiringSoon, err := ledger.CountExpiry(ctx, time.Now().UTC())
		if err != nil {
			logger.Error("expiry sweep failed", slog.Any("error", err))
			return tracker.End(err)
		}
		metrics.SetExpiryCounts(expired, expiringSoon)
		logger.Info("expiry sweep complete",
			slog.Int("expired", expired),
			slog.Int("expiring_soon", expiringSoon))
		return tracker.End(nil)
	}
}
