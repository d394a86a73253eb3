package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dentora-hq/dentora/internal/catalog"
	jobmetrics "github.com/dentora-hq/dentora/internal/jobs"
	"github.com/dentora-hq/dentora/internal/shared"
)

const (
	// TaskReorderAlert scans the catalog for items below their reorder level.
	TaskReorderAlert = "catalog:reorder_alert"
)

// ReorderAlertPayload carries scheduling metadata.
type ReorderAlertPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewReorderAlertTask constructs an Asynq task for the reorder scan.
func NewReorderAlertTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ReorderAlertPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReorderAlert, body, asynq.Queue(QueueDefault)), nil
}

// ReorderScanner lists active items whose usable stock is below the
// reorder level.
type ReorderScanner interface {
	ListBelowReorder(ctx context.Context, asOf time.Time) ([]catalog.ReorderAlert, error)
}

// NewReorderAlertHandler builds the handler that records one audit entry per
// short item. Alerts are informational; purchasing decides whether to order.
func NewReorderAlertHandler(scanner ReorderScanner, audit *shared.AuditLogger, jm *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ReorderAlertPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		tracker := jm.Track("reorder_alert")
		alerts, err := scanner.ListBelowReorder(ctx, time.Now().UTC())
		if err != nil {
			logger.Error("reorder scan failed", slog.Any("error", err))
			return tracker.End(err)
		}
		jm.SetReorderAlerts(len(alerts))
		for _, alert := range alerts {
			entry := shared.AuditLog{
				Action:   "REORDER_ALERT",
				Entity:   "item",
				EntityID: strconv.FormatInt(alert.ItemID, 10),
				Meta: map[string]any{
					"code":          alert.Code,
					"name":          alert.Name,
					"on_hand":       alert.OnHand,
					"reorder_level": alert.ReorderLevel,
				},
			}
			if err := audit.Record(ctx, entry); err != nil {
				logger.Warn("reorder alert audit failed",
					slog.Int64("item_id", alert.ItemID), slog.Any("error", err))
			}
		}
		logger.Info("reorder scan complete", slog.Int("alerts", len(alerts)))
		return tracker.End(nil)
	}
}
