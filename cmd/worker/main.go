package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/dentora-hq/dentora/internal/app"
	"github.com/dentora-hq/dentora/internal/catalog"
	jobmetrics "github.com/dentora-hq/dentora/internal/jobs"
	"github.com/dentora-hq/dentora/internal/ledger"
	"github.com/dentora-hq/dentora/internal/observability"
	"github.com/dentora-hq/dentora/internal/platform/db"
	"github.com/dentora-hq/dentora/internal/shared"
	"github.com/dentora-hq/dentora/jobs"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg).With(slog.String("instance", uuid.NewString()))

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := observability.NewMetrics()
	jm := jobmetrics.NewMetrics(metrics.Registerer())
	auditLogger := shared.NewAuditLogger(pool)
	ledgerRepo := ledger.NewRepository(pool)
	catalogRepo := catalog.NewRepository(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	sweepTask, err := jobs.NewExpirySweepTask(time.Now().UTC())
	if err != nil {
		logger.Error("build expiry sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	reorderTask, err := jobs.NewReorderAlertTask(time.Now().UTC())
	if err != nil {
		logger.Error("build reorder alert task", slog.Any("error", err))
		os.Exit(1)
	}

	retention := cfg.IdempotencyRetention
	cleanup := func(ctx context.Context, t *asynq.Task) error {
		tracker := jm.Track("idempotency_cleanup")
		return tracker.End(idempotencyStore.Cleanup(ctx, retention))
	}
	cleanupTask := asynq.NewTask("shared:idempotency_cleanup", nil, asynq.Queue(jobs.QueueDefault))

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskExpirySweep, Handler: jobs.NewExpirySweepHandler(ledgerRepo, metrics, jm, logger)},
			{Type: jobs.TaskReorderAlert, Handler: jobs.NewReorderAlertHandler(catalogRepo, auditLogger, jm, logger)},
			{Type: "shared:idempotency_cleanup", Handler: cleanup},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 * * * *", Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 6 * * *", Task: reorderTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "45 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
