package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/dentora-hq/dentora/internal/adjustments"
	"github.com/dentora-hq/dentora/internal/app"
	"github.com/dentora-hq/dentora/internal/catalog"
	"github.com/dentora-hq/dentora/internal/ledger"
	"github.com/dentora-hq/dentora/internal/observability"
	"github.com/dentora-hq/dentora/internal/platform/cache"
	"github.com/dentora-hq/dentora/internal/platform/db"
	"github.com/dentora-hq/dentora/internal/purchasing"
	"github.com/dentora-hq/dentora/internal/receiving"
	"github.com/dentora-hq/dentora/internal/shared"
	"github.com/dentora-hq/dentora/internal/stockout"
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

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, batch list cache disabled", slog.Any("error", err))
	}
	defer func() {
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}
	}()
	batchListCache := cache.NewTTLCache(redisClient, "batches", cfg.BatchListTTL)

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	sequences := shared.NewSequenceStore(pool)
	metrics := observability.NewMetrics()

	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(ledgerRepo, auditLogger, metrics)
	ledgerHandler := ledger.NewHandler(logger, ledgerService, batchListCache)

	catalogRepo := catalog.NewRepository(pool)
	catalogService := catalog.NewService(catalogRepo, ledgerRepo, auditLogger)
	catalogHandler := catalog.NewHandler(logger, catalogService)

	purchasingRepo := purchasing.NewRepository(pool)
	purchasingService := purchasing.NewService(purchasingRepo, sequences, auditLogger)
	purchasingHandler := purchasing.NewHandler(logger, purchasingService)

	receivingRepo := receiving.NewRepository(pool)
	receivingService := receiving.NewService(receivingRepo, idempotencyStore, auditLogger, metrics)
	receivingHandler := receiving.NewHandler(logger, receivingService)

	stockOutRepo := stockout.NewRepository(pool)
	stockOutService := stockout.NewService(stockOutRepo, idempotencyStore, auditLogger, metrics)
	stockOutHandler := stockout.NewHandler(logger, stockOutService)

	adjustmentsService := adjustments.NewService(ledgerRepo, auditLogger, metrics)
	adjustmentsHandler := adjustments.NewHandler(logger, adjustmentsService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		CatalogHandler:     catalogHandler,
		LedgerHandler:      ledgerHandler,
		PurchasingHandler:  purchasingHandler,
		ReceivingHandler:   receivingHandler,
		StockOutHandler:    stockOutHandler,
		AdjustmentsHandler: adjustmentsHandler,
		JobsHandler:        jobsHandler,
		Pool:               pool,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("http server", slog.Any("error", err))
		os.Exit(1)
	}
}
