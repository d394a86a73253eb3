package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dentora-hq/dentora/internal/adjustments"
	"github.com/dentora-hq/dentora/internal/catalog"
	"github.com/dentora-hq/dentora/internal/ledger"
	"github.com/dentora-hq/dentora/internal/observability"
	"github.com/dentora-hq/dentora/internal/purchasing"
	"github.com/dentora-hq/dentora/internal/receiving"
	"github.com/dentora-hq/dentora/internal/stockout"
	"github.com/dentora-hq/dentora/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	CatalogHandler     *catalog.Handler
	LedgerHandler      *ledger.Handler
	PurchasingHandler  *purchasing.Handler
	ReceivingHandler   *receiving.Handler
	StockOutHandler    *stockout.Handler
	AdjustmentsHandler *adjustments.Handler
	JobsHandler        *jobs.Handler
	Pool               *pgxpool.Pool
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with Dentora defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(api chi.Router) {
		params.CatalogHandler.MountRoutes(api)
		params.LedgerHandler.MountRoutes(api)
		params.PurchasingHandler.MountRoutes(api)
		params.ReceivingHandler.MountRoutes(api)
		params.StockOutHandler.MountRoutes(api)
		params.AdjustmentsHandler.MountRoutes(api)
	})

	if params.JobsHandler != nil {
		r.Route("/jobs", params.JobsHandler.MountRoutes)
	}

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
