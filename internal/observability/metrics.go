package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	movementsPosted *prometheus.CounterVec
	stockRejections prometheus.Counter
	deliveryLines   prometheus.Counter
	releaseLines    prometheus.Counter
	expiredBatches  prometheus.Gauge
	expiringBatches prometheus.Gauge
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dentora_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dentora_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	movements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dentora_ledger_movements_total",
		Help: "Ledger movements posted, by kind.",
	}, []string{"kind"})
	rejections := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dentora_ledger_stock_rejections_total",
		Help: "Releases rejected for insufficient stock.",
	})
	deliveryLines := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dentora_receiving_lines_total",
		Help: "Delivery lines posted.",
	})
	releaseLines := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dentora_stockout_allocations_total",
		Help: "Stock-out allocations posted.",
	})
	expired := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dentora_batches_expired",
		Help: "Batches past expiry with quantity on hand.",
	})
	expiring := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dentora_batches_expiring_soon",
		Help: "Batches expiring within the warning window.",
	})
	registry.MustRegister(requests, duration, movements, rejections, deliveryLines, releaseLines, expired, expiring)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		movementsPosted: movements,
		stockRejections: rejections,
		deliveryLines:   deliveryLines,
		releaseLines:    releaseLines,
		expiredBatches:  expired,
		expiringBatches: expiring,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// MovementPosted counts one posted ledger movement.
func (m *Metrics) MovementPosted(kind string) {
	if m == nil {
		return
	}
	m.movementsPosted.WithLabelValues(kind).Inc()
}

// StockRejected counts one insufficient-stock rejection.
func (m *Metrics) StockRejected() {
	if m == nil {
		return
	}
	m.stockRejections.Inc()
}

// DeliveryPosted counts lines of one posted delivery.
func (m *Metrics) DeliveryPosted(lines int) {
	if m == nil {
		return
	}
	m.deliveryLines.Add(float64(lines))
}

// ReleasePosted counts allocations of one posted release.
func (m *Metrics) ReleasePosted(lines int) {
	if m == nil {
		return
	}
	m.releaseLines.Add(float64(lines))
}

// SetExpiryCounts publishes the latest expiry sweep result.
func (m *Metrics) SetExpiryCounts(expired, expiringSoon int) {
	if m == nil {
		return
	}
	m.expiredBatches.Set(float64(expired))
	m.expiringBatches.Set(float64(expiringSoon))
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
