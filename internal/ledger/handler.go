package ledger

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dentora-hq/dentora/internal/platform/cache"
	"github.com/dentora-hq/dentora/internal/platform/httpx"
	"github.com/dentora-hq/dentora/internal/shared"
)

// Handler wires HTTP endpoints for batch and movement queries.
type Handler struct {
	logger  *slog.Logger
	service *Service
	cache   *cache.TTLCache
}

// NewHandler constructs ledger handler. Cache may be nil.
func NewHandler(logger *slog.Logger, service *Service, listCache *cache.TTLCache) *Handler {
	return &Handler{logger: logger, service: service, cache: listCache}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/batches", h.listBatches)
	r.Get("/batches/{batchID}", h.getBatch)
	r.Get("/movements", h.listMovements)
}

type batchView struct {
	BatchID      int64       `json:"batch_id"`
	ItemID       int64       `json:"item_id"`
	BatchNo      string      `json:"batch_no"`
	ExpiryDate   *string     `json:"expiry_date"`
	QtyAvailable float64     `json:"qty_available"`
	Status       BatchStatus `json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
}

func newBatchView(b StockBatch, asOf time.Time) batchView {
	view := batchView{
		BatchID:      b.ID,
		ItemID:       b.ItemID,
		BatchNo:      b.BatchNo,
		QtyAvailable: b.QtyAvailable,
		Status:       b.Status(asOf),
		CreatedAt:    b.CreatedAt,
	}
	if b.ExpiryDate != nil {
		formatted := b.ExpiryDate.Format("2006-01-02")
		view.ExpiryDate = &formatted
	}
	return view
}

func (h *Handler) listBatches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if h.cache != nil {
		if cached, err := h.cache.Get(r.Context(), q.Encode()); err == nil {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(cached)
			return
		}
	}

	filter := BatchFilter{ExpiryFilter: BatchStatus(q.Get("expiry_filter"))}
	if itemStr := q.Get("item_id"); itemStr != "" {
		id, err := strconv.ParseInt(itemStr, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "item_id must be numeric")
			return
		}
		filter.ItemID = id
	}
	filter.Page, filter.PerPage = shared.PageFromQuery(q, 50)

	batches, total, err := h.service.ListBatches(r.Context(), filter)
	if err != nil {
		h.logger.Error("list batches", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	now := time.Now().UTC()
	views := make([]batchView, 0, len(batches))
	for _, b := range batches {
		views = append(views, newBatchView(b, now))
	}
	payload := map[string]any{
		"batches":    views,
		"pagination": shared.NewPagination(filter.Page, filter.PerPage, total),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if h.cache != nil {
		if err := h.cache.Set(r.Context(), q.Encode(), body); err != nil {
			h.logger.Warn("cache batches", slog.Any("error", err))
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (h *Handler) getBatch(w http.ResponseWriter, r *http.Request) {
	batchID, err := strconv.ParseInt(chi.URLParam(r, "batchID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "batch id must be numeric")
		return
	}
	batch, err := h.service.GetBatch(r.Context(), batchID)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			h.logger.Error("get batch", slog.Int64("batch_id", batchID), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newBatchView(batch, time.Now().UTC()))
}

type movementView struct {
	MovementID     int64           `json:"movement_id"`
	BatchID        int64           `json:"batch_id"`
	Kind           MovementKind    `json:"kind"`
	Qty            float64         `json:"qty"`
	BalanceQty     float64         `json:"balance_qty"`
	UnitCost       *string         `json:"unit_cost,omitempty"`
	POID           *int64          `json:"po_id,omitempty"`
	StockInNo      *string         `json:"stock_in_no,omitempty"`
	ReleasedTo     *string         `json:"released_to,omitempty"`
	Purpose        *string         `json:"purpose,omitempty"`
	ReferenceNo    *string         `json:"reference_no,omitempty"`
	OldQty         *float64        `json:"old_qty,omitempty"`
	NewQty         *float64        `json:"new_qty,omitempty"`
	Reason         *string         `json:"reason,omitempty"`
	AdjustmentType *AdjustmentType `json:"adjustment_type,omitempty"`
	Treatment      *TreatmentLink  `json:"treatment_link,omitempty"`
	CreatedBy      int64           `json:"created_by"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

func newMovementView(m Movement) movementView {
	view := movementView{
		MovementID:     m.ID,
		BatchID:        m.BatchID,
		Kind:           m.Kind,
		Qty:            m.Qty,
		BalanceQty:     m.BalanceQty,
		POID:           m.POID,
		StockInNo:      m.StockInNo,
		ReleasedTo:     m.ReleasedTo,
		Purpose:        m.Purpose,
		ReferenceNo:    m.ReferenceNo,
		OldQty:         m.OldQty,
		NewQty:         m.NewQty,
		Reason:         m.Reason,
		AdjustmentType: m.AdjustmentType,
		Treatment:      m.Treatment,
		CreatedBy:      m.CreatedBy,
		OccurredAt:     m.OccurredAt,
	}
	if m.UnitCost != nil {
		cost := m.UnitCost.StringFixed(2)
		view.UnitCost = &cost
	}
	return view
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := MovementFilter{Kind: MovementKind(q.Get("kind"))}
	var parseErr string
	parseID := func(name string) int64 {
		value := q.Get(name)
		if value == "" {
			return 0
		}
		id, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			parseErr = name + " must be numeric"
			return 0
		}
		return id
	}
	filter.BatchID = parseID("batch_id")
	filter.ItemID = parseID("item_id")
	filter.ActorID = parseID("actor_id")
	if parseErr != "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", parseErr)
		return
	}
	if from := q.Get("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "from must be YYYY-MM-DD")
			return
		}
		filter.From = t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "to must be YYYY-MM-DD")
			return
		}
		filter.To = t.Add(24*time.Hour - time.Nanosecond)
	}
	filter.Page, filter.PerPage = shared.PageFromQuery(q, 50)

	movements, total, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		h.logger.Error("list movements", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	views := make([]movementView, 0, len(movements))
	for _, m := range movements {
		views = append(views, newMovementView(m))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"movements":  views,
		"pagination": shared.NewPagination(filter.Page, filter.PerPage, total),
	})
}
