package adjustments

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/dentora-hq/dentora/internal/ledger"
	"github.com/dentora-hq/dentora/internal/platform/httpx"
	"github.com/dentora-hq/dentora/internal/shared"
)

// Handler wires HTTP endpoints for stock adjustments.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers adjustment routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/stock-adjustments", h.adjust)
	r.Get("/stock-adjustments", h.history)
}

type adjustRequest struct {
	BatchID    int64   `json:"batch_id" validate:"required,gt=0"`
	NewQty     float64 `json:"new_qty" validate:"gte=0"`
	Reason     string  `json:"reason" validate:"required"`
	Type       string  `json:"type" validate:"required,oneof=CORRECTION DISPOSAL RETURN"`
	AdjustedBy int64   `json:"adjusted_by" validate:"required,gt=0"`
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		fields := make(map[string]string)
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fieldErr := range verrs {
				fields[fieldErr.Field()] = "failed " + fieldErr.Tag() + " validation"
			}
		}
		httpx.ProblemWith(w, http.StatusBadRequest, "Validation Failed", "request body is invalid", fields)
		return
	}

	m, err := h.service.Adjust(r.Context(), Input{
		BatchID:    req.BatchID,
		NewQty:     req.NewQty,
		Reason:     req.Reason,
		Type:       ledger.AdjustmentType(req.Type),
		AdjustedBy: req.AdjustedBy,
	})
	if err != nil {
		if !errors.Is(err, shared.ErrValidation) && !errors.Is(err, shared.ErrInvalidState) &&
			!errors.Is(err, shared.ErrNotFound) {
			h.logger.Error("post adjustment", slog.Int64("batch_id", req.BatchID), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newAdjustmentView(m))
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := HistoryFilter{}
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
	filter.AdjustedBy = parseID("adjusted_by")
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

	movements, total, err := h.service.History(r.Context(), filter)
	if err != nil {
		h.logger.Error("list adjustments", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	views := make([]adjustmentView, 0, len(movements))
	for _, m := range movements {
		views = append(views, newAdjustmentView(m))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"adjustments": views,
		"pagination":  shared.NewPagination(filter.Page, filter.PerPage, total),
	})
}

type adjustmentView struct {
	MovementID int64     `json:"movement_id"`
	BatchID    int64     `json:"batch_id"`
	OldQty     float64   `json:"old_qty"`
	NewQty     float64   `json:"new_qty"`
	Delta      float64   `json:"delta"`
	Reason     string    `json:"reason"`
	Type       string    `json:"type"`
	AdjustedBy int64     `json:"adjusted_by"`
	OccurredAt time.Time `json:"occurred_at"`
}

func newAdjustmentView(m ledger.Movement) adjustmentView {
	view := adjustmentView{
		MovementID: m.ID,
		BatchID:    m.BatchID,
		Delta:      m.Qty,
		AdjustedBy: m.CreatedBy,
		OccurredAt: m.OccurredAt,
	}
	if m.OldQty != nil {
		view.OldQty = *m.OldQty
	}
	if m.NewQty != nil {
		view.NewQty = *m.NewQty
	}
	if m.Reason != nil {
		view.Reason = *m.Reason
	}
	if m.AdjustmentType != nil {
		view.Type = string(*m.AdjustmentType)
	}
	return view
}
