package stockout

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

// Handler wires HTTP endpoints for stock releases.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers stock-out routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/stock-out-transaction", h.release)
	r.Get("/stock-outs", h.list)
	r.Get("/stock-outs/{stockOutID}", h.get)
	r.Get("/treatment-usage", h.treatmentUsage)
}

type releaseLineRequest struct {
	ItemID  int64   `json:"item_id"`
	Qty     float64 `json:"qty" validate:"required,gt=0"`
	BatchID int64   `json:"batch_id"`
}

type treatmentRequest struct {
	PatientID int64  `json:"patient_id" validate:"required,gt=0"`
	InvoiceID *int64 `json:"invoice_id"`
	ChargeID  *int64 `json:"charge_id"`
	ServiceID *int64 `json:"service_id"`
}

type releaseRequest struct {
	ReleasedTo string               `json:"released_to" validate:"required"`
	Purpose    string               `json:"purpose"`
	Note       string               `json:"note"`
	ReleasedBy int64                `json:"released_by" validate:"required,gt=0"`
	OccurredAt string               `json:"occurred_at"`
	Treatment  *treatmentRequest    `json:"treatment_link" validate:"omitempty"`
	Lines      []releaseLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
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

	input := ReleaseInput{
		ReleasedTo:     req.ReleasedTo,
		Purpose:        req.Purpose,
		Note:           req.Note,
		ReleasedBy:     req.ReleasedBy,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}
	if req.OccurredAt != "" {
		t, err := time.Parse(time.RFC3339, req.OccurredAt)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "occurred_at must be RFC3339")
			return
		}
		input.OccurredAt = t
	}
	if req.Treatment != nil {
		input.Treatment = &ledger.TreatmentLink{
			PatientID: req.Treatment.PatientID,
			InvoiceID: req.Treatment.InvoiceID,
			ChargeID:  req.Treatment.ChargeID,
			ServiceID: req.Treatment.ServiceID,
		}
	}
	for _, lr := range req.Lines {
		input.Lines = append(input.Lines, ReleaseLineInput{ItemID: lr.ItemID, Qty: lr.Qty, BatchID: lr.BatchID})
	}

	so, err := h.service.Release(r.Context(), input)
	if err != nil {
		if !errors.Is(err, shared.ErrValidation) && !errors.Is(err, shared.ErrInsufficientStock) &&
			!errors.Is(err, shared.ErrNotFound) && !errors.Is(err, shared.ErrIdempotencyConflict) {
			h.logger.Error("post stock-out", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newStockOutView(so))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "stockOutID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "stock-out id must be numeric")
		return
	}
	so, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newStockOutView(so))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := StockOutFilter{ReleasedTo: q.Get("released_to")}
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

	records, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list stock-outs", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	views := make([]stockOutView, 0, len(records))
	for _, so := range records {
		views = append(views, newStockOutView(so))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"stock_outs": views,
		"pagination": shared.NewPagination(filter.Page, filter.PerPage, total),
	})
}

func (h *Handler) treatmentUsage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := TreatmentFilter{}
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
	filter.PatientID = parseID("patient_id")
	filter.InvoiceID = parseID("invoice_id")
	if parseErr != "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", parseErr)
		return
	}
	filter.Page, filter.PerPage = shared.PageFromQuery(q, 50)

	records, total, err := h.service.ListTreatmentUsage(r.Context(), filter)
	if err != nil {
		if !errors.Is(err, shared.ErrValidation) {
			h.logger.Error("list treatment usage", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	views := make([]stockOutView, 0, len(records))
	for _, so := range records {
		views = append(views, newStockOutView(so))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"stock_outs": views,
		"pagination": shared.NewPagination(filter.Page, filter.PerPage, total),
	})
}

type allocationView struct {
	AllocationID int64   `json:"allocation_id"`
	ItemID       int64   `json:"item_id"`
	BatchID      int64   `json:"batch_id"`
	Qty          float64 `json:"qty"`
	MovementID   int64   `json:"movement_id"`
}

type stockOutView struct {
	StockOutID  int64                 `json:"stock_out_id"`
	ReferenceNo string                `json:"reference_no"`
	ReleasedTo  string                `json:"released_to"`
	Purpose     string                `json:"purpose,omitempty"`
	Note        string                `json:"note,omitempty"`
	ReleasedBy  int64                 `json:"released_by"`
	OccurredAt  time.Time             `json:"occurred_at"`
	CreatedAt   time.Time             `json:"created_at"`
	Treatment   *ledger.TreatmentLink `json:"treatment_link,omitempty"`
	Allocations []allocationView      `json:"allocations"`
}

func newStockOutView(so StockOut) stockOutView {
	view := stockOutView{
		StockOutID:  so.ID,
		ReferenceNo: so.ReferenceNo,
		ReleasedTo:  so.ReleasedTo,
		Purpose:     so.Purpose,
		Note:        so.Note,
		ReleasedBy:  so.ReleasedBy,
		OccurredAt:  so.OccurredAt,
		CreatedAt:   so.CreatedAt,
		Treatment:   so.Treatment,
		Allocations: make([]allocationView, 0, len(so.Allocations)),
	}
	for _, alloc := range so.Allocations {
		view.Allocations = append(view.Allocations, allocationView{
			AllocationID: alloc.ID,
			ItemID:       alloc.ItemID,
			BatchID:      alloc.BatchID,
			Qty:          alloc.Qty,
			MovementID:   alloc.MovementID,
		})
	}
	return view
}
