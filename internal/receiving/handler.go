package receiving

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/dentora-hq/dentora/internal/platform/httpx"
	"github.com/dentora-hq/dentora/internal/shared"
)

// Handler wires HTTP endpoints for delivery receiving.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers receiving routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/receive-delivery", h.postDelivery)
	r.Get("/stock-ins", h.list)
	r.Get("/stock-ins/{stockInID}", h.get)
}

type deliveryLineRequest struct {
	ItemID     int64   `json:"item_id" validate:"required,gt=0"`
	BatchNo    string  `json:"batch_no" validate:"required"`
	ExpiryDate string  `json:"expiry_date"`
	Qty        float64 `json:"qty" validate:"required,gt=0"`
	UnitCost   string  `json:"unit_cost" validate:"required"`
}

type deliveryRequest struct {
	POID         int64                 `json:"po_id" validate:"omitempty,gt=0"`
	SupplierID   int64                 `json:"supplier_id" validate:"omitempty,gt=0"`
	DeliveryDate string                `json:"delivery_date"`
	Note         string                `json:"note"`
	ReceivedBy   int64                 `json:"received_by" validate:"required,gt=0"`
	Lines        []deliveryLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) postDelivery(w http.ResponseWriter, r *http.Request) {
	var req deliveryRequest
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

	input := PostDeliveryInput{
		POID:           req.POID,
		SupplierID:     req.SupplierID,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		Note:           req.Note,
		ReceivedBy:     req.ReceivedBy,
	}
	if req.DeliveryDate != "" {
		t, err := time.Parse("2006-01-02", req.DeliveryDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "delivery_date must be YYYY-MM-DD")
			return
		}
		input.DeliveryDate = t
	}
	lineErrs := &shared.LineErrors{}
	for i, lr := range req.Lines {
		line := DeliveryLineInput{ItemID: lr.ItemID, BatchNo: lr.BatchNo, Qty: lr.Qty}
		cost, err := decimal.NewFromString(lr.UnitCost)
		if err != nil {
			lineErrs.Add(i, "unit_cost must be a decimal string")
		}
		line.UnitCost = cost
		if lr.ExpiryDate != "" {
			expiry, err := time.Parse("2006-01-02", lr.ExpiryDate)
			if err != nil {
				lineErrs.Add(i, "expiry_date must be YYYY-MM-DD")
			} else {
				line.ExpiryDate = &expiry
			}
		}
		input.Lines = append(input.Lines, line)
	}
	if !lineErrs.Empty() {
		httpx.RespondError(w, lineErrs)
		return
	}

	si, err := h.service.PostDelivery(r.Context(), input)
	if err != nil {
		if !errors.Is(err, shared.ErrValidation) && !errors.Is(err, shared.ErrInvalidState) &&
			!errors.Is(err, shared.ErrNotFound) && !errors.Is(err, shared.ErrConflict) &&
			!errors.Is(err, shared.ErrIdempotencyConflict) {
			h.logger.Error("post delivery", slog.Int64("po_id", req.POID), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newStockInView(si))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "stockInID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "stock-in id must be numeric")
		return
	}
	si, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newStockInView(si))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := StockInFilter{}
	if poStr := q.Get("po_id"); poStr != "" {
		id, err := strconv.ParseInt(poStr, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "po_id must be numeric")
			return
		}
		filter.POID = id
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

	records, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list stock-ins", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	views := make([]stockInView, 0, len(records))
	for _, si := range records {
		views = append(views, newStockInView(si))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"stock_ins":  views,
		"pagination": shared.NewPagination(filter.Page, filter.PerPage, total),
	})
}

type stockInLineView struct {
	LineID     int64   `json:"line_id"`
	ItemID     int64   `json:"item_id"`
	BatchID    int64   `json:"batch_id"`
	BatchNo    string  `json:"batch_no"`
	Qty        float64 `json:"qty"`
	UnitCost   string  `json:"unit_cost"`
	MovementID int64   `json:"movement_id"`
}

type stockInView struct {
	StockInID    int64             `json:"stock_in_id"`
	Number       string            `json:"number"`
	POID         int64             `json:"po_id,omitempty"`
	SupplierID   int64             `json:"supplier_id"`
	DeliveryDate string            `json:"delivery_date"`
	Note         string            `json:"note,omitempty"`
	ReceivedBy   int64             `json:"received_by"`
	CreatedAt    time.Time         `json:"created_at"`
	TotalItems   int               `json:"total_items"`
	TotalAmount  string            `json:"total_amount"`
	Lines        []stockInLineView `json:"lines"`
}

func newStockInView(si StockIn) stockInView {
	view := stockInView{
		StockInID:    si.ID,
		Number:       si.Number,
		POID:         si.POID,
		SupplierID:   si.SupplierID,
		DeliveryDate: si.DeliveryDate.Format("2006-01-02"),
		Note:         si.Note,
		ReceivedBy:   si.ReceivedBy,
		CreatedAt:    si.CreatedAt,
		TotalItems:   len(si.Lines),
		TotalAmount:  si.TotalAmount().StringFixed(2),
		Lines:        make([]stockInLineView, 0, len(si.Lines)),
	}
	for _, line := range si.Lines {
		view.Lines = append(view.Lines, stockInLineView{
			LineID:     line.ID,
			ItemID:     line.ItemID,
			BatchID:    line.BatchID,
			BatchNo:    line.BatchNo,
			Qty:        line.Qty,
			UnitCost:   line.UnitCost.StringFixed(2),
			MovementID: line.MovementID,
		})
	}
	return view
}
