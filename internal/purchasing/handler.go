package purchasing

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

// Handler wires HTTP endpoints for the purchase order workflow.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers purchasing routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/purchase-orders", h.create)
	r.Get("/purchase-orders", h.list)
	r.Get("/purchase-orders/{poID}", h.get)
	r.Post("/purchase-orders/{poID}/approve", h.approve)
	r.Post("/purchase-orders/{poID}/cancel", h.cancel)
	r.Put("/purchase-orders/{poID}/lines", h.updateLines)
}

type lineRequest struct {
	ItemID     int64   `json:"item_id" validate:"required,gt=0"`
	QtyOrdered float64 `json:"qty_ordered" validate:"required,gt=0"`
	UnitCost   string  `json:"unit_cost" validate:"required"`
	Remarks    string  `json:"remarks"`
}

type createRequest struct {
	SupplierID   int64         `json:"supplier_id" validate:"required,gt=0"`
	OrderDate    string        `json:"order_date"`
	ExpectedDate string        `json:"expected_date"`
	Note         string        `json:"note"`
	CreatedBy    int64         `json:"created_by" validate:"required,gt=0"`
	Lines        []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

type updateLinesRequest struct {
	ActorID int64         `json:"actor_id" validate:"required,gt=0"`
	Lines   []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

type actorRequest struct {
	ActorID int64 `json:"actor_id" validate:"required,gt=0"`
}

func (h *Handler) fieldErrors(err error) map[string]string {
	fields := make(map[string]string)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fieldErr := range verrs {
			fields[fieldErr.Field()] = "failed " + fieldErr.Tag() + " validation"
		}
	}
	return fields
}

func buildLineInputs(reqs []lineRequest) ([]LineInput, error) {
	lineErrs := &shared.LineErrors{}
	lines := make([]LineInput, 0, len(reqs))
	for i, lr := range reqs {
		cost, err := decimal.NewFromString(lr.UnitCost)
		if err != nil {
			lineErrs.Add(i, "unit_cost must be a decimal string")
			cost = decimal.Zero
		}
		lines = append(lines, LineInput{
			ItemID:     lr.ItemID,
			QtyOrdered: lr.QtyOrdered,
			UnitCost:   cost,
			Remarks:    lr.Remarks,
		})
	}
	if !lineErrs.Empty() {
		return nil, lineErrs
	}
	return lines, nil
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ProblemWith(w, http.StatusBadRequest, "Validation Failed", "request body is invalid", h.fieldErrors(err))
		return
	}
	input := CreateInput{
		SupplierID: req.SupplierID,
		Note:       req.Note,
		CreatedBy:  req.CreatedBy,
	}
	if req.OrderDate != "" {
		t, err := time.Parse("2006-01-02", req.OrderDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "order_date must be YYYY-MM-DD")
			return
		}
		input.OrderDate = t
	}
	if req.ExpectedDate != "" {
		t, err := time.Parse("2006-01-02", req.ExpectedDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "expected_date must be YYYY-MM-DD")
			return
		}
		input.ExpectedDate = &t
	}
	lines, err := buildLineInputs(req.Lines)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	input.Lines = lines

	po, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.logger.Error("create purchase order", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newPOView(po))
}

func (h *Handler) poID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "poID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "purchase order id must be numeric")
		return 0, false
	}
	return id, true
}

func (h *Handler) decodeActor(w http.ResponseWriter, r *http.Request) (int64, bool) {
	var req actorRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return 0, false
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ProblemWith(w, http.StatusBadRequest, "Validation Failed", "request body is invalid", h.fieldErrors(err))
		return 0, false
	}
	return req.ActorID, true
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	id, ok := h.poID(w, r)
	if !ok {
		return
	}
	actorID, ok := h.decodeActor(w, r)
	if !ok {
		return
	}
	po, err := h.service.Approve(r.Context(), id, actorID)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) && !errors.Is(err, shared.ErrInvalidState) {
			h.logger.Error("approve purchase order", slog.Int64("po_id", id), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newPOView(po))
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.poID(w, r)
	if !ok {
		return
	}
	actorID, ok := h.decodeActor(w, r)
	if !ok {
		return
	}
	po, err := h.service.Cancel(r.Context(), id, actorID)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) && !errors.Is(err, shared.ErrInvalidState) && !errors.Is(err, shared.ErrConflict) {
			h.logger.Error("cancel purchase order", slog.Int64("po_id", id), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newPOView(po))
}

func (h *Handler) updateLines(w http.ResponseWriter, r *http.Request) {
	id, ok := h.poID(w, r)
	if !ok {
		return
	}
	var req updateLinesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ProblemWith(w, http.StatusBadRequest, "Validation Failed", "request body is invalid", h.fieldErrors(err))
		return
	}
	lines, err := buildLineInputs(req.Lines)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.UpdateLines(r.Context(), id, req.ActorID, lines)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) && !errors.Is(err, shared.ErrInvalidState) && !errors.Is(err, shared.ErrValidation) {
			h.logger.Error("update purchase order lines", slog.Int64("po_id", id), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newPOView(po))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.poID(w, r)
	if !ok {
		return
	}
	po, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newPOView(po))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := POFilter{Status: POStatus(q.Get("status"))}
	if supplier := q.Get("supplier_id"); supplier != "" {
		id, err := strconv.ParseInt(supplier, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "supplier_id must be numeric")
			return
		}
		filter.SupplierID = id
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

	orders, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list purchase orders", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	views := make([]poView, 0, len(orders))
	for _, po := range orders {
		views = append(views, newPOView(po))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"purchase_orders": views,
		"pagination":      shared.NewPagination(filter.Page, filter.PerPage, total),
	})
}

type lineView struct {
	LineID      int64   `json:"line_id"`
	ItemID      int64   `json:"item_id"`
	QtyOrdered  float64 `json:"qty_ordered"`
	UnitCost    string  `json:"unit_cost"`
	QtyReceived float64 `json:"qty_received"`
	Remarks     string  `json:"remarks,omitempty"`
}

type poView struct {
	POID         int64      `json:"po_id"`
	Number       string     `json:"number"`
	SupplierID   int64      `json:"supplier_id"`
	OrderDate    string     `json:"order_date"`
	ExpectedDate *string    `json:"expected_date,omitempty"`
	Status       POStatus   `json:"status"`
	Note         string     `json:"note,omitempty"`
	Total        string     `json:"total"`
	OverReceived bool       `json:"over_received"`
	CreatedBy    int64      `json:"created_by"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Lines        []lineView `json:"lines"`
}

func newPOView(po PurchaseOrder) poView {
	view := poView{
		POID:         po.ID,
		Number:       po.Number,
		SupplierID:   po.SupplierID,
		OrderDate:    po.OrderDate.Format("2006-01-02"),
		Status:       po.Status,
		Note:         po.Note,
		Total:        po.Total().StringFixed(2),
		OverReceived: po.OverReceived(),
		CreatedBy:    po.CreatedBy,
		CreatedAt:    po.CreatedAt,
		UpdatedAt:    po.UpdatedAt,
		Lines:        make([]lineView, 0, len(po.Lines)),
	}
	if po.ExpectedDate != nil {
		formatted := po.ExpectedDate.Format("2006-01-02")
		view.ExpectedDate = &formatted
	}
	for _, line := range po.Lines {
		view.Lines = append(view.Lines, lineView{
			LineID:      line.ID,
			ItemID:      line.ItemID,
			QtyOrdered:  line.QtyOrdered,
			UnitCost:    line.UnitCost.StringFixed(2),
			QtyReceived: line.QtyReceived,
			Remarks:     line.Remarks,
		})
	}
	return view
}
