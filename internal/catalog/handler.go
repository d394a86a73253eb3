package catalog

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/dentora-hq/dentora/internal/platform/httpx"
	"github.com/dentora-hq/dentora/internal/shared"
)

// Handler wires HTTP endpoints for the item catalog.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers catalog routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/items", h.create)
	r.Get("/items", h.list)
	r.Get("/items/{itemID}", h.get)
	r.Put("/items/{itemID}", h.update)
	r.Delete("/items/{itemID}", h.remove)
	r.Post("/items/{itemID}/activate", h.activate)
	r.Get("/items/{itemID}/availability", h.availability)
}

type itemRequest struct {
	Code         string  `json:"code" validate:"required"`
	Name         string  `json:"name" validate:"required"`
	CategoryID   *int64  `json:"category_id"`
	Unit         string  `json:"unit_of_measure" validate:"required"`
	ReorderLevel float64 `json:"reorder_level" validate:"gte=0"`
	SupplierID   *int64  `json:"supplier_id"`
	ActorID      int64   `json:"actor_id" validate:"required,gt=0"`
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, req *itemRequest) bool {
	if err := httpx.DecodeJSON(r, req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
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
		return false
	}
	return true
}

func (h *Handler) itemID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "item id must be numeric")
		return 0, false
	}
	return id, true
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if !h.decode(w, r, &req) {
		return
	}
	item, err := h.service.Create(r.Context(), CreateInput{
		Code:         req.Code,
		Name:         req.Name,
		CategoryID:   req.CategoryID,
		Unit:         req.Unit,
		ReorderLevel: req.ReorderLevel,
		SupplierID:   req.SupplierID,
		ActorID:      req.ActorID,
	})
	if err != nil {
		if !errors.Is(err, shared.ErrValidation) && !errors.Is(err, shared.ErrConflict) {
			h.logger.Error("create item", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newItemView(item))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.itemID(w, r)
	if !ok {
		return
	}
	var req itemRequest
	if !h.decode(w, r, &req) {
		return
	}
	item, err := h.service.Update(r.Context(), id, UpdateInput{
		Name:         req.Name,
		CategoryID:   req.CategoryID,
		Unit:         req.Unit,
		ReorderLevel: req.ReorderLevel,
		SupplierID:   req.SupplierID,
		ActorID:      req.ActorID,
	})
	if err != nil {
		if !errors.Is(err, shared.ErrValidation) && !errors.Is(err, shared.ErrNotFound) {
			h.logger.Error("update item", slog.Int64("item_id", id), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newItemView(item))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.itemID(w, r)
	if !ok {
		return
	}
	item, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newItemView(item))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ItemFilter{Search: q.Get("search")}
	if catStr := q.Get("category_id"); catStr != "" {
		id, err := strconv.ParseInt(catStr, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "category_id must be numeric")
			return
		}
		filter.CategoryID = id
	}
	if activeStr := q.Get("active"); activeStr != "" {
		active, err := strconv.ParseBool(activeStr)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "active must be boolean")
			return
		}
		filter.Active = &active
	}
	filter.Page, filter.PerPage = shared.PageFromQuery(q, 50)

	items, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list items", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	views := make([]itemView, 0, len(items))
	for _, item := range items {
		views = append(views, newItemView(item))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"items":      views,
		"pagination": shared.NewPagination(filter.Page, filter.PerPage, total),
	})
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	id, ok := h.itemID(w, r)
	if !ok {
		return
	}
	actorID, _ := strconv.ParseInt(r.URL.Query().Get("actor_id"), 10, 64)
	if err := h.service.Remove(r.Context(), id, actorID); err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			h.logger.Error("remove item", slog.Int64("item_id", id), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) activate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.itemID(w, r)
	if !ok {
		return
	}
	actorID, _ := strconv.ParseInt(r.URL.Query().Get("actor_id"), 10, 64)
	if err := h.service.Activate(r.Context(), id, actorID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) availability(w http.ResponseWriter, r *http.Request) {
	id, ok := h.itemID(w, r)
	if !ok {
		return
	}
	avail, err := h.service.Availability(r.Context(), id)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			h.logger.Error("item availability", slog.Int64("item_id", id), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, avail)
}

type itemView struct {
	ItemID       int64     `json:"item_id"`
	Code         string    `json:"code"`
	Name         string    `json:"name"`
	CategoryID   *int64    `json:"category_id,omitempty"`
	Unit         string    `json:"unit_of_measure"`
	ReorderLevel float64   `json:"reorder_level"`
	SupplierID   *int64    `json:"supplier_id,omitempty"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func newItemView(item Item) itemView {
	return itemView{
		ItemID:       item.ID,
		Code:         item.Code,
		Name:         item.Name,
		CategoryID:   item.CategoryID,
		Unit:         item.Unit,
		ReorderLevel: item.ReorderLevel,
		SupplierID:   item.SupplierID,
		IsActive:     item.IsActive,
		CreatedAt:    item.CreatedAt,
		UpdatedAt:    item.UpdatedAt,
	}
}
