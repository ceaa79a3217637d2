package masterdata

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-mes/meridian-mes/internal/platform/httpx"
	"github.com/meridian-mes/meridian-mes/internal/shared"
)

// Handler wires the JSON endpoints of the product catalog.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers catalog routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/products", h.handleList)
	r.Get("/products/{productID}", h.handleGet)
	r.Post("/products", h.handleCreate)
	r.Put("/products/{productID}", h.handleUpdate)
	r.Delete("/products/{productID}", h.handleDeactivate)
}

type productRequest struct {
	Code         string  `json:"code" validate:"required"`
	Name         string  `json:"name" validate:"required"`
	Description  string  `json:"description"`
	Type         string  `json:"type" validate:"required"`
	Unit         string  `json:"unit" validate:"required"`
	StandardCost float64 `json:"standard_cost" validate:"gte=0"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := ListFilters{
		Search: q.Get("search"),
		Type:   q.Get("type"),
	}
	if page, err := strconv.Atoi(q.Get("page")); err == nil {
		filters.Page = page
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		filters.Limit = limit
	}
	if active := q.Get("is_active"); active != "" {
		v := active == "true"
		filters.IsActive = &v
	}

	products, total, err := h.service.List(r.Context(), filters)
	if err != nil {
		h.respondError(w, err)
		return
	}
	p := shared.NewPagination(filters.Page, filters.Limit, total)
	httpx.JSON(w, http.StatusOK, map[string]any{
		"products":   products,
		"pagination": p,
		"has_next":   p.HasNext(),
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	product, err := h.service.Get(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeProduct(w, r)
	if !ok {
		return
	}
	product, err := h.service.Create(r.Context(), req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, product)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeProduct(w, r)
	if !ok {
		return
	}
	product, err := h.service.Update(r.Context(), chi.URLParam(r, "productID"), req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Deactivate(r.Context(), chi.URLParam(r, "productID")); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) decodeProduct(w http.ResponseWriter, r *http.Request) (Product, bool) {
	var req productRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return Product{}, false
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.BadRequest(w, err.Error())
		return Product{}, false
	}
	return Product{
		Code:         req.Code,
		Name:         req.Name,
		Description:  req.Description,
		Type:         req.Type,
		Unit:         req.Unit,
		StandardCost: req.StandardCost,
	}, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrProductNotFound):
		httpx.NotFound(w, err.Error())
	case errors.Is(err, ErrDuplicateCode):
		httpx.Conflict(w, err.Error())
	case errors.Is(err, ErrInvalidProduct):
		httpx.BadRequest(w, err.Error())
	default:
		h.logger.Error("masterdata request failed", slog.Any("error", err))
		httpx.Internal(w)
	}
}
