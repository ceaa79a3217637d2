package bom

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-mes/meridian-mes/internal/platform/httpx"
	"github.com/meridian-mes/meridian-mes/internal/shared"
)

// Handler wires the JSON endpoints of the BOM engine.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers BOM routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/products/{productID}/boms", h.handleListVersions)
	r.Get("/boms/{bomID}/tree", h.handleGetTree)
	r.Post("/boms/{bomID}/items", h.handleAddItem)
	r.Patch("/boms/items/{itemID}", h.handleUpdateItem)
	r.Delete("/boms/items/{itemID}", h.handleDeleteItem)
	r.Post("/boms/{bomID}/copy", h.handleCopy)
	r.Post("/boms/compare", h.handleCompare)
}

type addItemRequest struct {
	ParentItemID  string     `json:"parent_item_id"`
	ComponentID   string     `json:"component_id" validate:"required"`
	Quantity      float64    `json:"quantity" validate:"required,gt=0"`
	Unit          string     `json:"unit" validate:"required"`
	UnitCost      float64    `json:"unit_cost" validate:"gte=0"`
	ScrapRate     float64    `json:"scrap_rate" validate:"gte=0,lte=100"`
	IsOptional    bool       `json:"is_optional"`
	ComponentType string     `json:"component_type" validate:"required"`
	EffectiveDate *time.Time `json:"effective_date"`
	ExpiryDate    *time.Time `json:"expiry_date"`
	Position      string     `json:"position"`
	ProcessStep   string     `json:"process_step"`
	Remarks       string     `json:"remarks"`
	Reason        string     `json:"reason"`
}

func (h *Handler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	input := AddItemInput{
		BOMID:         chi.URLParam(r, "bomID"),
		ParentItemID:  req.ParentItemID,
		ComponentID:   req.ComponentID,
		Quantity:      req.Quantity,
		Unit:          req.Unit,
		UnitCost:      req.UnitCost,
		ScrapRate:     req.ScrapRate,
		IsOptional:    req.IsOptional,
		ComponentType: ComponentType(req.ComponentType),
		ExpiryDate:    req.ExpiryDate,
		Position:      req.Position,
		ProcessStep:   req.ProcessStep,
		Remarks:       req.Remarks,
		ActorID:       shared.ActorFromContext(r.Context()),
		Reason:        req.Reason,
	}
	if req.EffectiveDate != nil {
		input.EffectiveDate = *req.EffectiveDate
	}
	result, err := h.service.AddItem(r.Context(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

type updateItemRequest struct {
	Quantity      *float64   `json:"quantity"`
	Unit          *string    `json:"unit"`
	UnitCost      *float64   `json:"unit_cost"`
	ScrapRate     *float64   `json:"scrap_rate"`
	IsOptional    *bool      `json:"is_optional"`
	Position      *string    `json:"position"`
	ProcessStep   *string    `json:"process_step"`
	Remarks       *string    `json:"remarks"`
	EffectiveDate *time.Time `json:"effective_date"`
	ExpiryDate    *time.Time `json:"expiry_date"`
	Force         bool       `json:"force"`
	Reason        string     `json:"reason"`
}

func (h *Handler) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	var req updateItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	result, err := h.service.UpdateItem(r.Context(), UpdateItemInput{
		ItemID:        chi.URLParam(r, "itemID"),
		Quantity:      req.Quantity,
		Unit:          req.Unit,
		UnitCost:      req.UnitCost,
		ScrapRate:     req.ScrapRate,
		IsOptional:    req.IsOptional,
		Position:      req.Position,
		ProcessStep:   req.ProcessStep,
		Remarks:       req.Remarks,
		EffectiveDate: req.EffectiveDate,
		ExpiryDate:    req.ExpiryDate,
		Force:         req.Force,
		ActorID:       shared.ActorFromContext(r.Context()),
		Reason:        req.Reason,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	status := http.StatusOK
	if result.Blocked {
		status = http.StatusConflict
	}
	httpx.JSON(w, status, result)
}

func (h *Handler) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := h.service.DeleteItem(r.Context(), DeleteItemInput{
		ItemID:         chi.URLParam(r, "itemID"),
		DeleteChildren: q.Get("delete_children") == "true",
		Force:          q.Get("force") == "true",
		ActorID:        shared.ActorFromContext(r.Context()),
		Reason:         q.Get("reason"),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	status := http.StatusOK
	if result.Blocked {
		status = http.StatusConflict
	}
	httpx.JSON(w, status, result)
}

func (h *Handler) handleGetTree(w http.ResponseWriter, r *http.Request) {
	expand := -1
	if raw := r.URL.Query().Get("expand"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httpx.BadRequest(w, "expand must be an integer")
			return
		}
		expand = parsed
	}
	b, tree, err := h.service.GetBOM(r.Context(), chi.URLParam(r, "bomID"), expand)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"bom": b, "tree": tree})
}

func (h *Handler) handleListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.service.ListVersions(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"versions": versions})
}

type copyRequest struct {
	TargetProductID string     `json:"target_product_id" validate:"required"`
	NewVersion      string     `json:"new_version" validate:"required"`
	EffectiveDate   *time.Time `json:"effective_date"`
	ExpiryDate      *time.Time `json:"expiry_date"`
	Description     string     `json:"description"`
	Reason          string     `json:"reason"`

	IncludeInactiveItems bool            `json:"include_inactive_items"`
	IncludeOptionalItems *bool           `json:"include_optional_items"`
	AdjustCosts          bool            `json:"adjust_costs"`
	CostAdjustmentRate   float64         `json:"cost_adjustment_rate"`
	CopyToLevel          *int            `json:"copy_to_level"`
	ComponentTypes       []ComponentType `json:"component_types"`
	ProcessSteps         []string        `json:"process_steps"`
	PreserveStructure    *bool           `json:"preserve_structure"`
	UpdateEffectiveDates bool            `json:"update_effective_dates"`
}

func (h *Handler) handleCopy(w http.ResponseWriter, r *http.Request) {
	var req copyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	opts := DefaultCopyOptions()
	opts.IncludeInactiveItems = req.IncludeInactiveItems
	opts.AdjustCosts = req.AdjustCosts
	opts.CostAdjustmentRate = req.CostAdjustmentRate
	opts.ComponentTypes = req.ComponentTypes
	opts.ProcessSteps = req.ProcessSteps
	opts.UpdateEffectiveDates = req.UpdateEffectiveDates
	if req.IncludeOptionalItems != nil {
		opts.IncludeOptionalItems = *req.IncludeOptionalItems
	}
	if req.CopyToLevel != nil {
		opts.CopyToLevel = *req.CopyToLevel
	}
	if req.PreserveStructure != nil {
		opts.PreserveStructure = *req.PreserveStructure
	}
	input := CopyInput{
		SourceBOMID:     chi.URLParam(r, "bomID"),
		TargetProductID: req.TargetProductID,
		NewVersion:      req.NewVersion,
		Options:         opts,
		ExpiryDate:      req.ExpiryDate,
		Description:     req.Description,
		ActorID:         shared.ActorFromContext(r.Context()),
		Reason:          req.Reason,
	}
	if req.EffectiveDate != nil {
		input.EffectiveDate = *req.EffectiveDate
	}
	result, err := h.service.Copy(r.Context(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

type compareRequest struct {
	SourceBOMID string `json:"source_bom_id" validate:"required"`
	TargetBOMID string `json:"target_bom_id" validate:"required"`

	IgnoreInactiveItems       bool     `json:"ignore_inactive_items"`
	IgnoreOptionalItems       bool     `json:"ignore_optional_items"`
	IgnoreMinorCostChanges    bool     `json:"ignore_minor_cost_changes"`
	MinorCostThreshold        float64  `json:"minor_cost_threshold"`
	CompareToLevel            *int     `json:"compare_to_level"`
	IgnoreFields              []string `json:"ignore_fields"`
	IncludeCostImpactAnalysis *bool    `json:"include_cost_impact_analysis"`
	IncludeStructuralAnalysis *bool    `json:"include_structural_analysis"`
}

func (h *Handler) handleCompare(w http.ResponseWriter, r *http.Request) {
	var req compareRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	opts := DefaultCompareOptions()
	opts.IgnoreInactiveItems = req.IgnoreInactiveItems
	opts.IgnoreOptionalItems = req.IgnoreOptionalItems
	opts.IgnoreMinorCostChanges = req.IgnoreMinorCostChanges
	opts.MinorCostThreshold = req.MinorCostThreshold
	opts.IgnoreFields = req.IgnoreFields
	if req.CompareToLevel != nil {
		opts.CompareToLevel = *req.CompareToLevel
	}
	if req.IncludeCostImpactAnalysis != nil {
		opts.IncludeCostImpactAnalysis = *req.IncludeCostImpactAnalysis
	}
	if req.IncludeStructuralAnalysis != nil {
		opts.IncludeStructuralAnalysis = *req.IncludeStructuralAnalysis
	}
	result, err := h.service.Compare(r.Context(), req.SourceBOMID, req.TargetBOMID, shared.ActorFromContext(r.Context()), opts)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

// respondError maps engine errors onto RFC7807 problems. Every rejection
// carries the rule-specific message from the sentinel.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrBOMNotFound), errors.Is(err, ErrItemNotFound),
		errors.Is(err, ErrParentNotFound), errors.Is(err, ErrProductNotFound):
		httpx.NotFound(w, err.Error())
	case errors.Is(err, ErrMissingField), errors.Is(err, ErrQuantityNotPositive),
		errors.Is(err, ErrScrapRateOutOfRange), errors.Is(err, ErrUnitCostNegative),
		errors.Is(err, ErrEffectiveDateInFuture), errors.Is(err, ErrExpiryBeforeEffective),
		errors.Is(err, ErrInvalidComponentType):
		httpx.BadRequest(w, err.Error())
	case errors.Is(err, ErrDuplicateComponent), errors.Is(err, ErrDuplicateVersion):
		httpx.Conflict(w, err.Error())
	case errors.Is(err, ErrBOMInactive), errors.Is(err, ErrProductInactive),
		errors.Is(err, ErrSelfReference), errors.Is(err, ErrCircularReference),
		errors.Is(err, ErrNothingToUpdate), errors.Is(err, ErrCriticalDemotion),
		errors.Is(err, ErrChangeTooLarge), errors.Is(err, ErrItemHasChildren),
		errors.Is(err, ErrNoItemsToCopy), errors.Is(err, ErrSameBOM),
		errors.Is(err, ErrProductCannotHostBOM):
		httpx.Unprocessable(w, err.Error())
	default:
		h.logger.Error("bom request failed", slog.Any("error", err))
		httpx.Internal(w)
	}
}
