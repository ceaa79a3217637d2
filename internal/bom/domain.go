// Package bom implements the bill-of-materials structural engine: the
// BOM/item entity model, cycle detection, item mutations, subtree copy and
// tree comparison. Persistence, product lookup and usage checks are consumed
// through the ports in ports.go.
package bom

import (
	"errors"
	"time"
)

// ComponentType classifies what kind of part a BOM item consumes.
type ComponentType string

const (
	// ComponentTypeRawMaterial is unprocessed input material.
	ComponentTypeRawMaterial ComponentType = "RAW_MATERIAL"
	// ComponentTypeSemiFinished is an internally produced intermediate.
	ComponentTypeSemiFinished ComponentType = "SEMI_FINISHED"
	// ComponentTypePurchased is a bought-in part.
	ComponentTypePurchased ComponentType = "PURCHASED"
	// ComponentTypeSubAssembly is an assembly with its own BOM.
	ComponentTypeSubAssembly ComponentType = "SUB_ASSEMBLY"
	// ComponentTypeConsumable is used up during production without
	// appearing in the finished product.
	ComponentTypeConsumable ComponentType = "CONSUMABLE"
)

// Valid reports whether t is one of the known component types.
func (t ComponentType) Valid() bool {
	switch t {
	case ComponentTypeRawMaterial, ComponentTypeSemiFinished, ComponentTypePurchased,
		ComponentTypeSubAssembly, ComponentTypeConsumable:
		return true
	}
	return false
}

// BOM is one versioned composition for a product. Items are loaded on
// demand and may be nil on instances returned by header-only lookups.
type BOM struct {
	ID            string     `json:"id"`
	ProductID     string     `json:"product_id"`
	Version       string     `json:"version"`
	IsActive      bool       `json:"is_active"`
	EffectiveDate time.Time  `json:"effective_date"`
	ExpiryDate    *time.Time `json:"expiry_date,omitempty"`
	Description   string     `json:"description"`
	ItemCount     int        `json:"item_count"`
	TotalCost     float64    `json:"total_cost"`
	MaxLevel      int        `json:"max_level"`
	CreatedBy     string     `json:"created_by"`
	UpdatedBy     string     `json:"updated_by"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	Items []BOMItem `json:"items,omitempty"`
}

// IsCurrentlyActive reports whether the BOM is active at the given instant:
// the active flag is set, the effective date has been reached and the expiry
// date (when present) has not passed.
func (b BOM) IsCurrentlyActive(now time.Time) bool {
	if !b.IsActive {
		return false
	}
	if b.EffectiveDate.After(now) {
		return false
	}
	if b.ExpiryDate != nil && b.ExpiryDate.Before(now) {
		return false
	}
	return true
}

// BOMItem is one node in a BOM's component tree. An empty ParentItemID marks
// a root node at level 0; every other item sits at parent level + 1.
type BOMItem struct {
	ID            string        `json:"id"`
	BOMID         string        `json:"bom_id"`
	ComponentID   string        `json:"component_id"`
	ParentItemID  string        `json:"parent_item_id,omitempty"`
	Level         int           `json:"level"`
	Sequence      int           `json:"sequence"`
	Quantity      float64       `json:"quantity"`
	Unit          string        `json:"unit"`
	UnitCost      float64       `json:"unit_cost"`
	ScrapRate     float64       `json:"scrap_rate"`
	IsOptional    bool          `json:"is_optional"`
	ComponentType ComponentType `json:"component_type"`
	EffectiveDate time.Time     `json:"effective_date"`
	ExpiryDate    *time.Time    `json:"expiry_date,omitempty"`
	Position      string        `json:"position,omitempty"`
	ProcessStep   string        `json:"process_step,omitempty"`
	Remarks       string        `json:"remarks,omitempty"`
	IsActive      bool          `json:"is_active"`
	CreatedBy     string        `json:"created_by"`
	UpdatedBy     string        `json:"updated_by"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// ActualQuantity is the consumed quantity after scrap-rate inflation.
func (i BOMItem) ActualQuantity() float64 {
	return actualQuantity(i.Quantity, i.ScrapRate)
}

// TotalCost is the line cost: actual quantity times unit cost.
func (i BOMItem) TotalCost() float64 {
	return lineTotal(i.Quantity, i.ScrapRate, i.UnitCost)
}

// HistoryAction enumerates the recorded BOM history actions.
type HistoryAction string

const (
	HistoryActionCreate     HistoryAction = "CREATE"
	HistoryActionAddItem    HistoryAction = "ADD_ITEM"
	HistoryActionUpdateItem HistoryAction = "UPDATE_ITEM"
	HistoryActionDeleteItem HistoryAction = "DELETE_ITEM"
	HistoryActionCopy       HistoryAction = "COPY"
	HistoryActionCompare    HistoryAction = "COMPARE"
)

// FieldChange captures one field transition inside a history record.
type FieldChange struct {
	Field string `json:"field"`
	Old   any    `json:"old,omitempty"`
	New   any    `json:"new,omitempty"`
}

// HistoryRecord is an append-only audit entry. Records are never mutated or
// deleted once written.
type HistoryRecord struct {
	ID         string        `json:"id"`
	BOMID      string        `json:"bom_id"`
	Action     HistoryAction `json:"action"`
	EntityID   string        `json:"entity_id"`
	Changes    []FieldChange `json:"changes,omitempty"`
	ActorID    string        `json:"actor_id"`
	Reason     string        `json:"reason,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// Not-found errors.
var (
	// ErrBOMNotFound indicates the referenced BOM does not exist.
	ErrBOMNotFound = errors.New("bom: bom not found")
	// ErrItemNotFound indicates the referenced item does not exist.
	ErrItemNotFound = errors.New("bom: item not found")
	// ErrParentNotFound indicates the parent item does not exist within the
	// target BOM. Parent lookup is scoped to the BOM, never global.
	ErrParentNotFound = errors.New("bom: parent item not found in target bom")
	// ErrProductNotFound indicates the referenced product does not exist.
	ErrProductNotFound = errors.New("bom: product not found")
)

// Validation errors, rejected before any write.
var (
	// ErrQuantityNotPositive indicates a zero or negative quantity.
	ErrQuantityNotPositive = errors.New("bom: quantity must be greater than zero")
	// ErrScrapRateOutOfRange indicates a scrap rate outside 0-100.
	ErrScrapRateOutOfRange = errors.New("bom: scrap rate must be between 0 and 100")
	// ErrUnitCostNegative indicates a negative unit cost.
	ErrUnitCostNegative = errors.New("bom: unit cost must be >= 0")
	// ErrEffectiveDateInFuture indicates an effective date past now.
	ErrEffectiveDateInFuture = errors.New("bom: effective date must not be in the future")
	// ErrExpiryBeforeEffective indicates expiry not after effective date.
	ErrExpiryBeforeEffective = errors.New("bom: expiry date must be after effective date")
	// ErrMissingField indicates a required input was absent. Wrap with the
	// field name when returning it.
	ErrMissingField = errors.New("bom: required field missing")
	// ErrInvalidComponentType indicates an unknown component type value.
	ErrInvalidComponentType = errors.New("bom: invalid component type")
)

// Business-rule violations.
var (
	// ErrBOMInactive indicates a mutation against a BOM that is not
	// currently active.
	ErrBOMInactive = errors.New("bom: bom is not currently active")
	// ErrProductInactive indicates the component product is inactive.
	ErrProductInactive = errors.New("bom: component product is not active")
	// ErrSelfReference indicates the component equals the owning product.
	ErrSelfReference = errors.New("bom: component must not reference the bom's own product")
	// ErrCircularReference indicates the addition would close a cycle.
	ErrCircularReference = errors.New("bom: circular reference detected")
	// ErrDuplicateComponent indicates a sibling already holds the component.
	ErrDuplicateComponent = errors.New("bom: component already present under the same parent")
	// ErrDuplicateVersion indicates the product already has a BOM with the
	// requested version label.
	ErrDuplicateVersion = errors.New("bom: version already exists for product")
	// ErrNothingToUpdate indicates an update request with no changed fields.
	ErrNothingToUpdate = errors.New("bom: nothing to update")
	// ErrCriticalDemotion indicates an attempt to flip a critical component
	// from required to optional.
	ErrCriticalDemotion = errors.New("bom: critical component cannot be made optional")
	// ErrChangeTooLarge indicates a quantity change beyond the unforced
	// limit without the force flag.
	ErrChangeTooLarge = errors.New("bom: quantity change exceeds limit, set force to proceed")
	// ErrItemHasChildren indicates a delete without the delete-children
	// flag against an item that still has children.
	ErrItemHasChildren = errors.New("bom: item has children; delete them first or set delete_children")
	// ErrNoItemsToCopy indicates the copy filter matched no source items.
	ErrNoItemsToCopy = errors.New("bom: no items match the copy filter")
	// ErrSameBOM indicates a comparison of a BOM against itself.
	ErrSameBOM = errors.New("bom: source and target bom must differ")
	// ErrProductCannotHostBOM indicates the copy target product cannot own
	// a BOM.
	ErrProductCannotHostBOM = errors.New("bom: target product cannot host a bom")
)
