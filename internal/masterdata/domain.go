// Package masterdata maintains the product catalog the BOM engine builds on.
package masterdata

import (
	"errors"
	"time"
)

// Product types. FINISHED goods and the intermediate types may own a BOM;
// raw materials, purchased parts and consumables may only appear as
// components.
const (
	TypeFinished     = "FINISHED"
	TypeSemiFinished = "SEMI_FINISHED"
	TypeSubAssembly  = "SUB_ASSEMBLY"
	TypeRawMaterial  = "RAW_MATERIAL"
	TypePurchased    = "PURCHASED"
	TypeConsumable   = "CONSUMABLE"
)

var productTypes = map[string]bool{
	TypeFinished:     true,
	TypeSemiFinished: true,
	TypeSubAssembly:  true,
	TypeRawMaterial:  true,
	TypePurchased:    true,
	TypeConsumable:   true,
}

// Product represents a catalog entry.
type Product struct {
	ID           string    `json:"id"`
	Code         string    `json:"code"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	Type         string    `json:"type"`
	Unit         string    `json:"unit"`
	StandardCost float64   `json:"standard_cost"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CanHostBOM reports whether this product may own a bill of materials.
func (p Product) CanHostBOM() bool {
	switch p.Type {
	case TypeFinished, TypeSemiFinished, TypeSubAssembly:
		return p.IsActive
	default:
		return false
	}
}

// ListFilters represents standard list page filters.
type ListFilters struct {
	Page     int
	Limit    int
	Search   string
	Type     string
	IsActive *bool
}

// Sentinel errors for the catalog.
var (
	ErrProductNotFound = errors.New("masterdata: product not found")
	ErrDuplicateCode   = errors.New("masterdata: product code already exists")
	ErrInvalidProduct  = errors.New("masterdata: invalid product")
)
