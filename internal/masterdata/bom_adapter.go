package masterdata

import (
	"context"
	"errors"

	"github.com/meridian-mes/meridian-mes/internal/bom"
)

// BOMCatalog adapts the product service to the lookup contract of the BOM
// engine.
type BOMCatalog struct {
	service *Service
}

// NewBOMCatalog wraps a catalog service for use by the BOM engine.
func NewBOMCatalog(service *Service) *BOMCatalog {
	return &BOMCatalog{service: service}
}

// Get resolves a product for the BOM engine.
func (c *BOMCatalog) Get(ctx context.Context, id string) (bom.ProductInfo, error) {
	p, err := c.service.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrProductNotFound) || errors.Is(err, ErrInvalidProduct) {
			return bom.ProductInfo{}, bom.ErrProductNotFound
		}
		return bom.ProductInfo{}, err
	}
	return bom.ProductInfo{
		ID:       p.ID,
		Code:     p.Code,
		Name:     p.Name,
		IsActive: p.IsActive,
	}, nil
}

// CanHostBOM reports whether the product may own a BOM.
func (c *BOMCatalog) CanHostBOM(ctx context.Context, id string) (bool, error) {
	p, err := c.service.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrProductNotFound) || errors.Is(err, ErrInvalidProduct) {
			return false, bom.ErrProductNotFound
		}
		return false, err
	}
	return p.CanHostBOM(), nil
}
