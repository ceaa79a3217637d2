package masterdata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Repository abstracts product persistence.
type Repository interface {
	List(ctx context.Context, filters ListFilters) ([]Product, int, error)
	Get(ctx context.Context, id string) (Product, error)
	GetByCode(ctx context.Context, code string) (Product, error)
	Save(ctx context.Context, p Product) error
	Deactivate(ctx context.Context, id string) error
}

// Service coordinates catalog operations.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a new catalog service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// List returns a filtered page of products with the unpaged total.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]Product, int, error) {
	if filters.Limit <= 0 {
		filters.Limit = 20
	}
	if filters.Limit > 100 {
		filters.Limit = 100
	}
	if filters.Page <= 0 {
		filters.Page = 1
	}
	return s.repo.List(ctx, filters)
}

// Get returns a single product by id.
func (s *Service) Get(ctx context.Context, id string) (Product, error) {
	if strings.TrimSpace(id) == "" {
		return Product{}, fmt.Errorf("%w: missing id", ErrInvalidProduct)
	}
	return s.repo.Get(ctx, id)
}

// Create validates and stores a new product.
func (s *Service) Create(ctx context.Context, p Product) (Product, error) {
	if err := s.validate(p); err != nil {
		return Product{}, err
	}
	if _, err := s.repo.GetByCode(ctx, p.Code); err == nil {
		return Product{}, ErrDuplicateCode
	}
	now := s.now().UTC()
	p.ID = uuid.NewString()
	p.IsActive = true
	p.CreatedAt = now
	p.UpdatedAt = now
	if err := s.repo.Save(ctx, p); err != nil {
		return Product{}, err
	}
	return p, nil
}

// Update validates and stores changes to an existing product.
func (s *Service) Update(ctx context.Context, id string, p Product) (Product, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return Product{}, err
	}
	if err := s.validate(p); err != nil {
		return Product{}, err
	}
	current.Code = p.Code
	current.Name = p.Name
	current.Description = p.Description
	current.Type = p.Type
	current.Unit = p.Unit
	current.StandardCost = p.StandardCost
	current.UpdatedAt = s.now().UTC()
	if err := s.repo.Save(ctx, current); err != nil {
		return Product{}, err
	}
	return current, nil
}

// Deactivate retires a product from the catalog. Existing BOM items keep
// referencing it; new items will be rejected by the BOM engine.
func (s *Service) Deactivate(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidProduct)
	}
	return s.repo.Deactivate(ctx, id)
}

func (s *Service) validate(p Product) error {
	if strings.TrimSpace(p.Code) == "" {
		return fmt.Errorf("%w: code is required", ErrInvalidProduct)
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProduct)
	}
	if strings.TrimSpace(p.Unit) == "" {
		return fmt.Errorf("%w: unit is required", ErrInvalidProduct)
	}
	if !productTypes[p.Type] {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidProduct, p.Type)
	}
	if p.StandardCost < 0 {
		return fmt.Errorf("%w: standard cost must not be negative", ErrInvalidProduct)
	}
	return nil
}
