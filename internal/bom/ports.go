package bom

import (
	"context"
	"time"
)

// BOMStore persists BOM headers. Delete is logical: implementations clear
// the active flag and keep the row.
type BOMStore interface {
	FindByID(ctx context.Context, id string) (BOM, error)
	FindByProductIDAndVersion(ctx context.Context, productID, version string) (BOM, error)
	FindActiveByProductID(ctx context.Context, productID string) (BOM, error)
	FindByProductID(ctx context.Context, productID string) ([]BOM, error)
	Save(ctx context.Context, b BOM) error
	Delete(ctx context.Context, id string) error
}

// ItemStore persists BOM items. Delete is logical. NextSequence returns the
// next free sequence number among siblings of the given parent and level.
type ItemStore interface {
	FindByID(ctx context.Context, id string) (BOMItem, error)
	FindByBOMID(ctx context.Context, bomID string) ([]BOMItem, error)
	FindByParentID(ctx context.Context, parentID string) ([]BOMItem, error)
	FindAllDescendants(ctx context.Context, itemID string) ([]BOMItem, error)
	HasChildren(ctx context.Context, itemID string) (bool, error)
	NextSequence(ctx context.Context, bomID, parentID string, level int) (int, error)
	IsDuplicate(ctx context.Context, bomID, componentID, parentID string) (bool, error)
	Save(ctx context.Context, item BOMItem) error
	Delete(ctx context.Context, id string) error
}

// HistoryStore appends audit records. There is no update or delete.
type HistoryStore interface {
	Save(ctx context.Context, rec HistoryRecord) error
}

// ProductInfo carries the display attributes the engine needs from the
// product catalog.
type ProductInfo struct {
	ID       string
	Code     string
	Name     string
	IsActive bool
}

// ProductLookup resolves products from the catalog collaborator.
type ProductLookup interface {
	// Get returns the product or ErrProductNotFound.
	Get(ctx context.Context, id string) (ProductInfo, error)
	// CanHostBOM reports whether the product may own a BOM.
	CanHostBOM(ctx context.Context, id string) (bool, error)
}

// UsageReport describes external references to a BOM item.
type UsageReport struct {
	InUse       bool
	RefCount    int
	HasChildren bool
	ChildCount  int
}

// UsageChecker reports whether an item is referenced by external consumers.
type UsageChecker interface {
	Usage(ctx context.Context, itemID string) (UsageReport, error)
}

// Presenter maps component types to human-readable labels.
type Presenter interface {
	ComponentTypeLabel(t ComponentType) string
}

// RecalcEnqueuer schedules a background recalculation of a BOM's denormalised
// totals. Enqueueing is best effort: mutations succeed even when it fails.
type RecalcEnqueuer interface {
	EnqueueRecalc(ctx context.Context, bomID string) error
}

// Clock abstracts time.Now for deterministic tests.
type Clock func() time.Time
