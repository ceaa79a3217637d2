package bom

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// Policy groups the tunable business-rule constants. The defaults mirror
// long-standing engineering-change practice; they are knobs, not physics.
type Policy struct {
	// MaxCycleDepth bounds the indirect cycle search.
	MaxCycleDepth int
	// UnforcedChangeLimit is the largest relative quantity change accepted
	// without the force flag (0.5 = 50%).
	UnforcedChangeLimit float64
	// CriticalCostThreshold is the absolute cost delta beyond which an
	// update is classified as high impact.
	CriticalCostThreshold float64
	// CriticalComponentTypes lists the types whose items cannot be flipped
	// from required to optional.
	CriticalComponentTypes []ComponentType
}

// DefaultPolicy returns the standard policy values.
func DefaultPolicy() Policy {
	return Policy{
		MaxCycleDepth:         DefaultMaxCycleDepth,
		UnforcedChangeLimit:   0.5,
		CriticalCostThreshold: 1000,
		CriticalComponentTypes: []ComponentType{
			ComponentTypeSubAssembly,
			ComponentTypeSemiFinished,
		},
	}
}

func (p Policy) isCriticalType(t ComponentType) bool {
	for _, ct := range p.CriticalComponentTypes {
		if ct == t {
			return true
		}
	}
	return false
}

// Stores bundles the persistence ports the service writes through.
type Stores struct {
	BOMs    BOMStore
	Items   ItemStore
	History HistoryStore
}

// Collaborators bundles the external read-side ports. Recalc may be nil;
// recalculation is then skipped.
type Collaborators struct {
	Products  ProductLookup
	Usage     UsageChecker
	Presenter Presenter
	Recalc    RecalcEnqueuer
}

// Service coordinates BOM reads, item mutations, copies and comparisons.
type Service struct {
	boms      BOMStore
	items     ItemStore
	history   HistoryStore
	products  ProductLookup
	usage     UsageChecker
	presenter Presenter
	recalc    RecalcEnqueuer
	cycles    *CycleChecker
	policy    Policy
	logger    *slog.Logger
	clock     Clock
}

// NewService builds the BOM service.
func NewService(stores Stores, collab Collaborators, cycles *CycleChecker, policy Policy, logger *slog.Logger) *Service {
	if policy.MaxCycleDepth <= 0 {
		policy.MaxCycleDepth = DefaultMaxCycleDepth
	}
	if policy.UnforcedChangeLimit <= 0 {
		policy.UnforcedChangeLimit = 0.5
	}
	if policy.CriticalCostThreshold <= 0 {
		policy.CriticalCostThreshold = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		boms:      stores.BOMs,
		items:     stores.Items,
		history:   stores.History,
		products:  collab.Products,
		usage:     collab.Usage,
		presenter: collab.Presenter,
		recalc:    collab.Recalc,
		cycles:    cycles,
		policy:    policy,
		logger:    logger,
		clock:     time.Now,
	}
}

// WithClock overrides the service clock. Tests use it to pin "now".
func (s *Service) WithClock(clock Clock) *Service {
	s.clock = clock
	return s
}

// TreeNode is a display-ready projection of one BOM item with its resolved
// component attributes and derived costs.
type TreeNode struct {
	Item               BOMItem    `json:"item"`
	ComponentCode      string     `json:"component_code"`
	ComponentName      string     `json:"component_name"`
	ComponentTypeLabel string     `json:"component_type_label"`
	ActualQuantity     float64    `json:"actual_quantity"`
	TotalCost          float64    `json:"total_cost"`
	Children           []TreeNode `json:"children,omitempty"`
}

// Totals summarises a BOM after a mutation.
type Totals struct {
	ItemCount int     `json:"item_count"`
	TotalCost float64 `json:"total_cost"`
	MaxLevel  int     `json:"max_level"`
}

// GetBOM loads a BOM and projects its items into a tree. expandLevel bounds
// the depth of attached children; negative means unlimited.
func (s *Service) GetBOM(ctx context.Context, bomID string, expandLevel int) (BOM, []TreeNode, error) {
	b, err := s.boms.FindByID(ctx, bomID)
	if err != nil {
		return BOM{}, nil, err
	}
	items, err := s.items.FindByBOMID(ctx, bomID)
	if err != nil {
		return BOM{}, nil, fmt.Errorf("load items: %w", err)
	}
	tree, err := s.buildTree(ctx, items, expandLevel)
	if err != nil {
		return BOM{}, nil, err
	}
	totals := computeTotals(items)
	b.ItemCount = totals.ItemCount
	b.TotalCost = totals.TotalCost
	b.MaxLevel = totals.MaxLevel
	return b, tree, nil
}

// ListVersions lists every BOM version recorded for a product.
func (s *Service) ListVersions(ctx context.Context, productID string) ([]BOM, error) {
	if productID == "" {
		return nil, fmt.Errorf("product id: %w", ErrMissingField)
	}
	return s.boms.FindByProductID(ctx, productID)
}

func (s *Service) buildTree(ctx context.Context, items []BOMItem, expandLevel int) ([]TreeNode, error) {
	children := make(map[string][]BOMItem)
	var roots []BOMItem
	for _, item := range items {
		if item.ParentItemID == "" {
			roots = append(roots, item)
			continue
		}
		children[item.ParentItemID] = append(children[item.ParentItemID], item)
	}
	sortSiblings(roots)
	for _, siblings := range children {
		sortSiblings(siblings)
	}
	nodes := make([]TreeNode, 0, len(roots))
	for _, root := range roots {
		node, err := s.buildNode(ctx, root, children, expandLevel)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func (s *Service) buildNode(ctx context.Context, item BOMItem, children map[string][]BOMItem, expandLevel int) (TreeNode, error) {
	node, err := s.projectNode(ctx, item)
	if err != nil {
		return TreeNode{}, err
	}
	if expandLevel >= 0 && item.Level >= expandLevel {
		return node, nil
	}
	for _, child := range children[item.ID] {
		childNode, err := s.buildNode(ctx, child, children, expandLevel)
		if err != nil {
			return TreeNode{}, err
		}
		node.Children = append(node.Children, childNode)
	}
	return node, nil
}

// projectNode resolves display attributes for a single item.
func (s *Service) projectNode(ctx context.Context, item BOMItem) (TreeNode, error) {
	node := TreeNode{
		Item:           item,
		ActualQuantity: item.ActualQuantity(),
		TotalCost:      item.TotalCost(),
	}
	if s.presenter != nil {
		node.ComponentTypeLabel = s.presenter.ComponentTypeLabel(item.ComponentType)
	}
	info, err := s.products.Get(ctx, item.ComponentID)
	if err != nil {
		// The catalog entry may have been retired after the item was
		// created; the projection degrades to ids only.
		s.logger.Warn("component lookup failed", slog.String("component_id", item.ComponentID), slog.Any("error", err))
		return node, nil
	}
	node.ComponentCode = info.Code
	node.ComponentName = info.Name
	return node, nil
}

func sortSiblings(items []BOMItem) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].Sequence < items[j].Sequence })
}

func computeTotals(items []BOMItem) Totals {
	t := Totals{}
	var active []BOMItem
	for _, item := range items {
		if !item.IsActive {
			continue
		}
		active = append(active, item)
		t.ItemCount++
		if item.Level > t.MaxLevel {
			t.MaxLevel = item.Level
		}
	}
	t.TotalCost = sumLineTotals(active)
	return t
}

// loadActiveBOM fetches a BOM and rejects mutations when it is not currently
// active.
func (s *Service) loadActiveBOM(ctx context.Context, bomID string) (BOM, error) {
	b, err := s.boms.FindByID(ctx, bomID)
	if err != nil {
		return BOM{}, err
	}
	if !b.IsCurrentlyActive(s.clock()) {
		return BOM{}, ErrBOMInactive
	}
	return b, nil
}

// touchBOM refreshes the header's update stamp after an item write.
func (s *Service) touchBOM(ctx context.Context, b BOM, actorID string) {
	b.UpdatedBy = actorID
	b.UpdatedAt = s.clock()
	if err := s.boms.Save(ctx, b); err != nil {
		s.logger.Error("touch bom failed", slog.String("bom_id", b.ID), slog.Any("error", err))
	}
}

// recordHistory appends an audit record. History failures surface in logs
// only; the item write already happened and is not rolled back (known gap,
// see DESIGN.md).
func (s *Service) recordHistory(ctx context.Context, rec HistoryRecord) {
	if err := s.history.Save(ctx, rec); err != nil {
		s.logger.Error("history write failed",
			slog.String("bom_id", rec.BOMID),
			slog.String("action", string(rec.Action)),
			slog.Any("error", err))
	}
}

func (s *Service) enqueueRecalc(ctx context.Context, bomID string) {
	if s.recalc == nil {
		return
	}
	if err := s.recalc.EnqueueRecalc(ctx, bomID); err != nil {
		s.logger.Warn("recalc enqueue failed", slog.String("bom_id", bomID), slog.Any("error", err))
	}
}

func (s *Service) clearCycleCache(ctx context.Context) {
	if err := s.cycles.ClearCache(ctx); err != nil {
		s.logger.Warn("cycle cache clear failed", slog.Any("error", err))
	}
}

// refreshTotals recomputes totals from the store after a mutation.
func (s *Service) refreshTotals(ctx context.Context, bomID string) (Totals, error) {
	items, err := s.items.FindByBOMID(ctx, bomID)
	if err != nil {
		return Totals{}, fmt.Errorf("refresh totals: %w", err)
	}
	return computeTotals(items), nil
}
