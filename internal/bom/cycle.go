package bom

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// DefaultMaxCycleDepth bounds the indirect-reference search. Exceeding the
// bound yields "no cycle found within the search limit", not a cycle: deep
// compositions may legitimately exceed it.
const DefaultMaxCycleDepth = 50

// CycleCheckOptions tune a single cycle check.
type CycleCheckOptions struct {
	// MaxDepth bounds the DFS; zero or negative falls back to
	// DefaultMaxCycleDepth.
	MaxDepth int
	// IncludeSelfReference enables the depth-0 component==owner check.
	// Callers almost always leave this on.
	IncludeSelfReference bool
}

// DefaultCycleCheckOptions returns the options used by the mutation
// operations.
func DefaultCycleCheckOptions() CycleCheckOptions {
	return CycleCheckOptions{MaxDepth: DefaultMaxCycleDepth, IncludeSelfReference: true}
}

// CycleCheckResult reports the outcome of a cycle check. Path holds the
// chain of product ids from the candidate component to the repeated product
// when a cycle was found.
type CycleCheckResult struct {
	HasCycle bool     `json:"has_cycle"`
	Path     []string `json:"path,omitempty"`
	Depth    int      `json:"depth"`
}

// CycleCache stores cycle-check results keyed by the check tuple. Entries
// are opaque to the checker; callers must Clear after any structural
// mutation of the BOM graph, there is no automatic invalidation.
type CycleCache interface {
	Get(ctx context.Context, key string) (CycleCheckResult, bool, error)
	Set(ctx context.Context, key string, result CycleCheckResult) error
	Clear(ctx context.Context) error
}

// CycleChecker decides whether adding a component edge to a product's BOM
// would close a cycle. It follows each visited product's currently active
// BOM, carrying a copy of the path per DFS branch so diamond-shaped reuse of
// a component on separate branches is not reported as a cycle.
type CycleChecker struct {
	boms   BOMStore
	items  ItemStore
	cache  CycleCache
	logger *slog.Logger
}

// NewCycleChecker builds a CycleChecker. The cache is required; pass
// NewMemoryCycleCache() when no shared cache is available.
func NewCycleChecker(boms BOMStore, items ItemStore, cache CycleCache, logger *slog.Logger) *CycleChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &CycleChecker{boms: boms, items: items, cache: cache, logger: logger}
}

// Check reports whether making componentID a part of ownerProductID's BOM
// would create a circular composition.
func (c *CycleChecker) Check(ctx context.Context, ownerProductID, componentID string, opts CycleCheckOptions) (CycleCheckResult, error) {
	if ownerProductID == "" || componentID == "" {
		return CycleCheckResult{}, fmt.Errorf("owner and component product ids are required: %w", ErrMissingField)
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxCycleDepth
	}

	if opts.IncludeSelfReference && componentID == ownerProductID {
		return CycleCheckResult{HasCycle: true, Path: []string{ownerProductID, componentID}, Depth: 0}, nil
	}

	key := fmt.Sprintf("cycle:%s:%s:%d:%t", ownerProductID, componentID, opts.MaxDepth, opts.IncludeSelfReference)
	if cached, ok, err := c.cache.Get(ctx, key); err != nil {
		c.logger.Warn("cycle cache read failed", slog.Any("error", err))
	} else if ok {
		return cached, nil
	}

	result, err := c.search(ctx, ownerProductID, componentID, []string{componentID}, 0, opts.MaxDepth)
	if err != nil {
		return CycleCheckResult{}, err
	}
	if err := c.cache.Set(ctx, key, result); err != nil {
		c.logger.Warn("cycle cache write failed", slog.Any("error", err))
	}
	return result, nil
}

// search walks productID's active BOM looking for ownerProductID. The path
// slice is owned by the current branch; children receive copies.
func (c *CycleChecker) search(ctx context.Context, ownerProductID, productID string, path []string, depth, maxDepth int) (CycleCheckResult, error) {
	if depth >= maxDepth {
		// Bounded out: reported as no cycle within the search limit.
		return CycleCheckResult{Depth: depth}, nil
	}

	active, err := c.boms.FindActiveByProductID(ctx, productID)
	if err != nil {
		if errors.Is(err, ErrBOMNotFound) {
			return CycleCheckResult{Depth: depth}, nil
		}
		return CycleCheckResult{}, fmt.Errorf("load active bom for %s: %w", productID, err)
	}

	items, err := c.items.FindByBOMID(ctx, active.ID)
	if err != nil {
		return CycleCheckResult{}, fmt.Errorf("load items for bom %s: %w", active.ID, err)
	}

	for _, item := range items {
		if !item.IsActive {
			continue
		}
		child := item.ComponentID
		if child == ownerProductID {
			return CycleCheckResult{HasCycle: true, Path: appendPath(path, child), Depth: depth + 1}, nil
		}
		if containsID(path, child) {
			// The component already sits on this branch's path.
			return CycleCheckResult{HasCycle: true, Path: appendPath(path, child), Depth: depth + 1}, nil
		}
		res, err := c.search(ctx, ownerProductID, child, appendPath(path, child), depth+1, maxDepth)
		if err != nil {
			return CycleCheckResult{}, err
		}
		if res.HasCycle {
			return res, nil
		}
	}
	return CycleCheckResult{Depth: depth}, nil
}

// CheckTree walks an in-memory item forest top-down and flags the first
// component id that repeats on the path from a root to the current node.
// Useful for validating already-loaded trees without store round-trips.
func (c *CycleChecker) CheckTree(items []BOMItem) CycleCheckResult {
	children := make(map[string][]BOMItem)
	var roots []BOMItem
	for _, item := range items {
		if item.ParentItemID == "" {
			roots = append(roots, item)
			continue
		}
		children[item.ParentItemID] = append(children[item.ParentItemID], item)
	}
	for _, root := range roots {
		if res := walkTree(root, children, nil); res.HasCycle {
			return res
		}
	}
	return CycleCheckResult{}
}

// ClearCache drops every cached cycle result. Mutation operations call this
// after structural writes.
func (c *CycleChecker) ClearCache(ctx context.Context) error {
	return c.cache.Clear(ctx)
}

func walkTree(node BOMItem, children map[string][]BOMItem, path []string) CycleCheckResult {
	if containsID(path, node.ComponentID) {
		return CycleCheckResult{HasCycle: true, Path: appendPath(path, node.ComponentID), Depth: len(path)}
	}
	next := appendPath(path, node.ComponentID)
	for _, child := range children[node.ID] {
		if res := walkTree(child, children, next); res.HasCycle {
			return res
		}
	}
	return CycleCheckResult{}
}

func containsID(path []string, id string) bool {
	for _, p := range path {
		if p == id {
			return true
		}
	}
	return false
}

// appendPath copies before appending so sibling branches never share
// backing arrays.
func appendPath(path []string, id string) []string {
	next := make([]string, len(path), len(path)+1)
	copy(next, path)
	return append(next, id)
}
