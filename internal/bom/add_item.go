package bom

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AddItemInput carries everything needed to attach a component to a BOM.
// A zero EffectiveDate defaults to now.
type AddItemInput struct {
	BOMID         string
	ParentItemID  string
	ComponentID   string
	Quantity      float64
	Unit          string
	UnitCost      float64
	ScrapRate     float64
	IsOptional    bool
	ComponentType ComponentType
	EffectiveDate time.Time
	ExpiryDate    *time.Time
	Position      string
	ProcessStep   string
	Remarks       string
	ActorID       string
	Reason        string
}

// AddItemResult returns the created node and the BOM's refreshed totals.
type AddItemResult struct {
	Node   TreeNode `json:"node"`
	Totals Totals   `json:"totals"`
}

// AddItem validates and persists a new BOM item. Validation runs in a fixed
// order and any failure aborts before the first write. The full cycle check
// is the authoritative final gate even when the coarser pre-checks passed:
// they inspect different slices of the composition graph.
func (s *Service) AddItem(ctx context.Context, input AddItemInput) (AddItemResult, error) {
	now := s.clock()

	if err := s.validateAddInput(&input, now); err != nil {
		return AddItemResult{}, err
	}

	b, err := s.loadActiveBOM(ctx, input.BOMID)
	if err != nil {
		return AddItemResult{}, err
	}

	component, err := s.products.Get(ctx, input.ComponentID)
	if err != nil {
		return AddItemResult{}, err
	}
	if !component.IsActive {
		return AddItemResult{}, ErrProductInactive
	}
	if input.ComponentID == b.ProductID {
		return AddItemResult{}, ErrSelfReference
	}

	level := 0
	var parent BOMItem
	if input.ParentItemID != "" {
		parent, err = s.items.FindByID(ctx, input.ParentItemID)
		if err != nil || parent.BOMID != input.BOMID {
			// Scoped lookup: an item id from another BOM is "not found"
			// here, never silently re-homed.
			return AddItemResult{}, ErrParentNotFound
		}
		level = parent.Level + 1
	}

	dup, err := s.items.IsDuplicate(ctx, input.BOMID, input.ComponentID, input.ParentItemID)
	if err != nil {
		return AddItemResult{}, fmt.Errorf("duplicate check: %w", err)
	}
	if dup {
		return AddItemResult{}, ErrDuplicateComponent
	}

	// Coarse indirect pre-check: when the parent's component is itself an
	// assembly, its active BOM must not already contain the owner product.
	if input.ParentItemID != "" {
		contained, err := s.productContains(ctx, parent.ComponentID, b.ProductID, 0)
		if err != nil {
			return AddItemResult{}, err
		}
		if contained {
			return AddItemResult{}, fmt.Errorf("parent assembly already contains product %s: %w", b.ProductID, ErrCircularReference)
		}
	}

	seq, err := s.items.NextSequence(ctx, input.BOMID, input.ParentItemID, level)
	if err != nil {
		return AddItemResult{}, fmt.Errorf("next sequence: %w", err)
	}

	item := BOMItem{
		ID:            uuid.NewString(),
		BOMID:         input.BOMID,
		ComponentID:   input.ComponentID,
		ParentItemID:  input.ParentItemID,
		Level:         level,
		Sequence:      seq,
		Quantity:      input.Quantity,
		Unit:          input.Unit,
		UnitCost:      input.UnitCost,
		ScrapRate:     input.ScrapRate,
		IsOptional:    input.IsOptional,
		ComponentType: input.ComponentType,
		EffectiveDate: orNow(input.EffectiveDate, now),
		ExpiryDate:    input.ExpiryDate,
		Position:      input.Position,
		ProcessStep:   input.ProcessStep,
		Remarks:       input.Remarks,
		IsActive:      true,
		CreatedBy:     input.ActorID,
		UpdatedBy:     input.ActorID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	// Authoritative gate.
	check, err := s.cycles.Check(ctx, b.ProductID, input.ComponentID, CycleCheckOptions{
		MaxDepth:             s.policy.MaxCycleDepth,
		IncludeSelfReference: true,
	})
	if err != nil {
		return AddItemResult{}, fmt.Errorf("cycle check: %w", err)
	}
	if check.HasCycle {
		return AddItemResult{}, fmt.Errorf("path %s: %w", strings.Join(check.Path, " -> "), ErrCircularReference)
	}

	if err := s.items.Save(ctx, item); err != nil {
		return AddItemResult{}, fmt.Errorf("save item: %w", err)
	}
	s.touchBOM(ctx, b, input.ActorID)
	s.recordHistory(ctx, HistoryRecord{
		ID:         uuid.NewString(),
		BOMID:      b.ID,
		Action:     HistoryActionAddItem,
		EntityID:   item.ID,
		ActorID:    input.ActorID,
		Reason:     input.Reason,
		OccurredAt: now,
	})
	s.clearCycleCache(ctx)
	s.enqueueRecalc(ctx, b.ID)

	totals, err := s.refreshTotals(ctx, b.ID)
	if err != nil {
		return AddItemResult{}, err
	}
	node, err := s.projectNode(ctx, item)
	if err != nil {
		return AddItemResult{}, err
	}
	return AddItemResult{Node: node, Totals: totals}, nil
}

func (s *Service) validateAddInput(input *AddItemInput, now time.Time) error {
	switch {
	case input.BOMID == "":
		return fmt.Errorf("bom id: %w", ErrMissingField)
	case input.ComponentID == "":
		return fmt.Errorf("component id: %w", ErrMissingField)
	case input.ActorID == "":
		return fmt.Errorf("actor id: %w", ErrMissingField)
	case input.Unit == "":
		return fmt.Errorf("unit: %w", ErrMissingField)
	}
	if !input.ComponentType.Valid() {
		return ErrInvalidComponentType
	}
	if input.Quantity <= 0 {
		return ErrQuantityNotPositive
	}
	if input.ScrapRate < 0 || input.ScrapRate > 100 {
		return ErrScrapRateOutOfRange
	}
	if input.UnitCost < 0 {
		return ErrUnitCostNegative
	}
	if !input.EffectiveDate.IsZero() && input.EffectiveDate.After(now) {
		return ErrEffectiveDateInFuture
	}
	if input.ExpiryDate != nil && !input.ExpiryDate.After(orNow(input.EffectiveDate, now)) {
		return ErrExpiryBeforeEffective
	}
	return nil
}

func orNow(t, now time.Time) time.Time {
	if t.IsZero() {
		return now
	}
	return t
}

// productContains reports whether target appears anywhere in productID's
// active BOM. This mirrors the cycle DFS at a coarser grain; AddItem runs it
// as a cheap pre-check before the authoritative one.
func (s *Service) productContains(ctx context.Context, productID, target string, depth int) (bool, error) {
	if depth >= s.policy.MaxCycleDepth {
		return false, nil
	}
	active, err := s.boms.FindActiveByProductID(ctx, productID)
	if err != nil {
		if errors.Is(err, ErrBOMNotFound) {
			return false, nil
		}
		return false, err
	}
	items, err := s.items.FindByBOMID(ctx, active.ID)
	if err != nil {
		return false, err
	}
	for _, item := range items {
		if !item.IsActive {
			continue
		}
		if item.ComponentID == target {
			return true, nil
		}
		found, err := s.productContains(ctx, item.ComponentID, target, depth+1)
		if err != nil || found {
			return found, err
		}
	}
	return false, nil
}
