package bom

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// DeleteItemInput controls a logical delete. DeleteChildren cascades to all
// descendants; Force overrides the external-usage block.
type DeleteItemInput struct {
	ItemID         string
	DeleteChildren bool
	Force          bool
	ActorID        string
	Reason         string
}

// Children outcomes reported in the deletion summary.
const (
	ChildrenDeleted       = "DELETED"
	ChildrenBlocked       = "BLOCKED"
	ChildrenNotApplicable = "NOT_APPLICABLE"
)

// DeletionSummary aggregates what a delete removed.
type DeletionSummary struct {
	TotalDeleted         int         `json:"total_deleted"`
	DeletedPerLevel      map[int]int `json:"deleted_per_level"`
	CostSavings          float64     `json:"cost_savings"`
	AffectedComponentIDs []string    `json:"affected_component_ids"`
	ChildrenOutcome      string      `json:"children_outcome"`
}

// DeleteItemResult reports a completed or usage-blocked delete.
type DeleteItemResult struct {
	Blocked         bool            `json:"blocked"`
	Warnings        []string        `json:"warnings,omitempty"`
	Summary         DeletionSummary `json:"summary"`
	Recommendations []string        `json:"recommendations,omitempty"`
}

// DeleteItem performs a logical delete of an item and, when requested, its
// descendants. One history record is written per removed item.
func (s *Service) DeleteItem(ctx context.Context, input DeleteItemInput) (DeleteItemResult, error) {
	if input.ItemID == "" {
		return DeleteItemResult{}, fmt.Errorf("item id: %w", ErrMissingField)
	}
	if input.ActorID == "" {
		return DeleteItemResult{}, fmt.Errorf("actor id: %w", ErrMissingField)
	}

	item, err := s.items.FindByID(ctx, input.ItemID)
	if err != nil {
		return DeleteItemResult{}, err
	}
	b, err := s.loadActiveBOM(ctx, item.BOMID)
	if err != nil {
		return DeleteItemResult{}, err
	}

	var warnings []string
	if s.usage != nil {
		report, err := s.usage.Usage(ctx, item.ID)
		if err != nil {
			return DeleteItemResult{}, fmt.Errorf("usage check: %w", err)
		}
		if report.InUse {
			warning := fmt.Sprintf("item is referenced by %d external consumer(s)", report.RefCount)
			if !input.Force {
				return DeleteItemResult{
					Blocked:  true,
					Warnings: []string{warning, "set force to delete anyway"},
				}, nil
			}
			warnings = append(warnings, warning+"; deletion forced")
		}
	}

	hasChildren, err := s.items.HasChildren(ctx, item.ID)
	if err != nil {
		return DeleteItemResult{}, fmt.Errorf("children check: %w", err)
	}

	childrenOutcome := ChildrenNotApplicable
	targets := []BOMItem{item}
	if hasChildren {
		if !input.DeleteChildren {
			return DeleteItemResult{
				Summary: DeletionSummary{ChildrenOutcome: ChildrenBlocked},
			}, ErrItemHasChildren
		}
		descendants, err := s.collectDescendants(ctx, item.ID)
		if err != nil {
			return DeleteItemResult{}, err
		}
		targets = append(targets, descendants...)
		childrenOutcome = ChildrenDeleted
	}

	now := s.clock()
	summary := DeletionSummary{
		DeletedPerLevel: make(map[int]int),
		ChildrenOutcome: childrenOutcome,
	}
	seenComponents := make(map[string]struct{})
	for _, t := range targets {
		if err := s.items.Delete(ctx, t.ID); err != nil {
			return DeleteItemResult{}, fmt.Errorf("delete item %s: %w", t.ID, err)
		}
		s.recordHistory(ctx, HistoryRecord{
			ID:         uuid.NewString(),
			BOMID:      b.ID,
			Action:     HistoryActionDeleteItem,
			EntityID:   t.ID,
			Changes:    []FieldChange{{Field: "is_active", Old: true, New: false}},
			ActorID:    input.ActorID,
			Reason:     input.Reason,
			OccurredAt: now,
		})
		summary.TotalDeleted++
		summary.DeletedPerLevel[t.Level]++
		summary.CostSavings += t.TotalCost()
		if _, ok := seenComponents[t.ComponentID]; !ok {
			seenComponents[t.ComponentID] = struct{}{}
			summary.AffectedComponentIDs = append(summary.AffectedComponentIDs, t.ComponentID)
		}
	}
	sort.Strings(summary.AffectedComponentIDs)

	s.touchBOM(ctx, b, input.ActorID)
	s.clearCycleCache(ctx)
	s.enqueueRecalc(ctx, b.ID)

	var recs []string
	if childrenOutcome == ChildrenDeleted {
		recs = append(recs, fmt.Sprintf("verify downstream routings for %d removed item(s)", summary.TotalDeleted))
	}
	if summary.CostSavings > 0 {
		recs = append(recs, "review dependent production plans for the recovered cost")
	}
	return DeleteItemResult{
		Warnings:        warnings,
		Summary:         summary,
		Recommendations: recs,
	}, nil
}

// collectDescendants walks children breadth-first with a visited set so that
// already-malformed cyclic data cannot loop the collection.
func (s *Service) collectDescendants(ctx context.Context, itemID string) ([]BOMItem, error) {
	visited := map[string]struct{}{itemID: {}}
	var collected []BOMItem
	queue := []string{itemID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		children, err := s.items.FindByParentID(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("load children of %s: %w", current, err)
		}
		for _, child := range children {
			if _, seen := visited[child.ID]; seen {
				continue
			}
			visited[child.ID] = struct{}{}
			collected = append(collected, child)
			queue = append(queue, child.ID)
		}
	}
	return collected, nil
}
