package bom

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Field names used in diffs, history records and the ignore lists of the
// comparison engine.
const (
	FieldQuantity      = "quantity"
	FieldUnit          = "unit"
	FieldUnitCost      = "unit_cost"
	FieldScrapRate     = "scrap_rate"
	FieldIsOptional    = "is_optional"
	FieldPosition      = "position"
	FieldProcessStep   = "process_step"
	FieldRemarks       = "remarks"
	FieldEffectiveDate = "effective_date"
	FieldExpiryDate    = "expiry_date"
	FieldLevel         = "level"
	FieldSequence      = "sequence"
)

// UpdateItemInput carries a partial update: nil pointers mean "leave as is".
type UpdateItemInput struct {
	ItemID        string
	Quantity      *float64
	Unit          *string
	UnitCost      *float64
	ScrapRate     *float64
	IsOptional    *bool
	Position      *string
	ProcessStep   *string
	Remarks       *string
	EffectiveDate *time.Time
	ExpiryDate    *time.Time
	Force         bool
	ActorID       string
	Reason        string
}

// ImpactTier grades the blast radius of a change.
type ImpactTier string

const (
	ImpactLow    ImpactTier = "LOW"
	ImpactMedium ImpactTier = "MEDIUM"
	ImpactHigh   ImpactTier = "HIGH"
)

// ImpactAnalysis summarises the downstream effect of a critical update.
type ImpactAnalysis struct {
	AffectedItemIDs []string   `json:"affected_item_ids"`
	CostDelta       float64    `json:"cost_delta"`
	Tier            ImpactTier `json:"tier"`
	Recommendations []string   `json:"recommendations,omitempty"`
}

// UpdateItemResult reports a completed or usage-blocked update. Blocked is a
// non-fatal outcome: the caller receives warnings instead of an error when
// an externally referenced item is changed without force.
type UpdateItemResult struct {
	Blocked  bool            `json:"blocked"`
	Warnings []string        `json:"warnings,omitempty"`
	Item     BOMItem         `json:"item"`
	Changes  []FieldChange   `json:"changes,omitempty"`
	Impact   *ImpactAnalysis `json:"impact,omitempty"`
}

// UpdateItem applies a partial update to an item, producing a field-level
// audit trail. The stored item is never mutated in place: a merged value is
// constructed and saved.
func (s *Service) UpdateItem(ctx context.Context, input UpdateItemInput) (UpdateItemResult, error) {
	if input.ItemID == "" {
		return UpdateItemResult{}, fmt.Errorf("item id: %w", ErrMissingField)
	}
	if input.ActorID == "" {
		return UpdateItemResult{}, fmt.Errorf("actor id: %w", ErrMissingField)
	}

	current, err := s.items.FindByID(ctx, input.ItemID)
	if err != nil {
		return UpdateItemResult{}, err
	}
	b, err := s.loadActiveBOM(ctx, current.BOMID)
	if err != nil {
		return UpdateItemResult{}, err
	}

	if err := validateUpdateRanges(current, input, s.clock()); err != nil {
		return UpdateItemResult{}, err
	}

	merged, changes := mergeItem(current, input)
	if len(changes) == 0 {
		return UpdateItemResult{}, ErrNothingToUpdate
	}

	if s.policy.isCriticalType(current.ComponentType) &&
		!current.IsOptional && input.IsOptional != nil && *input.IsOptional {
		return UpdateItemResult{}, ErrCriticalDemotion
	}

	if input.Quantity != nil && current.Quantity > 0 {
		rel := math.Abs(*input.Quantity-current.Quantity) / current.Quantity
		if rel > s.policy.UnforcedChangeLimit && !input.Force {
			return UpdateItemResult{}, fmt.Errorf("%.0f%% change: %w", rel*100, ErrChangeTooLarge)
		}
	}

	if blocked, warnings, err := s.usageGate(ctx, current.ID, changes, input.Force); err != nil {
		return UpdateItemResult{}, err
	} else if blocked {
		return UpdateItemResult{Blocked: true, Warnings: warnings, Item: current}, nil
	}

	now := s.clock()
	merged.UpdatedBy = input.ActorID
	merged.UpdatedAt = now

	if err := s.items.Save(ctx, merged); err != nil {
		return UpdateItemResult{}, fmt.Errorf("save item: %w", err)
	}
	s.touchBOM(ctx, b, input.ActorID)
	s.recordHistory(ctx, HistoryRecord{
		ID:         uuid.NewString(),
		BOMID:      b.ID,
		Action:     HistoryActionUpdateItem,
		EntityID:   merged.ID,
		Changes:    changes,
		ActorID:    input.ActorID,
		Reason:     input.Reason,
		OccurredAt: now,
	})
	s.enqueueRecalc(ctx, b.ID)

	result := UpdateItemResult{Item: merged, Changes: changes}
	if s.isCriticalChange(current, merged, changes) {
		impact, err := s.analyseImpact(ctx, current, merged)
		if err != nil {
			return UpdateItemResult{}, err
		}
		result.Impact = &impact
	}
	return result, nil
}

// usageGate consults the external usage checker. A referenced item whose
// changed fields touch quantity, unit cost or the optional flag is blocked
// unless forced; forcing converts the block into a warning.
func (s *Service) usageGate(ctx context.Context, itemID string, changes []FieldChange, force bool) (bool, []string, error) {
	if s.usage == nil {
		return false, nil, nil
	}
	report, err := s.usage.Usage(ctx, itemID)
	if err != nil {
		return false, nil, fmt.Errorf("usage check: %w", err)
	}
	if !report.InUse || !touchesGuardedFields(changes) {
		return false, nil, nil
	}
	warning := fmt.Sprintf("item is referenced by %d external consumer(s)", report.RefCount)
	if !force {
		return true, []string{warning, "set force to apply the change anyway"}, nil
	}
	return false, []string{warning + "; change forced"}, nil
}

func touchesGuardedFields(changes []FieldChange) bool {
	for _, c := range changes {
		switch c.Field {
		case FieldQuantity, FieldUnitCost, FieldIsOptional:
			return true
		}
	}
	return false
}

// isCriticalChange classifies an update as critical when it moves cost
// beyond the policy threshold or touches quantity, cost or the optional
// flag.
func (s *Service) isCriticalChange(before, after BOMItem, changes []FieldChange) bool {
	if math.Abs(after.TotalCost()-before.TotalCost()) >= s.policy.CriticalCostThreshold {
		return true
	}
	return touchesGuardedFields(changes)
}

// analyseImpact collects descendant items and grades the cost delta.
func (s *Service) analyseImpact(ctx context.Context, before, after BOMItem) (ImpactAnalysis, error) {
	descendants, err := s.items.FindAllDescendants(ctx, after.ID)
	if err != nil {
		return ImpactAnalysis{}, fmt.Errorf("collect descendants: %w", err)
	}
	affected := make([]string, 0, len(descendants))
	for _, d := range descendants {
		affected = append(affected, d.ID)
	}
	delta := after.TotalCost() - before.TotalCost()
	tier := ImpactLow
	switch abs := math.Abs(delta); {
	case abs >= s.policy.CriticalCostThreshold:
		tier = ImpactHigh
	case abs >= s.policy.CriticalCostThreshold/10:
		tier = ImpactMedium
	}
	var recs []string
	if tier == ImpactHigh {
		recs = append(recs, "review product costing before the next planning run")
	}
	if len(affected) > 0 {
		recs = append(recs, fmt.Sprintf("re-validate %d dependent item(s)", len(affected)))
	}
	return ImpactAnalysis{
		AffectedItemIDs: affected,
		CostDelta:       delta,
		Tier:            tier,
		Recommendations: recs,
	}, nil
}

// validateUpdateRanges holds requested values to the same bounds Add
// enforces. Date ordering is checked against the merged window, so an
// expiry-only or effective-only change cannot place expiry at or before
// the effective date.
func validateUpdateRanges(current BOMItem, input UpdateItemInput, now time.Time) error {
	if input.Quantity != nil && *input.Quantity <= 0 {
		return ErrQuantityNotPositive
	}
	if input.ScrapRate != nil && (*input.ScrapRate < 0 || *input.ScrapRate > 100) {
		return ErrScrapRateOutOfRange
	}
	if input.UnitCost != nil && *input.UnitCost < 0 {
		return ErrUnitCostNegative
	}
	if input.EffectiveDate != nil && input.EffectiveDate.After(now) {
		return ErrEffectiveDateInFuture
	}
	effective := current.EffectiveDate
	if input.EffectiveDate != nil {
		effective = *input.EffectiveDate
	}
	expiry := current.ExpiryDate
	if input.ExpiryDate != nil {
		expiry = input.ExpiryDate
	}
	if expiry != nil && !expiry.After(effective) {
		return ErrExpiryBeforeEffective
	}
	return nil
}

// mergeItem builds the updated item value and the list of fields that
// actually changed. Fields absent from the request or equal to the stored
// value do not count as changes.
func mergeItem(current BOMItem, input UpdateItemInput) (BOMItem, []FieldChange) {
	merged := current
	var changes []FieldChange

	if input.Quantity != nil && *input.Quantity != current.Quantity {
		changes = append(changes, FieldChange{Field: FieldQuantity, Old: current.Quantity, New: *input.Quantity})
		merged.Quantity = *input.Quantity
	}
	if input.Unit != nil && *input.Unit != current.Unit {
		changes = append(changes, FieldChange{Field: FieldUnit, Old: current.Unit, New: *input.Unit})
		merged.Unit = *input.Unit
	}
	if input.UnitCost != nil && *input.UnitCost != current.UnitCost {
		changes = append(changes, FieldChange{Field: FieldUnitCost, Old: current.UnitCost, New: *input.UnitCost})
		merged.UnitCost = *input.UnitCost
	}
	if input.ScrapRate != nil && *input.ScrapRate != current.ScrapRate {
		changes = append(changes, FieldChange{Field: FieldScrapRate, Old: current.ScrapRate, New: *input.ScrapRate})
		merged.ScrapRate = *input.ScrapRate
	}
	if input.IsOptional != nil && *input.IsOptional != current.IsOptional {
		changes = append(changes, FieldChange{Field: FieldIsOptional, Old: current.IsOptional, New: *input.IsOptional})
		merged.IsOptional = *input.IsOptional
	}
	if input.Position != nil && *input.Position != current.Position {
		changes = append(changes, FieldChange{Field: FieldPosition, Old: current.Position, New: *input.Position})
		merged.Position = *input.Position
	}
	if input.ProcessStep != nil && *input.ProcessStep != current.ProcessStep {
		changes = append(changes, FieldChange{Field: FieldProcessStep, Old: current.ProcessStep, New: *input.ProcessStep})
		merged.ProcessStep = *input.ProcessStep
	}
	if input.Remarks != nil && *input.Remarks != current.Remarks {
		changes = append(changes, FieldChange{Field: FieldRemarks, Old: current.Remarks, New: *input.Remarks})
		merged.Remarks = *input.Remarks
	}
	if input.EffectiveDate != nil && !input.EffectiveDate.Equal(current.EffectiveDate) {
		changes = append(changes, FieldChange{Field: FieldEffectiveDate, Old: current.EffectiveDate, New: *input.EffectiveDate})
		merged.EffectiveDate = *input.EffectiveDate
	}
	if input.ExpiryDate != nil && (current.ExpiryDate == nil || !input.ExpiryDate.Equal(*current.ExpiryDate)) {
		var old any
		if current.ExpiryDate != nil {
			old = *current.ExpiryDate
		}
		changes = append(changes, FieldChange{Field: FieldExpiryDate, Old: old, New: *input.ExpiryDate})
		merged.ExpiryDate = input.ExpiryDate
	}
	return merged, changes
}
