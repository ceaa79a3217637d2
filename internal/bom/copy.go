package bom

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// CopyOptions filter and transform the items carried into the new version.
// All predicates are ANDed. CopyToLevel below zero disables the level cutoff.
type CopyOptions struct {
	IncludeInactiveItems bool
	IncludeOptionalItems bool
	AdjustCosts          bool
	CostAdjustmentRate   float64
	CopyToLevel          int
	ComponentTypes       []ComponentType
	ProcessSteps         []string
	// PreserveStructure skips items whose parent was filtered out. When
	// false such items are re-parented as new roots instead.
	PreserveStructure    bool
	UpdateEffectiveDates bool
}

// DefaultCopyOptions copies every active required item with structure
// preserved and no cost adjustment.
func DefaultCopyOptions() CopyOptions {
	return CopyOptions{CopyToLevel: -1, PreserveStructure: true, IncludeOptionalItems: true}
}

// CopyInput describes a version copy.
type CopyInput struct {
	SourceBOMID     string
	TargetProductID string
	NewVersion      string
	Options         CopyOptions
	EffectiveDate   time.Time
	ExpiryDate      *time.Time
	Description     string
	ActorID         string
	Reason          string
}

// CopyStats reports what the copy did. Filtered-out and structurally
// skipped items are counted, never silently dropped from the response:
// CopiedCount + SkippedCount == FilteredItemCount always holds.
type CopyStats struct {
	SourceItemCount   int                   `json:"source_item_count"`
	FilteredItemCount int                   `json:"filtered_item_count"`
	ExcludedByFilter  int                   `json:"excluded_by_filter"`
	CopiedCount       int                   `json:"copied_count"`
	SkippedCount      int                   `json:"skipped_count"`
	ItemsPerLevel     map[int]int           `json:"items_per_level"`
	ItemsPerType      map[ComponentType]int `json:"items_per_type"`
	ItemsPerStep      map[string]int        `json:"items_per_step,omitempty"`
	OriginalTotalCost float64               `json:"original_total_cost"`
	NewTotalCost      float64               `json:"new_total_cost"`
	CostChangePercent float64               `json:"cost_change_percent"`
	CostAdjustedCount int                   `json:"cost_adjusted_count"`
}

// CopyResult returns the created BOM, statistics and warnings.
type CopyResult struct {
	BOM      BOM       `json:"bom"`
	Stats    CopyStats `json:"stats"`
	Warnings []string  `json:"warnings,omitempty"`
}

// Copy clones a filtered subset of the source BOM's items into a new BOM
// version for the target product, remapping parent-child ids and optionally
// adjusting costs.
func (s *Service) Copy(ctx context.Context, input CopyInput) (CopyResult, error) {
	switch {
	case input.SourceBOMID == "":
		return CopyResult{}, fmt.Errorf("source bom id: %w", ErrMissingField)
	case input.TargetProductID == "":
		return CopyResult{}, fmt.Errorf("target product id: %w", ErrMissingField)
	case input.NewVersion == "":
		return CopyResult{}, fmt.Errorf("new version: %w", ErrMissingField)
	case input.ActorID == "":
		return CopyResult{}, fmt.Errorf("actor id: %w", ErrMissingField)
	}

	source, err := s.boms.FindByID(ctx, input.SourceBOMID)
	if err != nil {
		return CopyResult{}, err
	}
	if _, err := s.products.Get(ctx, input.TargetProductID); err != nil {
		return CopyResult{}, err
	}
	canHost, err := s.products.CanHostBOM(ctx, input.TargetProductID)
	if err != nil {
		return CopyResult{}, fmt.Errorf("target product check: %w", err)
	}
	if !canHost {
		return CopyResult{}, ErrProductCannotHostBOM
	}
	if _, err := s.boms.FindByProductIDAndVersion(ctx, input.TargetProductID, input.NewVersion); err == nil {
		return CopyResult{}, ErrDuplicateVersion
	} else if !errors.Is(err, ErrBOMNotFound) {
		return CopyResult{}, fmt.Errorf("version check: %w", err)
	}

	sourceItems, err := s.items.FindByBOMID(ctx, input.SourceBOMID)
	if err != nil {
		return CopyResult{}, fmt.Errorf("load source items: %w", err)
	}

	filtered := filterCopyItems(sourceItems, input.Options)
	if len(filtered) == 0 {
		return CopyResult{}, ErrNoItemsToCopy
	}

	now := s.clock()
	effective := orNow(input.EffectiveDate, now)
	newBOM := BOM{
		ID:            uuid.NewString(),
		ProductID:     input.TargetProductID,
		Version:       input.NewVersion,
		IsActive:      true,
		EffectiveDate: effective,
		ExpiryDate:    input.ExpiryDate,
		Description:   input.Description,
		CreatedBy:     input.ActorID,
		UpdatedBy:     input.ActorID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.boms.Save(ctx, newBOM); err != nil {
		return CopyResult{}, fmt.Errorf("save new bom: %w", err)
	}

	// Parents must exist before their children, so clone level-ascending.
	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].Level != filtered[j].Level {
			return filtered[i].Level < filtered[j].Level
		}
		return filtered[i].Sequence < filtered[j].Sequence
	})

	stats := CopyStats{
		SourceItemCount:   len(sourceItems),
		FilteredItemCount: len(filtered),
		ExcludedByFilter:  len(sourceItems) - len(filtered),
		ItemsPerLevel:     make(map[int]int),
		ItemsPerType:      make(map[ComponentType]int),
		ItemsPerStep:      make(map[string]int),
	}
	var warnings []string
	idMap := make(map[string]string, len(filtered))
	var copied []BOMItem

	for _, src := range filtered {
		parentID := ""
		level := src.Level
		if src.ParentItemID != "" {
			mapped, ok := idMap[src.ParentItemID]
			if !ok {
				if input.Options.PreserveStructure {
					stats.SkippedCount++
					continue
				}
				// Orphaned by the filter: promote to root.
				level = 0
			} else {
				parentID = mapped
			}
		}

		clone := src
		clone.ID = uuid.NewString()
		clone.BOMID = newBOM.ID
		clone.ParentItemID = parentID
		clone.Level = level
		clone.CreatedBy = input.ActorID
		clone.UpdatedBy = input.ActorID
		clone.CreatedAt = now
		clone.UpdatedAt = now
		if input.Options.AdjustCosts {
			clone.UnitCost = adjustUnitCost(src.UnitCost, input.Options.CostAdjustmentRate)
			stats.CostAdjustedCount++
		}
		if input.Options.UpdateEffectiveDates {
			clone.EffectiveDate = effective
		}
		if err := s.items.Save(ctx, clone); err != nil {
			return CopyResult{}, fmt.Errorf("save copied item: %w", err)
		}
		idMap[src.ID] = clone.ID
		copied = append(copied, clone)
		stats.CopiedCount++
		stats.ItemsPerLevel[clone.Level]++
		stats.ItemsPerType[clone.ComponentType]++
		if clone.ProcessStep != "" {
			stats.ItemsPerStep[clone.ProcessStep]++
		}
	}

	stats.OriginalTotalCost = sumLineTotals(filtered)
	stats.NewTotalCost = sumLineTotals(copied)
	stats.CostChangePercent = percentChange(stats.OriginalTotalCost, stats.NewTotalCost)

	if stats.ExcludedByFilter > 0 {
		warnings = append(warnings, fmt.Sprintf("%d item(s) excluded by filter", stats.ExcludedByFilter))
	}
	if stats.SkippedCount > 0 {
		warnings = append(warnings, fmt.Sprintf("%d item(s) skipped because their parent was filtered out", stats.SkippedCount))
	}
	if input.Options.AdjustCosts {
		warnings = append(warnings, fmt.Sprintf("all copied costs adjusted by %.2f%%", input.Options.CostAdjustmentRate))
	}

	totals := computeTotals(copied)
	newBOM.ItemCount = totals.ItemCount
	newBOM.TotalCost = totals.TotalCost
	newBOM.MaxLevel = totals.MaxLevel
	if err := s.boms.Save(ctx, newBOM); err != nil {
		return CopyResult{}, fmt.Errorf("save bom totals: %w", err)
	}

	s.recordHistory(ctx, HistoryRecord{
		ID:       uuid.NewString(),
		BOMID:    newBOM.ID,
		Action:   HistoryActionCopy,
		EntityID: source.ID,
		Changes: []FieldChange{
			{Field: "source_bom_id", New: source.ID},
			{Field: "copied_count", New: stats.CopiedCount},
			{Field: "skipped_count", New: stats.SkippedCount},
		},
		ActorID:    input.ActorID,
		Reason:     input.Reason,
		OccurredAt: now,
	})
	s.clearCycleCache(ctx)
	s.enqueueRecalc(ctx, newBOM.ID)

	return CopyResult{BOM: newBOM, Stats: stats, Warnings: warnings}, nil
}

func filterCopyItems(items []BOMItem, opts CopyOptions) []BOMItem {
	var filtered []BOMItem
	for _, item := range items {
		if !item.IsActive && !opts.IncludeInactiveItems {
			continue
		}
		if item.IsOptional && !opts.IncludeOptionalItems {
			continue
		}
		if opts.CopyToLevel >= 0 && item.Level > opts.CopyToLevel {
			continue
		}
		if len(opts.ComponentTypes) > 0 && !containsType(opts.ComponentTypes, item.ComponentType) {
			continue
		}
		if len(opts.ProcessSteps) > 0 && !containsID(opts.ProcessSteps, item.ProcessStep) {
			continue
		}
		filtered = append(filtered, item)
	}
	return filtered
}

func containsType(types []ComponentType, t ComponentType) bool {
	for _, ct := range types {
		if ct == t {
			return true
		}
	}
	return false
}
