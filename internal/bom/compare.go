package bom

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// CompareOptions tune the diff. CompareToLevel below zero disables the level
// cutoff; IgnoreFields suppresses specific field comparisons by name.
type CompareOptions struct {
	IgnoreInactiveItems       bool
	IgnoreOptionalItems       bool
	IgnoreMinorCostChanges    bool
	MinorCostThreshold        float64
	CompareToLevel            int
	IgnoreFields              []string
	IncludeCostImpactAnalysis bool
	IncludeStructuralAnalysis bool
}

// DefaultCompareOptions compares everything with structural and cost
// analysis enabled.
func DefaultCompareOptions() CompareOptions {
	return CompareOptions{
		CompareToLevel:            -1,
		IncludeCostImpactAnalysis: true,
		IncludeStructuralAnalysis: true,
	}
}

// SignificanceTier grades one change by its absolute cost impact.
type SignificanceTier string

const (
	SignificanceLow    SignificanceTier = "LOW"
	SignificanceMedium SignificanceTier = "MEDIUM"
	SignificanceHigh   SignificanceTier = "HIGH"
)

// ComplexityTier grades the comparison as a whole.
type ComplexityTier string

const (
	ComplexityLow    ComplexityTier = "LOW"
	ComplexityMedium ComplexityTier = "MEDIUM"
	ComplexityHigh   ComplexityTier = "HIGH"
)

// Significance cutoffs and confidence deductions. Policy constants carried
// over from established review practice, not derived values.
const (
	significanceHighCost   = 1000.0
	significanceMediumCost = 100.0
	// Deleting a component is riskier than adding one of the same
	// magnitude; removals are weighted up before tiering.
	removalWeight = 1.5

	confidenceStructuralPenalty = 20
	confidenceCostSwingPenalty  = 15
	confidenceVolumePenalty     = 10
	costSwingLimitPercent       = 50.0
)

// ItemSnapshot is the flat, version-independent projection of one item.
// Items match across versions by component code plus ancestor path, because
// item identities differ between BOM versions.
type ItemSnapshot struct {
	ComponentID   string        `json:"component_id"`
	ComponentCode string        `json:"component_code"`
	ComponentName string        `json:"component_name"`
	ComponentType ComponentType `json:"component_type"`
	Level         int           `json:"level"`
	Sequence      int           `json:"sequence"`
	Quantity      float64       `json:"quantity"`
	UnitCost      float64       `json:"unit_cost"`
	ScrapRate     float64       `json:"scrap_rate"`
	IsOptional    bool          `json:"is_optional"`
	Position      string        `json:"position,omitempty"`
	ProcessStep   string        `json:"process_step,omitempty"`
	Remarks       string        `json:"remarks,omitempty"`
	AncestorPath  string        `json:"ancestor_path"`
	TotalCost     float64       `json:"total_cost"`
}

// Key is the cross-version matching key.
func (s ItemSnapshot) Key() string {
	return s.ComponentCode + "|" + s.AncestorPath
}

// FieldDiff is one differing field on a matched item.
type FieldDiff struct {
	Field  string `json:"field"`
	Source any    `json:"source"`
	Target any    `json:"target"`
}

// StructuralChange reports a position change of a matched item.
type StructuralChange struct {
	Kind   string     `json:"kind"` // "level", "path" or "sequence"
	Source any        `json:"source"`
	Target any        `json:"target"`
	Impact ImpactTier `json:"impact"`
}

// ItemDiff is one added, removed or modified item in a comparison.
type ItemDiff struct {
	Key           string             `json:"key"`
	ComponentCode string             `json:"component_code"`
	Source        *ItemSnapshot      `json:"source,omitempty"`
	Target        *ItemSnapshot      `json:"target,omitempty"`
	Fields        []FieldDiff        `json:"fields,omitempty"`
	Structural    []StructuralChange `json:"structural,omitempty"`
	CostImpact    float64            `json:"cost_impact"`
	Significance  SignificanceTier   `json:"significance"`
}

// CompareResult is the full diff between two BOM trees.
type CompareResult struct {
	SourceBOMID      string         `json:"source_bom_id"`
	TargetBOMID      string         `json:"target_bom_id"`
	Added            []ItemDiff     `json:"added"`
	Removed          []ItemDiff     `json:"removed"`
	Modified         []ItemDiff     `json:"modified"`
	UnchangedCount   int            `json:"unchanged_count"`
	TotalCostDelta   float64        `json:"total_cost_delta"`
	CostDeltaPercent float64        `json:"cost_delta_percent"`
	Complexity       ComplexityTier `json:"complexity"`
	Confidence       int            `json:"confidence"`
	Recommendations  []string       `json:"recommendations,omitempty"`
}

// Compare produces a structural and cost diff between two BOM trees. The
// actor is recorded on the comparison's history entry.
func (s *Service) Compare(ctx context.Context, sourceBOMID, targetBOMID, actorID string, opts CompareOptions) (CompareResult, error) {
	if sourceBOMID == "" || targetBOMID == "" {
		return CompareResult{}, fmt.Errorf("source and target bom ids: %w", ErrMissingField)
	}
	if sourceBOMID == targetBOMID {
		return CompareResult{}, ErrSameBOM
	}

	var sourceSnaps, targetSnaps map[string]ItemSnapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sourceSnaps, err = s.snapshot(gctx, sourceBOMID, opts)
		return err
	})
	g.Go(func() error {
		var err error
		targetSnaps, err = s.snapshot(gctx, targetBOMID, opts)
		return err
	})
	if err := g.Wait(); err != nil {
		return CompareResult{}, err
	}

	result := CompareResult{SourceBOMID: sourceBOMID, TargetBOMID: targetBOMID}

	for key, target := range targetSnaps {
		if _, ok := sourceSnaps[key]; ok {
			continue
		}
		t := target
		result.Added = append(result.Added, s.classifyDiff(ItemDiff{
			Key:           key,
			ComponentCode: t.ComponentCode,
			Target:        &t,
			CostImpact:    t.TotalCost,
		}, false))
	}
	for key, source := range sourceSnaps {
		if _, ok := targetSnaps[key]; !ok {
			src := source
			result.Removed = append(result.Removed, s.classifyDiff(ItemDiff{
				Key:           key,
				ComponentCode: src.ComponentCode,
				Source:        &src,
				CostImpact:    -src.TotalCost,
			}, true))
			continue
		}
		src := source
		tgt := targetSnaps[key]
		fields := diffFields(src, tgt, opts)
		var structural []StructuralChange
		if opts.IncludeStructuralAnalysis {
			structural = diffStructure(src, tgt)
		}
		if len(fields) == 0 && len(structural) == 0 {
			result.UnchangedCount++
			continue
		}
		result.Modified = append(result.Modified, s.classifyDiff(ItemDiff{
			Key:           key,
			ComponentCode: src.ComponentCode,
			Source:        &src,
			Target:        &tgt,
			Fields:        fields,
			Structural:    structural,
			CostImpact:    tgt.TotalCost - src.TotalCost,
		}, false))
	}

	sortDiffs(result.Added)
	sortDiffs(result.Removed)
	sortDiffs(result.Modified)

	if opts.IncludeCostImpactAnalysis {
		sourceTotal := snapshotTotal(sourceSnaps)
		targetTotal := snapshotTotal(targetSnaps)
		result.TotalCostDelta = targetTotal - sourceTotal
		result.CostDeltaPercent = percentChange(sourceTotal, targetTotal)
	}

	structuralCount := 0
	for _, m := range result.Modified {
		structuralCount += len(m.Structural)
	}
	changeCount := len(result.Added) + len(result.Removed) + len(result.Modified)
	result.Complexity = classifyComplexity(changeCount, structuralCount)
	result.Confidence = scoreConfidence(changeCount, structuralCount, result.CostDeltaPercent)
	result.Recommendations = compareRecommendations(result)

	s.recordHistory(ctx, HistoryRecord{
		ID:       uuid.NewString(),
		BOMID:    sourceBOMID,
		Action:   HistoryActionCompare,
		EntityID: targetBOMID,
		Changes: []FieldChange{
			{Field: "added", New: len(result.Added)},
			{Field: "removed", New: len(result.Removed)},
			{Field: "modified", New: len(result.Modified)},
		},
		ActorID:    actorID,
		OccurredAt: s.clock(),
	})
	return result, nil
}

// snapshot flattens a BOM into keyed item snapshots with ancestor paths.
func (s *Service) snapshot(ctx context.Context, bomID string, opts CompareOptions) (map[string]ItemSnapshot, error) {
	if _, err := s.boms.FindByID(ctx, bomID); err != nil {
		return nil, err
	}
	items, err := s.items.FindByBOMID(ctx, bomID)
	if err != nil {
		return nil, fmt.Errorf("load items for %s: %w", bomID, err)
	}

	byID := make(map[string]BOMItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}

	// Resolve each distinct component once.
	codes := make(map[string]ProductInfo)
	lookup := func(componentID string) ProductInfo {
		if info, ok := codes[componentID]; ok {
			return info
		}
		info, err := s.products.Get(ctx, componentID)
		if err != nil {
			info = ProductInfo{ID: componentID, Code: componentID}
		}
		codes[componentID] = info
		return info
	}

	snaps := make(map[string]ItemSnapshot)
	for _, item := range items {
		if !item.IsActive && opts.IgnoreInactiveItems {
			continue
		}
		if item.IsOptional && opts.IgnoreOptionalItems {
			continue
		}
		if opts.CompareToLevel >= 0 && item.Level > opts.CompareToLevel {
			continue
		}
		info := lookup(item.ComponentID)
		snap := ItemSnapshot{
			ComponentID:   item.ComponentID,
			ComponentCode: info.Code,
			ComponentName: info.Name,
			ComponentType: item.ComponentType,
			Level:         item.Level,
			Sequence:      item.Sequence,
			Quantity:      item.Quantity,
			UnitCost:      item.UnitCost,
			ScrapRate:     item.ScrapRate,
			IsOptional:    item.IsOptional,
			Position:      item.Position,
			ProcessStep:   item.ProcessStep,
			Remarks:       item.Remarks,
			AncestorPath:  ancestorPath(item, byID, lookup),
			TotalCost:     item.TotalCost(),
		}
		snaps[snap.Key()] = snap
	}
	return snaps, nil
}

// ancestorPath joins the component codes from the root down to the item's
// parent. A visited set tolerates malformed cyclic parent chains.
func ancestorPath(item BOMItem, byID map[string]BOMItem, lookup func(string) ProductInfo) string {
	var codes []string
	visited := make(map[string]struct{})
	currentID := item.ParentItemID
	for currentID != "" {
		if _, seen := visited[currentID]; seen {
			break
		}
		visited[currentID] = struct{}{}
		parent, ok := byID[currentID]
		if !ok {
			break
		}
		codes = append(codes, lookup(parent.ComponentID).Code)
		currentID = parent.ParentItemID
	}
	// codes were collected leaf-upward; reverse for root-first order.
	for i, j := 0, len(codes)-1; i < j; i, j = i+1, j-1 {
		codes[i], codes[j] = codes[j], codes[i]
	}
	return strings.Join(codes, "/")
}

func diffFields(src, tgt ItemSnapshot, opts CompareOptions) []FieldDiff {
	ignored := make(map[string]struct{}, len(opts.IgnoreFields))
	for _, f := range opts.IgnoreFields {
		ignored[f] = struct{}{}
	}
	var diffs []FieldDiff
	add := func(field string, source, target any) {
		if _, skip := ignored[field]; skip {
			return
		}
		diffs = append(diffs, FieldDiff{Field: field, Source: source, Target: target})
	}

	if src.Quantity != tgt.Quantity {
		add(FieldQuantity, src.Quantity, tgt.Quantity)
	}
	if src.UnitCost != tgt.UnitCost {
		minor := opts.IgnoreMinorCostChanges && math.Abs(tgt.UnitCost-src.UnitCost) < opts.MinorCostThreshold
		if !minor {
			add(FieldUnitCost, src.UnitCost, tgt.UnitCost)
		}
	}
	if src.ScrapRate != tgt.ScrapRate {
		add(FieldScrapRate, src.ScrapRate, tgt.ScrapRate)
	}
	if src.IsOptional != tgt.IsOptional {
		add(FieldIsOptional, src.IsOptional, tgt.IsOptional)
	}
	if src.Position != tgt.Position {
		add(FieldPosition, src.Position, tgt.Position)
	}
	if src.ProcessStep != tgt.ProcessStep {
		add(FieldProcessStep, src.ProcessStep, tgt.ProcessStep)
	}
	return diffs
}

// diffStructure reports level, ancestor-path and sequence changes. A level
// jump beyond one step or any path change is high impact; a sequence-only
// shuffle is low.
func diffStructure(src, tgt ItemSnapshot) []StructuralChange {
	var changes []StructuralChange
	if src.Level != tgt.Level {
		impact := ImpactMedium
		if abs(src.Level-tgt.Level) > 1 {
			impact = ImpactHigh
		}
		changes = append(changes, StructuralChange{Kind: FieldLevel, Source: src.Level, Target: tgt.Level, Impact: impact})
	}
	if src.AncestorPath != tgt.AncestorPath {
		changes = append(changes, StructuralChange{Kind: "path", Source: src.AncestorPath, Target: tgt.AncestorPath, Impact: ImpactHigh})
	}
	if src.Sequence != tgt.Sequence {
		changes = append(changes, StructuralChange{Kind: FieldSequence, Source: src.Sequence, Target: tgt.Sequence, Impact: ImpactLow})
	}
	return changes
}

// classifyDiff assigns the significance tier from the absolute cost impact.
// Removals are weighted heavier than additions or modifications.
func (s *Service) classifyDiff(diff ItemDiff, removal bool) ItemDiff {
	impact := math.Abs(diff.CostImpact)
	if removal {
		impact *= removalWeight
	}
	switch {
	case impact >= significanceHighCost:
		diff.Significance = SignificanceHigh
	case impact >= significanceMediumCost:
		diff.Significance = SignificanceMedium
	default:
		diff.Significance = SignificanceLow
	}
	return diff
}

func classifyComplexity(changeCount, structuralCount int) ComplexityTier {
	switch {
	case changeCount < 5 && structuralCount == 0:
		return ComplexityLow
	case changeCount < 20 && structuralCount < 5:
		return ComplexityMedium
	default:
		return ComplexityHigh
	}
}

// scoreConfidence starts at 100 and deducts when structural changes dominate
// the change set, the cost swing is extreme, or the sheer change volume is
// large.
func scoreConfidence(changeCount, structuralCount int, costDeltaPercent float64) int {
	confidence := 100
	if changeCount > 0 && structuralCount*2 > changeCount {
		confidence -= confidenceStructuralPenalty
	}
	if math.Abs(costDeltaPercent) > costSwingLimitPercent {
		confidence -= confidenceCostSwingPenalty
	}
	if changeCount > 50 {
		confidence -= confidenceVolumePenalty
	}
	if confidence < 0 {
		confidence = 0
	}
	return confidence
}

func compareRecommendations(result CompareResult) []string {
	var recs []string
	highCount := 0
	for _, set := range [][]ItemDiff{result.Added, result.Removed, result.Modified} {
		for _, d := range set {
			if d.Significance == SignificanceHigh {
				highCount++
			}
		}
	}
	if highCount > 5 {
		recs = append(recs, "more than five high-significance changes: schedule a cross-team review")
	}
	if math.Abs(result.CostDeltaPercent) > 25 {
		recs = append(recs, "cost moved more than 25%: revalidate product costing")
	}
	if len(result.Removed) > len(result.Added) {
		recs = append(recs, "net component removal: confirm replacements or scope reduction with engineering")
	}
	return recs
}

func snapshotTotal(snaps map[string]ItemSnapshot) float64 {
	total := 0.0
	for _, s := range snaps {
		total += s.TotalCost
	}
	return total
}

func sortDiffs(diffs []ItemDiff) {
	sort.Slice(diffs, func(i, j int) bool { return diffs[i].Key < diffs[j].Key })
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
