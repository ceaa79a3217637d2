package bom

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// updateFixture seeds one BOM with a root item (qty 100, cost 2, scrap 0)
// and a child under it.
func updateFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture()
	f.products.add("P1", "FG-01", "Pump", true)
	f.products.add("C1", "RM-01", "Steel Rod", true)
	f.products.add("C2", "PU-01", "Bearing", true)
	f.seedBOM("b1", "P1", "v1")
	f.seedItem(BOMItem{ID: "i1", BOMID: "b1", ComponentID: "C1", Quantity: 100, UnitCost: 2, Sequence: 1})
	f.seedItem(BOMItem{ID: "i2", BOMID: "b1", ComponentID: "C2", ParentItemID: "i1", Level: 1, Quantity: 1, UnitCost: 5, Sequence: 1})
	return f
}

func TestUpdateItemRequiresIdentifiers(t *testing.T) {
	f := updateFixture(t)
	ctx := context.Background()

	_, err := f.service.UpdateItem(ctx, UpdateItemInput{ActorID: "u1"})
	require.ErrorIs(t, err, ErrMissingField)
	_, err = f.service.UpdateItem(ctx, UpdateItemInput{ItemID: "i1"})
	require.ErrorIs(t, err, ErrMissingField)
}

func TestUpdateItemNothingToUpdate(t *testing.T) {
	f := updateFixture(t)
	ctx := context.Background()

	// No fields at all.
	_, err := f.service.UpdateItem(ctx, UpdateItemInput{ItemID: "i1", ActorID: "u1"})
	require.ErrorIs(t, err, ErrNothingToUpdate)

	// A field equal to the stored value is not a change.
	_, err = f.service.UpdateItem(ctx, UpdateItemInput{ItemID: "i1", ActorID: "u1", Quantity: ptr(100.0)})
	require.ErrorIs(t, err, ErrNothingToUpdate)
}

func TestUpdateItemRangeValidation(t *testing.T) {
	f := updateFixture(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		input   UpdateItemInput
		wantErr error
	}{
		{"zero quantity", UpdateItemInput{ItemID: "i1", ActorID: "u1", Quantity: ptr(0.0)}, ErrQuantityNotPositive},
		{"scrap out of range", UpdateItemInput{ItemID: "i1", ActorID: "u1", ScrapRate: ptr(120.0)}, ErrScrapRateOutOfRange},
		{"negative cost", UpdateItemInput{ItemID: "i1", ActorID: "u1", UnitCost: ptr(-1.0)}, ErrUnitCostNegative},
		{"future effective", UpdateItemInput{ItemID: "i1", ActorID: "u1", EffectiveDate: ptr(f.now.Add(time.Hour))}, ErrEffectiveDateInFuture},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.service.UpdateItem(ctx, tc.input)
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestUpdateItemDateWindowAgainstStoredValues(t *testing.T) {
	f := updateFixture(t)
	ctx := context.Background()

	// i1's stored effective date is one day before the fixture clock. An
	// expiry-only update must be checked against it.
	_, err := f.service.UpdateItem(ctx, UpdateItemInput{
		ItemID: "i1", ActorID: "u1", ExpiryDate: ptr(f.now.Add(-48 * time.Hour)),
	})
	require.ErrorIs(t, err, ErrExpiryBeforeEffective)
	require.Nil(t, f.items.items["i1"].ExpiryDate)

	// The symmetric case: an effective-only update may not move past a
	// stored expiry.
	f.seedItem(BOMItem{
		ID: "i3", BOMID: "b1", ComponentID: "C2", Quantity: 1, UnitCost: 1,
		Sequence: 2, ExpiryDate: ptr(f.now.Add(-time.Hour)),
	})
	_, err = f.service.UpdateItem(ctx, UpdateItemInput{
		ItemID: "i3", ActorID: "u1", EffectiveDate: ptr(f.now),
	})
	require.ErrorIs(t, err, ErrExpiryBeforeEffective)

	// A consistent expiry-only update still goes through.
	res, err := f.service.UpdateItem(ctx, UpdateItemInput{
		ItemID: "i1", ActorID: "u1", ExpiryDate: ptr(f.now.Add(24 * time.Hour)),
	})
	require.NoError(t, err)
	require.Len(t, res.Changes, 1)
	require.Equal(t, FieldExpiryDate, res.Changes[0].Field)
	require.NotNil(t, f.items.items["i1"].ExpiryDate)
}

func TestUpdateItemRejectsInactiveBOM(t *testing.T) {
	f := updateFixture(t)
	b := f.boms.boms["b1"]
	b.IsActive = false
	f.boms.boms["b1"] = b

	_, err := f.service.UpdateItem(context.Background(), UpdateItemInput{
		ItemID: "i1", ActorID: "u1", Quantity: ptr(120.0),
	})
	require.ErrorIs(t, err, ErrBOMInactive)
}

func TestUpdateItemQuantityLimit(t *testing.T) {
	f := updateFixture(t)
	ctx := context.Background()

	// 100 -> 160 is a 60% change, above the 50% limit.
	_, err := f.service.UpdateItem(ctx, UpdateItemInput{
		ItemID: "i1", ActorID: "u1", Quantity: ptr(160.0),
	})
	require.ErrorIs(t, err, ErrChangeTooLarge)
	require.Equal(t, 100.0, f.items.items["i1"].Quantity)

	// Force overrides the limit and the change lands with a diff entry.
	res, err := f.service.UpdateItem(ctx, UpdateItemInput{
		ItemID: "i1", ActorID: "u1", Quantity: ptr(160.0), Force: true,
	})
	require.NoError(t, err)
	require.False(t, res.Blocked)
	require.Equal(t, 160.0, res.Item.Quantity)
	require.Contains(t, res.Changes, FieldChange{Field: FieldQuantity, Old: 100.0, New: 160.0})
	require.Equal(t, 160.0, f.items.items["i1"].Quantity)

	// 100 -> 140 is within the limit and needs no force.
	f.items.items["i1"] = f.seedItem(BOMItem{ID: "i1", BOMID: "b1", ComponentID: "C1", Quantity: 100, UnitCost: 2, Sequence: 1})
	_, err = f.service.UpdateItem(ctx, UpdateItemInput{
		ItemID: "i1", ActorID: "u1", Quantity: ptr(140.0),
	})
	require.NoError(t, err)
}

func TestUpdateItemCriticalDemotion(t *testing.T) {
	f := updateFixture(t)
	f.products.add("C3", "SA-01", "Motor Assembly", true)
	f.seedItem(BOMItem{ID: "i3", BOMID: "b1", ComponentID: "C3", ComponentType: ComponentTypeSubAssembly, Quantity: 1, UnitCost: 50, Sequence: 2})

	_, err := f.service.UpdateItem(context.Background(), UpdateItemInput{
		ItemID: "i3", ActorID: "u1", IsOptional: ptr(true),
	})
	require.ErrorIs(t, err, ErrCriticalDemotion)

	// A non-critical type may be demoted freely.
	res, err := f.service.UpdateItem(context.Background(), UpdateItemInput{
		ItemID: "i2", ActorID: "u1", IsOptional: ptr(true),
	})
	require.NoError(t, err)
	require.True(t, res.Item.IsOptional)
}

func TestUpdateItemUsageGateBlocksWithoutForce(t *testing.T) {
	f := updateFixture(t)
	f.usage.reports = map[string]UsageReport{
		"i1": {InUse: true, RefCount: 3},
	}

	res, err := f.service.UpdateItem(context.Background(), UpdateItemInput{
		ItemID: "i1", ActorID: "u1", Quantity: ptr(120.0),
	})
	require.NoError(t, err)
	require.True(t, res.Blocked)
	require.Contains(t, res.Warnings, "item is referenced by 3 external consumer(s)")
	require.Contains(t, res.Warnings, "set force to apply the change anyway")

	// Nothing was written.
	require.Equal(t, 100.0, f.items.items["i1"].Quantity)
	require.Empty(t, f.history.byAction(HistoryActionUpdateItem))
	require.Empty(t, f.recalc.enqueued)
}

func TestUpdateItemUsageGateForcedCarriesWarning(t *testing.T) {
	f := updateFixture(t)
	f.usage.reports = map[string]UsageReport{
		"i1": {InUse: true, RefCount: 2},
	}

	res, err := f.service.UpdateItem(context.Background(), UpdateItemInput{
		ItemID: "i1", ActorID: "u1", Quantity: ptr(120.0), Force: true,
	})
	require.NoError(t, err)
	require.False(t, res.Blocked)
	require.Contains(t, res.Warnings, "item is referenced by 2 external consumer(s); change forced")
	require.Equal(t, 120.0, f.items.items["i1"].Quantity)
}

func TestUpdateItemUsageGateIgnoresUnguardedFields(t *testing.T) {
	f := updateFixture(t)
	f.usage.reports = map[string]UsageReport{
		"i1": {InUse: true, RefCount: 5},
	}

	// Remarks do not affect external consumers.
	res, err := f.service.UpdateItem(context.Background(), UpdateItemInput{
		ItemID: "i1", ActorID: "u1", Remarks: ptr("verified supplier"),
	})
	require.NoError(t, err)
	require.False(t, res.Blocked)
	require.Empty(t, res.Warnings)
	require.Equal(t, "verified supplier", f.items.items["i1"].Remarks)
}

func TestUpdateItemImpactAnalysis(t *testing.T) {
	f := updateFixture(t)
	ctx := context.Background()

	// Cost delta 1800 crosses the 1000 threshold: high impact, with the
	// child item listed as affected.
	res, err := f.service.UpdateItem(ctx, UpdateItemInput{
		ItemID: "i1", ActorID: "u1", UnitCost: ptr(20.0),
	})
	require.NoError(t, err)
	require.NotNil(t, res.Impact)
	require.Equal(t, ImpactHigh, res.Impact.Tier)
	require.InDelta(t, 1800.0, res.Impact.CostDelta, 1e-9)
	require.Equal(t, []string{"i2"}, res.Impact.AffectedItemIDs)
	require.Contains(t, res.Impact.Recommendations, "review product costing before the next planning run")
	require.Contains(t, res.Impact.Recommendations, "re-validate 1 dependent item(s)")

	// Delta 120 lands in the medium band (>= threshold/10).
	res, err = f.service.UpdateItem(ctx, UpdateItemInput{
		ItemID: "i2", ActorID: "u1", UnitCost: ptr(125.0),
	})
	require.NoError(t, err)
	require.NotNil(t, res.Impact)
	require.Equal(t, ImpactMedium, res.Impact.Tier)
}

func TestUpdateItemWritesHistoryWithDiff(t *testing.T) {
	f := updateFixture(t)

	_, err := f.service.UpdateItem(context.Background(), UpdateItemInput{
		ItemID: "i1", ActorID: "u1", Reason: "supplier change",
		Quantity: ptr(110.0), UnitCost: ptr(2.5),
	})
	require.NoError(t, err)

	records := f.history.byAction(HistoryActionUpdateItem)
	require.Len(t, records, 1)
	require.Equal(t, "b1", records[0].BOMID)
	require.Equal(t, "i1", records[0].EntityID)
	require.Equal(t, "supplier change", records[0].Reason)
	require.ElementsMatch(t, []FieldChange{
		{Field: FieldQuantity, Old: 100.0, New: 110.0},
		{Field: FieldUnitCost, Old: 2.0, New: 2.5},
	}, records[0].Changes)
	require.Equal(t, []string{"b1"}, f.recalc.enqueued)
}
