package bom

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func addFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture()
	f.products.add("P1", "FG-01", "Pump", true)
	f.products.add("C1", "RM-01", "Steel Rod", true)
	f.products.add("C2", "PU-01", "Bearing", true)
	f.products.add("C3", "SA-01", "Motor Assembly", true)
	f.seedBOM("b1", "P1", "v1")
	return f
}

func validAddInput() AddItemInput {
	return AddItemInput{
		BOMID:         "b1",
		ComponentID:   "C1",
		Quantity:      2,
		Unit:          "kg",
		UnitCost:      3.5,
		ScrapRate:     5,
		ComponentType: ComponentTypeRawMaterial,
		ActorID:       "user-1",
		Reason:        "initial build",
	}
}

func TestAddItemRootLevelAndSequence(t *testing.T) {
	f := addFixture(t)

	res, err := f.service.AddItem(context.Background(), validAddInput())
	require.NoError(t, err)

	item := res.Node.Item
	require.Equal(t, 0, item.Level)
	require.Equal(t, 1, item.Sequence)
	require.Equal(t, "", item.ParentItemID)
	require.True(t, item.IsActive)
	require.Equal(t, "RM-01", res.Node.ComponentCode)
	require.Equal(t, "Raw Material", res.Node.ComponentTypeLabel)
	require.Equal(t, 2.1, res.Node.ActualQuantity)
	require.Equal(t, 1, res.Totals.ItemCount)

	// Second root gets the next sibling sequence.
	input := validAddInput()
	input.ComponentID = "C2"
	res2, err := f.service.AddItem(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, 2, res2.Node.Item.Sequence)
}

func TestAddItemChildDerivesLevelFromParent(t *testing.T) {
	f := addFixture(t)

	parentRes, err := f.service.AddItem(context.Background(), func() AddItemInput {
		in := validAddInput()
		in.ComponentID = "C3"
		in.ComponentType = ComponentTypeSubAssembly
		return in
	}())
	require.NoError(t, err)

	input := validAddInput()
	input.ParentItemID = parentRes.Node.Item.ID
	res, err := f.service.AddItem(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, 1, res.Node.Item.Level)
	require.Equal(t, 1, res.Node.Item.Sequence)
}

func TestAddItemValidation(t *testing.T) {
	f := addFixture(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		mutate  func(*AddItemInput)
		wantErr error
	}{
		{"missing bom id", func(in *AddItemInput) { in.BOMID = "" }, ErrMissingField},
		{"missing component id", func(in *AddItemInput) { in.ComponentID = "" }, ErrMissingField},
		{"missing actor", func(in *AddItemInput) { in.ActorID = "" }, ErrMissingField},
		{"missing unit", func(in *AddItemInput) { in.Unit = "" }, ErrMissingField},
		{"bad type", func(in *AddItemInput) { in.ComponentType = "WIDGET" }, ErrInvalidComponentType},
		{"zero quantity", func(in *AddItemInput) { in.Quantity = 0 }, ErrQuantityNotPositive},
		{"negative quantity", func(in *AddItemInput) { in.Quantity = -1 }, ErrQuantityNotPositive},
		{"scrap above 100", func(in *AddItemInput) { in.ScrapRate = 101 }, ErrScrapRateOutOfRange},
		{"negative cost", func(in *AddItemInput) { in.UnitCost = -0.01 }, ErrUnitCostNegative},
		{"future effective date", func(in *AddItemInput) { in.EffectiveDate = f.now.Add(time.Hour) }, ErrEffectiveDateInFuture},
		{"expiry before effective", func(in *AddItemInput) {
			in.EffectiveDate = f.now.Add(-time.Hour)
			in.ExpiryDate = ptr(f.now.Add(-2 * time.Hour))
		}, ErrExpiryBeforeEffective},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := validAddInput()
			tc.mutate(&input)
			_, err := f.service.AddItem(ctx, input)
			require.ErrorIs(t, err, tc.wantErr)
		})
	}

	// Validation failures must not write anything.
	require.Empty(t, f.history.records)
	require.Empty(t, f.items.items)
}

func TestAddItemRejectsInactiveBOM(t *testing.T) {
	f := addFixture(t)
	b := f.boms.boms["b1"]
	b.IsActive = false
	f.boms.boms["b1"] = b

	_, err := f.service.AddItem(context.Background(), validAddInput())
	require.ErrorIs(t, err, ErrBOMInactive)
}

func TestAddItemRejectsExpiredBOM(t *testing.T) {
	f := addFixture(t)
	b := f.boms.boms["b1"]
	b.ExpiryDate = ptr(f.now.Add(-time.Minute))
	f.boms.boms["b1"] = b

	_, err := f.service.AddItem(context.Background(), validAddInput())
	require.ErrorIs(t, err, ErrBOMInactive)
}

func TestAddItemRejectsUnknownOrInactiveComponent(t *testing.T) {
	f := addFixture(t)
	ctx := context.Background()

	input := validAddInput()
	input.ComponentID = "missing"
	_, err := f.service.AddItem(ctx, input)
	require.ErrorIs(t, err, ErrProductNotFound)

	f.products.add("C9", "RM-09", "Retired", false)
	input.ComponentID = "C9"
	_, err = f.service.AddItem(ctx, input)
	require.ErrorIs(t, err, ErrProductInactive)
}

func TestAddItemRejectsSelfReference(t *testing.T) {
	f := addFixture(t)

	input := validAddInput()
	input.ComponentID = "P1"
	_, err := f.service.AddItem(context.Background(), input)
	require.ErrorIs(t, err, ErrSelfReference)
}

func TestAddItemParentLookupIsScopedToBOM(t *testing.T) {
	f := addFixture(t)
	f.products.add("P2", "FG-02", "Other Pump", true)
	f.seedBOM("b2", "P2", "v1")
	foreign := f.seedItem(BOMItem{ID: "foreign", BOMID: "b2", ComponentID: "C2", Quantity: 1, Sequence: 1})

	input := validAddInput()
	input.ParentItemID = foreign.ID
	_, err := f.service.AddItem(context.Background(), input)
	require.ErrorIs(t, err, ErrParentNotFound)
}

func TestAddItemRejectsDuplicateSiblingComponent(t *testing.T) {
	f := addFixture(t)
	ctx := context.Background()

	_, err := f.service.AddItem(ctx, validAddInput())
	require.NoError(t, err)
	_, err = f.service.AddItem(ctx, validAddInput())
	require.ErrorIs(t, err, ErrDuplicateComponent)
}

func TestAddItemRejectsCircularReference(t *testing.T) {
	f := addFixture(t)
	// C3's own BOM already consumes P1.
	f.seedBOM("b-c3", "C3", "v1")
	f.seedItem(BOMItem{ID: "c3-root", BOMID: "b-c3", ComponentID: "P1", Quantity: 1, Sequence: 1})

	input := validAddInput()
	input.ComponentID = "C3"
	input.ComponentType = ComponentTypeSubAssembly
	_, err := f.service.AddItem(context.Background(), input)
	require.ErrorIs(t, err, ErrCircularReference)
	for _, item := range f.items.items {
		require.NotEqual(t, "b1", item.BOMID)
	}
	require.Empty(t, f.history.byAction(HistoryActionAddItem))
}

func TestAddItemWritesHistoryAndEnqueuesRecalc(t *testing.T) {
	f := addFixture(t)

	res, err := f.service.AddItem(context.Background(), validAddInput())
	require.NoError(t, err)

	records := f.history.byAction(HistoryActionAddItem)
	require.Len(t, records, 1)
	require.Equal(t, "b1", records[0].BOMID)
	require.Equal(t, res.Node.Item.ID, records[0].EntityID)
	require.Equal(t, "user-1", records[0].ActorID)
	require.Equal(t, "initial build", records[0].Reason)
	require.Equal(t, []string{"b1"}, f.recalc.enqueued)
}
