package bom

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// serviceFixture seeds one BOM with a three-level tree and an inactive row:
//
//	root (SA, 1 @ 50)
//	├── mid (SF, 2 @ 10)
//	│   └── leaf (RM, 10 @ 2, 5% scrap)
//	└── gone (RM, inactive)
func serviceFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture()
	f.products.add("P1", "FG-01", "Pump", true)
	f.products.add("SA1", "SA-01", "Motor Assembly", true)
	f.products.add("SF1", "SF-01", "Drive Shaft", true)
	f.products.add("RM1", "RM-01", "Steel Rod", true)
	f.seedBOM("b1", "P1", "v1")
	f.seedItem(BOMItem{ID: "root", BOMID: "b1", ComponentID: "SA1", ComponentType: ComponentTypeSubAssembly, Quantity: 1, UnitCost: 50, Sequence: 1})
	f.seedItem(BOMItem{ID: "mid", BOMID: "b1", ComponentID: "SF1", ComponentType: ComponentTypeSemiFinished, ParentItemID: "root", Level: 1, Quantity: 2, UnitCost: 10, Sequence: 1})
	f.seedItem(BOMItem{ID: "leaf", BOMID: "b1", ComponentID: "RM1", ParentItemID: "mid", Level: 2, Quantity: 10, UnitCost: 2, ScrapRate: 5, Sequence: 1})
	f.seedItem(BOMItem{ID: "gone", BOMID: "b1", ComponentID: "RM1", Quantity: 1, UnitCost: 99, Sequence: 2})
	inactive := f.items.items["gone"]
	inactive.IsActive = false
	f.items.items["gone"] = inactive
	return f
}

func TestGetBOMBuildsTree(t *testing.T) {
	f := serviceFixture(t)

	b, tree, err := f.service.GetBOM(context.Background(), "b1", -1)
	require.NoError(t, err)

	// Header totals come from the active items only.
	require.Equal(t, 3, b.ItemCount)
	// 50 + 2*10 + 10*1.05*2
	require.Equal(t, 91.0, b.TotalCost)
	require.Equal(t, 2, b.MaxLevel)

	// The inactive root still appears in the tree projection; activity is a
	// display concern for readers, not a structural cut.
	require.Len(t, tree, 2)
	rootNode := tree[0]
	require.Equal(t, "root", rootNode.Item.ID)
	require.Equal(t, "SA-01", rootNode.ComponentCode)
	require.Equal(t, "Motor Assembly", rootNode.ComponentName)
	require.Equal(t, "Sub Assembly", rootNode.ComponentTypeLabel)
	require.Len(t, rootNode.Children, 1)

	midNode := rootNode.Children[0]
	require.Equal(t, "mid", midNode.Item.ID)
	require.Len(t, midNode.Children, 1)

	leafNode := midNode.Children[0]
	require.Equal(t, "leaf", leafNode.Item.ID)
	require.Equal(t, 10.5, leafNode.ActualQuantity)
	require.Equal(t, 21.0, leafNode.TotalCost)
	require.Empty(t, leafNode.Children)
}

func TestGetBOMExpandLevel(t *testing.T) {
	f := serviceFixture(t)
	ctx := context.Background()

	// Level 0 returns roots without children.
	_, tree, err := f.service.GetBOM(ctx, "b1", 0)
	require.NoError(t, err)
	require.Empty(t, tree[0].Children)

	// Level 1 stops below the mid node.
	_, tree, err = f.service.GetBOM(ctx, "b1", 1)
	require.NoError(t, err)
	require.Len(t, tree[0].Children, 1)
	require.Empty(t, tree[0].Children[0].Children)
}

func TestGetBOMUnknownID(t *testing.T) {
	f := serviceFixture(t)

	_, _, err := f.service.GetBOM(context.Background(), "ghost", -1)
	require.ErrorIs(t, err, ErrBOMNotFound)
}

func TestGetBOMDegradesOnRetiredComponent(t *testing.T) {
	f := serviceFixture(t)
	delete(f.products.products, "RM1")

	_, tree, err := f.service.GetBOM(context.Background(), "b1", -1)
	require.NoError(t, err)
	leafNode := tree[0].Children[0].Children[0]
	require.Equal(t, "", leafNode.ComponentCode)
	require.Equal(t, "leaf", leafNode.Item.ID)
}

func TestListVersions(t *testing.T) {
	f := serviceFixture(t)
	f.seedBOM("b2", "P1", "v2")
	f.seedBOM("other", "P2", "v1")

	versions, err := f.service.ListVersions(context.Background(), "P1")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	require.Equal(t, "v1", versions[0].Version)
	require.Equal(t, "v2", versions[1].Version)

	_, err = f.service.ListVersions(context.Background(), "")
	require.ErrorIs(t, err, ErrMissingField)
}

func TestActualQuantityAndLineTotals(t *testing.T) {
	item := BOMItem{Quantity: 10, ScrapRate: 5, UnitCost: 2}
	require.Equal(t, 10.5, item.ActualQuantity())
	require.Equal(t, 21.0, item.TotalCost())

	// No scrap means no inflation.
	item = BOMItem{Quantity: 3, UnitCost: 1.5}
	require.Equal(t, 3.0, item.ActualQuantity())
	require.Equal(t, 4.5, item.TotalCost())

	// Repeated multiplication stays on the four-decimal column scale.
	require.Equal(t, 0.3333, lineTotal(0.3333, 0, 1))
	require.Equal(t, 110.0, adjustUnitCost(100, 10))
	require.Equal(t, 95.5, adjustUnitCost(100, -4.5))
}

func TestBOMIsCurrentlyActive(t *testing.T) {
	f := newFixture()
	b := BOM{IsActive: true, EffectiveDate: f.now.Add(-time.Hour)}
	require.True(t, b.IsCurrentlyActive(f.now))

	b.EffectiveDate = f.now.Add(time.Hour)
	require.False(t, b.IsCurrentlyActive(f.now))

	b.EffectiveDate = f.now.Add(-time.Hour)
	b.ExpiryDate = ptr(f.now.Add(-time.Minute))
	require.False(t, b.IsCurrentlyActive(f.now))

	b.ExpiryDate = ptr(f.now.Add(time.Minute))
	require.True(t, b.IsCurrentlyActive(f.now))

	b.IsActive = false
	require.False(t, b.IsCurrentlyActive(f.now))
}

func TestLabelPresenter(t *testing.T) {
	p := NewLabelPresenter()
	require.Equal(t, "Sub Assembly", p.ComponentTypeLabel(ComponentTypeSubAssembly))
	require.Equal(t, "Raw Material", p.ComponentTypeLabel(ComponentTypeRawMaterial))
	require.Equal(t, "Semi Finished", p.ComponentTypeLabel(ComponentTypeSemiFinished))
	require.Equal(t, "Unknown", p.ComponentTypeLabel(ComponentType("WIDGET")))
}
