package bom

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"time"
)

// In-memory ports shared by the service tests. Behaviour mirrors the
// PostgreSQL stores: logical deletes, sibling-scoped sequences, duplicate
// checks against active rows only.

type memBOMStore struct {
	boms map[string]BOM
	now  func() time.Time
}

func newMemBOMStore(now func() time.Time) *memBOMStore {
	return &memBOMStore{boms: make(map[string]BOM), now: now}
}

func (s *memBOMStore) FindByID(_ context.Context, id string) (BOM, error) {
	b, ok := s.boms[id]
	if !ok {
		return BOM{}, ErrBOMNotFound
	}
	return b, nil
}

func (s *memBOMStore) FindByProductIDAndVersion(_ context.Context, productID, version string) (BOM, error) {
	for _, b := range s.boms {
		if b.ProductID == productID && b.Version == version {
			return b, nil
		}
	}
	return BOM{}, ErrBOMNotFound
}

func (s *memBOMStore) FindActiveByProductID(_ context.Context, productID string) (BOM, error) {
	now := s.now()
	var found BOM
	ok := false
	for _, b := range s.boms {
		if b.ProductID != productID || !b.IsCurrentlyActive(now) {
			continue
		}
		if !ok || b.EffectiveDate.After(found.EffectiveDate) {
			found = b
			ok = true
		}
	}
	if !ok {
		return BOM{}, ErrBOMNotFound
	}
	return found, nil
}

func (s *memBOMStore) FindByProductID(_ context.Context, productID string) ([]BOM, error) {
	var result []BOM
	for _, b := range s.boms {
		if b.ProductID == productID {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Version < result[j].Version })
	return result, nil
}

func (s *memBOMStore) Save(_ context.Context, b BOM) error {
	s.boms[b.ID] = b
	return nil
}

func (s *memBOMStore) Delete(_ context.Context, id string) error {
	b, ok := s.boms[id]
	if !ok {
		return ErrBOMNotFound
	}
	b.IsActive = false
	s.boms[id] = b
	return nil
}

type memItemStore struct {
	items map[string]BOMItem
}

func newMemItemStore() *memItemStore {
	return &memItemStore{items: make(map[string]BOMItem)}
}

func (s *memItemStore) FindByID(_ context.Context, id string) (BOMItem, error) {
	item, ok := s.items[id]
	if !ok {
		return BOMItem{}, ErrItemNotFound
	}
	return item, nil
}

func (s *memItemStore) FindByBOMID(_ context.Context, bomID string) ([]BOMItem, error) {
	var result []BOMItem
	for _, item := range s.items {
		if item.BOMID == bomID {
			result = append(result, item)
		}
	}
	sortByLevelSequence(result)
	return result, nil
}

func (s *memItemStore) FindByParentID(_ context.Context, parentID string) ([]BOMItem, error) {
	var result []BOMItem
	for _, item := range s.items {
		if item.ParentItemID == parentID && item.IsActive {
			result = append(result, item)
		}
	}
	sortByLevelSequence(result)
	return result, nil
}

func (s *memItemStore) FindAllDescendants(ctx context.Context, itemID string) ([]BOMItem, error) {
	var collected []BOMItem
	queue := []string{itemID}
	visited := map[string]struct{}{itemID: {}}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		children, _ := s.FindByParentID(ctx, current)
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

func (s *memItemStore) HasChildren(_ context.Context, itemID string) (bool, error) {
	for _, item := range s.items {
		if item.ParentItemID == itemID && item.IsActive {
			return true, nil
		}
	}
	return false, nil
}

func (s *memItemStore) NextSequence(_ context.Context, bomID, parentID string, _ int) (int, error) {
	max := 0
	for _, item := range s.items {
		if item.BOMID == bomID && item.ParentItemID == parentID && item.Sequence > max {
			max = item.Sequence
		}
	}
	return max + 1, nil
}

func (s *memItemStore) IsDuplicate(_ context.Context, bomID, componentID, parentID string) (bool, error) {
	for _, item := range s.items {
		if item.BOMID == bomID && item.ComponentID == componentID &&
			item.ParentItemID == parentID && item.IsActive {
			return true, nil
		}
	}
	return false, nil
}

func (s *memItemStore) Save(_ context.Context, item BOMItem) error {
	s.items[item.ID] = item
	return nil
}

func (s *memItemStore) Delete(_ context.Context, id string) error {
	item, ok := s.items[id]
	if !ok {
		return ErrItemNotFound
	}
	item.IsActive = false
	s.items[id] = item
	return nil
}

func sortByLevelSequence(items []BOMItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Level != items[j].Level {
			return items[i].Level < items[j].Level
		}
		return items[i].Sequence < items[j].Sequence
	})
}

type memHistoryStore struct {
	records []HistoryRecord
}

func (s *memHistoryStore) Save(_ context.Context, rec HistoryRecord) error {
	s.records = append(s.records, rec)
	return nil
}

func (s *memHistoryStore) byAction(action HistoryAction) []HistoryRecord {
	var result []HistoryRecord
	for _, rec := range s.records {
		if rec.Action == action {
			result = append(result, rec)
		}
	}
	return result
}

type fakeProducts struct {
	products map[string]ProductInfo
	hosts    map[string]bool
}

func newFakeProducts() *fakeProducts {
	return &fakeProducts{products: make(map[string]ProductInfo), hosts: make(map[string]bool)}
}

func (f *fakeProducts) add(id, code, name string, active bool) {
	f.products[id] = ProductInfo{ID: id, Code: code, Name: name, IsActive: active}
	f.hosts[id] = active
}

func (f *fakeProducts) Get(_ context.Context, id string) (ProductInfo, error) {
	info, ok := f.products[id]
	if !ok {
		return ProductInfo{}, ErrProductNotFound
	}
	return info, nil
}

func (f *fakeProducts) CanHostBOM(_ context.Context, id string) (bool, error) {
	if _, ok := f.products[id]; !ok {
		return false, ErrProductNotFound
	}
	return f.hosts[id], nil
}

type fakeUsage struct {
	reports map[string]UsageReport
}

func (f *fakeUsage) Usage(_ context.Context, itemID string) (UsageReport, error) {
	if f.reports == nil {
		return UsageReport{}, nil
	}
	return f.reports[itemID], nil
}

type fakeRecalc struct {
	enqueued []string
}

func (f *fakeRecalc) EnqueueRecalc(_ context.Context, bomID string) error {
	f.enqueued = append(f.enqueued, bomID)
	return nil
}

// fixture bundles a fully wired service over in-memory ports.
type fixture struct {
	service  *Service
	boms     *memBOMStore
	items    *memItemStore
	history  *memHistoryStore
	products *fakeProducts
	usage    *fakeUsage
	recalc   *fakeRecalc
	cycles   *CycleChecker
	now      time.Time
}

func newFixture() *fixture {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	boms := newMemBOMStore(clock)
	items := newMemItemStore()
	history := &memHistoryStore{}
	products := newFakeProducts()
	usage := &fakeUsage{}
	recalc := &fakeRecalc{}
	cycles := NewCycleChecker(boms, items, NewMemoryCycleCache(), logger)

	service := NewService(
		Stores{BOMs: boms, Items: items, History: history},
		Collaborators{Products: products, Usage: usage, Presenter: NewLabelPresenter(), Recalc: recalc},
		cycles,
		DefaultPolicy(),
		logger,
	).WithClock(clock)

	return &fixture{
		service:  service,
		boms:     boms,
		items:    items,
		history:  history,
		products: products,
		usage:    usage,
		recalc:   recalc,
		cycles:   cycles,
		now:      now,
	}
}

// seedBOM registers an active BOM effective one day before the fixture clock.
func (f *fixture) seedBOM(id, productID, version string) BOM {
	b := BOM{
		ID:            id,
		ProductID:     productID,
		Version:       version,
		IsActive:      true,
		EffectiveDate: f.now.Add(-24 * time.Hour),
		CreatedBy:     "seed",
		UpdatedBy:     "seed",
		CreatedAt:     f.now.Add(-24 * time.Hour),
		UpdatedAt:     f.now.Add(-24 * time.Hour),
	}
	f.boms.boms[id] = b
	return b
}

func (f *fixture) seedItem(item BOMItem) BOMItem {
	if item.Unit == "" {
		item.Unit = "pcs"
	}
	if item.ComponentType == "" {
		item.ComponentType = ComponentTypeRawMaterial
	}
	if item.EffectiveDate.IsZero() {
		item.EffectiveDate = f.now.Add(-24 * time.Hour)
	}
	item.IsActive = true
	f.items.items[item.ID] = item
	return item
}

func ptr[T any](v T) *T {
	return &v
}
