package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/akoreshkov/modaflow/internal/types"
)

// MemoryStore is an in-process CatalogStore. It backs dry runs that should
// not touch Postgres and the test suites of everything that imports.
// WithTx snapshots the state and restores it when fn fails, so rollback
// semantics match the real store.
type MemoryStore struct {
	mu       sync.Mutex
	items    map[int64]*types.CatalogItem
	images   map[int64][]types.ItemImage
	variants map[int64][]types.ItemVariant
	nextItem int64
	nextRow  int64
}

// NewMemoryStore returns an empty in-memory catalog.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:    make(map[int64]*types.CatalogItem),
		images:   make(map[int64][]types.ItemImage),
		variants: make(map[int64][]types.ItemVariant),
	}
}

// memoryTx exposes the unlocked core to WithTx callbacks while the store
// lock is held.
type memoryTx struct{ s *MemoryStore }

func (s *MemoryStore) WithTx(ctx context.Context, fn func(CatalogTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	items, images, variants := s.snapshot()
	nextItem, nextRow := s.nextItem, s.nextRow

	if err := fn(memoryTx{s}); err != nil {
		s.items, s.images, s.variants = items, images, variants
		s.nextItem, s.nextRow = nextItem, nextRow
		return err
	}
	return nil
}

func (s *MemoryStore) snapshot() (map[int64]*types.CatalogItem, map[int64][]types.ItemImage, map[int64][]types.ItemVariant) {
	items := make(map[int64]*types.CatalogItem, len(s.items))
	for id, it := range s.items {
		items[id] = cloneItem(it)
	}
	images := make(map[int64][]types.ItemImage, len(s.images))
	for id, imgs := range s.images {
		images[id] = append([]types.ItemImage(nil), imgs...)
	}
	variants := make(map[int64][]types.ItemVariant, len(s.variants))
	for id, vars := range s.variants {
		variants[id] = append([]types.ItemVariant(nil), vars...)
	}
	return items, images, variants
}

func cloneItem(it *types.CatalogItem) *types.CatalogItem {
	cp := *it
	if it.Price != nil {
		cp.Price = types.Float64Ptr(*it.Price)
	}
	return &cp
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() {}

func (s *MemoryStore) FindByArticle(ctx context.Context, article string) (*types.CatalogItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memoryTx{s}.FindByArticle(ctx, article)
}

func (s *MemoryStore) FindByBrandAndName(ctx context.Context, brand, name string) (*types.CatalogItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memoryTx{s}.FindByBrandAndName(ctx, brand, name)
}

func (s *MemoryStore) FindByName(ctx context.Context, name string) (*types.CatalogItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memoryTx{s}.FindByName(ctx, name)
}

func (s *MemoryStore) InsertItem(ctx context.Context, item *types.CatalogItem) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memoryTx{s}.InsertItem(ctx, item)
}

func (s *MemoryStore) UpdateItem(ctx context.Context, item *types.CatalogItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memoryTx{s}.UpdateItem(ctx, item)
}

func (s *MemoryStore) InsertImage(ctx context.Context, img *types.ItemImage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memoryTx{s}.InsertImage(ctx, img)
}

func (s *MemoryStore) InsertVariant(ctx context.Context, v *types.ItemVariant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memoryTx{s}.InsertVariant(ctx, v)
}

func (s *MemoryStore) ImagesByItem(ctx context.Context, itemID int64) ([]types.ItemImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memoryTx{s}.ImagesByItem(ctx, itemID)
}

func (s *MemoryStore) VariantsByItem(ctx context.Context, itemID int64) ([]types.ItemVariant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memoryTx{s}.VariantsByItem(ctx, itemID)
}

func (s *MemoryStore) Statistics(ctx context.Context) (*types.CatalogStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &types.CatalogStats{TotalItems: int64(len(s.items))}
	for _, vars := range s.variants {
		stats.TotalVariants += int64(len(vars))
	}

	brands := make(map[string]int64)
	categories := make(map[string]int64)
	var prices []float64
	cutoff := time.Now().AddDate(0, 0, -7)
	for _, it := range s.items {
		if it.Brand != "" {
			brands[it.Brand]++
		}
		if it.Category != types.CategoryUndetermined {
			categories[string(it.Category)]++
		}
		if it.Price != nil {
			prices = append(prices, *it.Price)
		}
		if it.CreatedAt.After(cutoff) {
			stats.RecentItems++
		}
	}

	stats.TopBrands = topCounts(brands, 10)
	stats.TopCategories = topCounts(categories, 10)

	if len(prices) > 0 {
		stats.Price.Min = prices[0]
		stats.Price.Max = prices[0]
		var sum float64
		for _, p := range prices {
			if p < stats.Price.Min {
				stats.Price.Min = p
			}
			if p > stats.Price.Max {
				stats.Price.Max = p
			}
			sum += p
		}
		stats.Price.Avg = sum / float64(len(prices))
	}
	return stats, nil
}

func topCounts(counts map[string]int64, limit int) []types.LabelCount {
	out := make([]types.LabelCount, 0, len(counts))
	for label, n := range counts {
		out = append(out, types.LabelCount{Label: label, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (t memoryTx) FindByArticle(ctx context.Context, article string) (*types.CatalogItem, error) {
	if article == "" {
		return nil, nil
	}
	return t.firstMatch(func(it *types.CatalogItem) bool { return it.Article == article }), nil
}

func (t memoryTx) FindByBrandAndName(ctx context.Context, brand, name string) (*types.CatalogItem, error) {
	if brand == "" || name == "" {
		return nil, nil
	}
	return t.firstMatch(func(it *types.CatalogItem) bool { return it.Brand == brand && it.Name == name }), nil
}

func (t memoryTx) FindByName(ctx context.Context, name string) (*types.CatalogItem, error) {
	if name == "" {
		return nil, nil
	}
	return t.firstMatch(func(it *types.CatalogItem) bool { return it.Name == name }), nil
}

// firstMatch returns a copy of the lowest-id matching item, mirroring the
// ORDER BY id LIMIT 1 reads of the Postgres store.
func (t memoryTx) firstMatch(match func(*types.CatalogItem) bool) *types.CatalogItem {
	var best *types.CatalogItem
	for _, it := range t.s.items {
		if !match(it) {
			continue
		}
		if best == nil || it.ID < best.ID {
			best = it
		}
	}
	if best == nil {
		return nil
	}
	return cloneItem(best)
}

func (t memoryTx) InsertItem(ctx context.Context, item *types.CatalogItem) (int64, error) {
	if item.Article != "" {
		for _, it := range t.s.items {
			if it.Article == item.Article {
				return 0, &types.StoreError{
					Op:  "insert_item",
					Err: fmt.Errorf("duplicate article %q", item.Article),
				}
			}
		}
	}
	t.s.nextItem++
	item.ID = t.s.nextItem
	now := time.Now()
	item.CreatedAt = now
	item.UpdatedAt = now
	t.s.items[item.ID] = cloneItem(item)
	return item.ID, nil
}

func (t memoryTx) UpdateItem(ctx context.Context, item *types.CatalogItem) error {
	stored, ok := t.s.items[item.ID]
	if !ok {
		return &types.StoreError{Op: "update_item", Err: fmt.Errorf("item %d not found", item.ID)}
	}
	item.CreatedAt = stored.CreatedAt
	item.UpdatedAt = time.Now()
	t.s.items[item.ID] = cloneItem(item)
	return nil
}

func (t memoryTx) InsertImage(ctx context.Context, img *types.ItemImage) error {
	if _, ok := t.s.items[img.ItemID]; !ok {
		return &types.StoreError{Op: "insert_image", Err: fmt.Errorf("item %d not found", img.ItemID)}
	}
	for _, existing := range t.s.images[img.ItemID] {
		if existing.URL == img.URL {
			return nil
		}
	}
	t.s.nextRow++
	img.ID = t.s.nextRow
	t.s.images[img.ItemID] = append(t.s.images[img.ItemID], *img)
	return nil
}

func (t memoryTx) InsertVariant(ctx context.Context, v *types.ItemVariant) error {
	if _, ok := t.s.items[v.ItemID]; !ok {
		return &types.StoreError{Op: "insert_variant", Err: fmt.Errorf("item %d not found", v.ItemID)}
	}
	for _, existing := range t.s.variants[v.ItemID] {
		if existing.SKU == v.SKU {
			return nil
		}
	}
	t.s.nextRow++
	v.ID = t.s.nextRow
	t.s.variants[v.ItemID] = append(t.s.variants[v.ItemID], *v)
	return nil
}

func (t memoryTx) ImagesByItem(ctx context.Context, itemID int64) ([]types.ItemImage, error) {
	imgs := t.s.images[itemID]
	out := append([]types.ItemImage(nil), imgs...)
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (t memoryTx) VariantsByItem(ctx context.Context, itemID int64) ([]types.ItemVariant, error) {
	vars := t.s.variants[itemID]
	return append([]types.ItemVariant(nil), vars...), nil
}
