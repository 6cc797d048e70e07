package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/akoreshkov/modaflow/internal/observability"
	"github.com/akoreshkov/modaflow/internal/storage"
	"github.com/akoreshkov/modaflow/internal/types"
)

const (
	maxImages        = 8
	baseVariantStock = 10
	sizeVariantStock = 5
)

// Importer upserts processed listings into the catalog store. Safe for
// concurrent use; every Import runs in its own transaction.
type Importer struct {
	store   storage.CatalogStore
	metrics *observability.Metrics
	logger  *slog.Logger
}

func NewImporter(store storage.CatalogStore, metrics *observability.Metrics, logger *slog.Logger) *Importer {
	return &Importer{
		store:   store,
		metrics: metrics,
		logger:  logger.With("component", "importer"),
	}
}

// Import upserts one processed listing and reports what happened. A
// persistence failure rolls the whole candidate back and yields an error
// outcome; the caller continues with its remaining candidates.
func (im *Importer) Import(ctx context.Context, l *types.EnrichedListing) types.ImportOutcome {
	outcome := types.ImportOutcome{SourceID: l.SourceID, Warnings: l.Warnings}

	err := im.store.WithTx(ctx, func(tx storage.CatalogTx) error {
		res, err := Resolve(ctx, tx, l.SourceID, l.Brand, l.Name)
		if err != nil {
			return err
		}

		if !res.Matched() {
			item, err := im.create(ctx, tx, l)
			if err != nil {
				return err
			}
			outcome.Action = types.ActionCreated
			outcome.ItemID = item.ID
			return nil
		}

		if res.MatchedBy == MatchName {
			outcome.Warnings = append(outcome.Warnings,
				fmt.Sprintf("matched item %d by name only, possible duplicate", res.Item.ID))
		}

		changed, err := im.merge(ctx, tx, res.Item, l)
		if err != nil {
			return err
		}
		outcome.ItemID = res.Item.ID
		if changed {
			outcome.Action = types.ActionUpdated
		} else {
			outcome.Action = types.ActionSkipped
		}
		return nil
	})
	if err != nil {
		im.metrics.ItemErrors.Add(1)
		im.logger.Error("import failed", "source_id", l.SourceID, "name", l.Name, "error", err)
		return types.ErrorOutcome(l.SourceID, err)
	}

	switch outcome.Action {
	case types.ActionCreated:
		im.metrics.ItemsCreated.Add(1)
		im.logger.Info("item created", "item_id", outcome.ItemID, "name", l.Name, "brand", l.Brand)
	case types.ActionUpdated:
		im.metrics.ItemsUpdated.Add(1)
		im.logger.Info("item updated", "item_id", outcome.ItemID, "name", l.Name)
	case types.ActionSkipped:
		im.metrics.ItemsSkipped.Add(1)
		im.logger.Debug("item unchanged", "item_id", outcome.ItemID, "name", l.Name)
	}
	return outcome
}

func (im *Importer) create(ctx context.Context, tx storage.CatalogTx, l *types.EnrichedListing) (*types.CatalogItem, error) {
	item := itemFromListing(l)
	if _, err := tx.InsertItem(ctx, item); err != nil {
		return nil, err
	}

	urls := l.ImageURLs
	if len(urls) > maxImages {
		urls = urls[:maxImages]
	}
	for i, url := range urls {
		img := types.ItemImage{ItemID: item.ID, URL: url, Position: i}
		if err := tx.InsertImage(ctx, &img); err != nil {
			return nil, err
		}
	}

	for _, v := range buildVariants(l) {
		if v.SKU == "" {
			continue
		}
		v.ItemID = item.ID
		if err := tx.InsertVariant(ctx, &v); err != nil {
			return nil, err
		}
	}

	return item, nil
}

// merge applies the field-level update policy: price follows the source,
// description upgrades to longer or AI-written text, every other scalar is
// filled only when currently empty, and images/variants only ever grow.
func (im *Importer) merge(ctx context.Context, tx storage.CatalogTx, item *types.CatalogItem, l *types.EnrichedListing) (bool, error) {
	changed := false

	if l.Price > 0 && (item.Price == nil || *item.Price != l.Price) {
		item.Price = types.Float64Ptr(l.Price)
		changed = true
	}

	if betterDescription(item.Description, l.Description, l.Enhanced("description")) {
		item.Description = l.Description
		changed = true
	}

	fills := []struct {
		dst *string
		src string
	}{
		{&item.Brand, brandIdentity(l.Brand)},
		{&item.Color, l.Color},
		{&item.Size, firstSize(l)},
		{&item.ClothingType, l.ClothingType},
		{&item.Style, l.Style},
	}
	for _, f := range fills {
		if f.src != "" && *f.dst == "" {
			*f.dst = f.src
			changed = true
		}
	}
	if item.Category == types.CategoryUndetermined && l.Category != types.CategoryUndetermined {
		item.Category = l.Category
		changed = true
	}

	if item.ImageURL == "" && len(l.ImageURLs) > 0 {
		item.ImageURL = l.ImageURLs[0]
		changed = true
	}

	grew, err := im.growImages(ctx, tx, item.ID, l.ImageURLs)
	if err != nil {
		return false, err
	}
	changed = changed || grew

	grew, err = im.growVariants(ctx, tx, item.ID, buildVariants(l))
	if err != nil {
		return false, err
	}
	changed = changed || grew

	if changed {
		if err := tx.UpdateItem(ctx, item); err != nil {
			return false, err
		}
	}
	return changed, nil
}

// growImages appends incoming gallery images when the incoming set is
// larger than the stored one. Appended images continue the stored position
// sequence; stored images are never replaced or reordered.
func (im *Importer) growImages(ctx context.Context, tx storage.CatalogTx, itemID int64, urls []string) (bool, error) {
	if len(urls) == 0 {
		return false, nil
	}
	existing, err := tx.ImagesByItem(ctx, itemID)
	if err != nil {
		return false, err
	}
	if len(urls) <= len(existing) {
		return false, nil
	}

	seen := make(map[string]bool, len(existing))
	for _, img := range existing {
		seen[img.URL] = true
	}

	grew := false
	pos := len(existing)
	for _, url := range urls {
		if seen[url] {
			continue
		}
		img := types.ItemImage{ItemID: itemID, URL: url, Position: pos}
		if err := tx.InsertImage(ctx, &img); err != nil {
			return false, err
		}
		seen[url] = true
		pos++
		grew = true
	}
	return grew, nil
}

// growVariants appends incoming variants when the incoming set is larger
// than the stored one, skipping SKUs the item already has.
func (im *Importer) growVariants(ctx context.Context, tx storage.CatalogTx, itemID int64, variants []types.ItemVariant) (bool, error) {
	if len(variants) == 0 {
		return false, nil
	}
	existing, err := tx.VariantsByItem(ctx, itemID)
	if err != nil {
		return false, err
	}
	if len(variants) <= len(existing) {
		return false, nil
	}

	seen := make(map[string]bool, len(existing))
	for _, v := range existing {
		seen[v.SKU] = true
	}

	grew := false
	for _, v := range variants {
		if v.SKU == "" || seen[v.SKU] {
			continue
		}
		v.ItemID = itemID
		if err := tx.InsertVariant(ctx, &v); err != nil {
			return false, err
		}
		seen[v.SKU] = true
		grew = true
	}
	return grew, nil
}

func itemFromListing(l *types.EnrichedListing) *types.CatalogItem {
	item := &types.CatalogItem{
		Name:         l.Name,
		Brand:        brandIdentity(l.Brand),
		Color:        l.Color,
		Size:         firstSize(l),
		ClothingType: l.ClothingType,
		Description:  l.Description,
		Category:     l.Category,
		Article:      l.SourceID,
		Style:        l.Style,
	}
	if l.Price > 0 {
		item.Price = types.Float64Ptr(l.Price)
	}
	if len(l.ImageURLs) > 0 {
		item.ImageURL = l.ImageURLs[0]
	}
	return item
}

// buildVariants materializes one base variant plus one variant per extra
// size. The base carries the listing article as its SKU; size variants get
// a suffixed SKU and a smaller default stock.
func buildVariants(l *types.EnrichedListing) []types.ItemVariant {
	var price *float64
	if l.Price > 0 {
		price = types.Float64Ptr(l.Price)
	}
	base := firstSize(l)

	variants := []types.ItemVariant{{
		Size:  base,
		Color: l.Color,
		SKU:   l.SourceID,
		Stock: baseVariantStock,
		Price: price,
	}}
	for _, s := range l.Sizes {
		if s == base {
			continue
		}
		variants = append(variants, types.ItemVariant{
			Size:  s,
			Color: l.Color,
			SKU:   l.SourceID + "_" + s,
			Stock: sizeVariantStock,
			Price: price,
		})
	}
	return variants
}

func firstSize(l *types.EnrichedListing) string {
	if len(l.Sizes) == 0 {
		return ""
	}
	return l.Sizes[0]
}

// brandIdentity maps the extraction placeholder "Unknown" to the empty
// string so it never becomes catalog data.
func brandIdentity(brand string) string {
	if !knownBrand(brand) {
		return ""
	}
	return brand
}

// betterDescription reports whether the incoming description should replace
// the stored one.
func betterDescription(stored, incoming string, aiWritten bool) bool {
	if incoming == "" || incoming == stored {
		return false
	}
	return stored == "" || len(incoming) > len(stored) || aiWritten
}
