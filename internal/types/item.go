package types

import "time"

// CatalogItem is the persisted canonical product. Created on the first
// resolution miss, mutated in place by later imports, never deleted by the
// pipeline.
type CatalogItem struct {
	ID int64

	// Name is the only required field.
	Name string

	Brand        string
	Color        string
	Size         string
	ClothingType string
	Description  string

	// Price is nil when unknown; the merge policy distinguishes unset from 0.
	Price *float64

	Category Category

	// Article is the canonical SKU. Unique across the catalog when set.
	Article string

	Style string

	// ImageURL is the primary image. Once set it is only ever backfilled,
	// never cleared.
	ImageURL string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ItemImage is one gallery image of a catalog item. Positions are
// contiguous and start at 0 for the primary image.
type ItemImage struct {
	ID       int64
	ItemID   int64
	URL      string
	Position int
}

// ItemVariant is a purchasable variation of an item. SKU is unique within
// the owning item.
type ItemVariant struct {
	ID     int64
	ItemID int64
	Size   string
	Color  string
	SKU    string
	Stock  int
	Price  *float64
}

// CatalogStats is the aggregate view over the stored catalog.
type CatalogStats struct {
	TotalItems    int64           `json:"total_items"`
	TotalVariants int64           `json:"total_variants"`
	TopBrands     []LabelCount    `json:"top_brands"`
	TopCategories []LabelCount    `json:"top_categories"`
	Price         PriceAggregates `json:"price"`
	RecentItems   int64           `json:"recent_items"` // added in the last 7 days
}

// LabelCount pairs a label with how many items carry it.
type LabelCount struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}

// PriceAggregates summarizes item prices, ignoring items without one.
type PriceAggregates struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
}

// Float64Ptr returns a pointer to v. Convenience for optional prices.
func Float64Ptr(v float64) *float64 { return &v }
