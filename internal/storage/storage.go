// Package storage persists the product catalog in Postgres, archives raw
// extraction snapshots in MongoDB and exports run results to local files.
package storage

import (
	"context"
	"time"

	"github.com/akoreshkov/modaflow/internal/types"
)

// CatalogTx is the set of catalog operations available both on the pooled
// store and inside a transaction. Find methods return (nil, nil) when no
// row matches.
type CatalogTx interface {
	FindByArticle(ctx context.Context, article string) (*types.CatalogItem, error)
	FindByBrandAndName(ctx context.Context, brand, name string) (*types.CatalogItem, error)
	FindByName(ctx context.Context, name string) (*types.CatalogItem, error)

	InsertItem(ctx context.Context, item *types.CatalogItem) (int64, error)
	UpdateItem(ctx context.Context, item *types.CatalogItem) error
	InsertImage(ctx context.Context, img *types.ItemImage) error
	InsertVariant(ctx context.Context, v *types.ItemVariant) error

	ImagesByItem(ctx context.Context, itemID int64) ([]types.ItemImage, error)
	VariantsByItem(ctx context.Context, itemID int64) ([]types.ItemVariant, error)
}

// CatalogStore is the persistence boundary for the product catalog.
type CatalogStore interface {
	CatalogTx

	// WithTx runs fn in a single transaction. fn's writes are rolled back
	// when it returns an error.
	WithTx(ctx context.Context, fn func(CatalogTx) error) error

	Statistics(ctx context.Context) (*types.CatalogStats, error)
	Ping(ctx context.Context) error
	Close()
}

// RunSnapshot is the raw material of one import run, captured before any
// normalization so an extraction can be inspected or replayed later.
type RunSnapshot struct {
	RunID     string             `bson:"run_id"`
	Query     string             `bson:"query"`
	Domain    string             `bson:"domain"`
	Method    string             `bson:"method"`
	FetchedAt time.Time          `bson:"fetched_at"`
	Listings  []types.RawListing `bson:"listings"`
}

// Archive stores raw run snapshots outside the relational catalog.
type Archive interface {
	SaveSnapshot(ctx context.Context, snap RunSnapshot) error
	Close(ctx context.Context) error
}
