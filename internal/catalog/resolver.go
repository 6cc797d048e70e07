// Package catalog resolves incoming listings against stored items and
// applies the idempotent upsert policy.
package catalog

import (
	"context"

	"github.com/akoreshkov/modaflow/internal/storage"
	"github.com/akoreshkov/modaflow/internal/types"
)

// MatchKind says which identity key resolved an incoming candidate.
type MatchKind string

const (
	MatchNone         MatchKind = ""
	MatchArticle      MatchKind = "article"
	MatchBrandAndName MatchKind = "brand_name"
	MatchName         MatchKind = "name"
)

// Resolution is the outcome of identity resolution for one candidate.
type Resolution struct {
	Item      *types.CatalogItem
	MatchedBy MatchKind
}

// Matched reports whether resolution found a stored item.
func (r Resolution) Matched() bool { return r.Item != nil }

// Resolve looks up the stored item an incoming candidate refers to, trying
// the strongest identity first: article, then brand plus name, then name
// alone.
func Resolve(ctx context.Context, store storage.CatalogTx, article, brand, name string) (Resolution, error) {
	if article != "" {
		item, err := store.FindByArticle(ctx, article)
		if err != nil {
			return Resolution{}, err
		}
		if item != nil {
			return Resolution{Item: item, MatchedBy: MatchArticle}, nil
		}
	}

	if knownBrand(brand) {
		item, err := store.FindByBrandAndName(ctx, brand, name)
		if err != nil {
			return Resolution{}, err
		}
		if item != nil {
			return Resolution{Item: item, MatchedBy: MatchBrandAndName}, nil
		}
	}

	item, err := store.FindByName(ctx, name)
	if err != nil {
		return Resolution{}, err
	}
	if item != nil {
		return Resolution{Item: item, MatchedBy: MatchName}, nil
	}

	return Resolution{}, nil
}

// knownBrand reports whether brand carries real identity. "Unknown" is the
// extraction placeholder for a missing brand.
func knownBrand(brand string) bool {
	return brand != "" && brand != "Unknown"
}
