package catalog

import (
	"context"
	"testing"

	"github.com/akoreshkov/modaflow/internal/storage"
	"github.com/akoreshkov/modaflow/internal/types"
)

func seedItem(t *testing.T, store *storage.MemoryStore, article, brand, name string) int64 {
	t.Helper()
	id, err := store.InsertItem(context.Background(), &types.CatalogItem{
		Name:    name,
		Brand:   brand,
		Article: article,
	})
	if err != nil {
		t.Fatalf("seed %q: %v", name, err)
	}
	return id
}

func TestResolveCascade(t *testing.T) {
	store := storage.NewMemoryStore()
	byArticle := seedItem(t, store, "ART001", "Nike", "Футболка")
	byPair := seedItem(t, store, "ART002", "Adidas", "Кроссовки")
	byName := seedItem(t, store, "ART003", "Puma", "Шорты")

	tests := []struct {
		name           string
		article, brand string
		listingName    string
		wantID         int64
		wantMatch      MatchKind
	}{
		{"article wins", "ART001", "Adidas", "Кроссовки", byArticle, MatchArticle},
		{"brand and name", "NOPE", "Adidas", "Кроссовки", byPair, MatchBrandAndName},
		{"name alone", "NOPE", "Reebok", "Шорты", byName, MatchName},
		{"unknown brand skips pair step", "", "Unknown", "Шорты", byName, MatchName},
		{"miss", "NOPE", "Reebok", "Пальто", 0, MatchNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Resolve(context.Background(), store, tt.article, tt.brand, tt.listingName)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if res.MatchedBy != tt.wantMatch {
				t.Errorf("MatchedBy = %q, want %q", res.MatchedBy, tt.wantMatch)
			}
			if tt.wantID == 0 {
				if res.Matched() {
					t.Errorf("unexpected match: %+v", res.Item)
				}
				return
			}
			if !res.Matched() || res.Item.ID != tt.wantID {
				t.Errorf("item = %+v, want id %d", res.Item, tt.wantID)
			}
		})
	}
}

func TestResolveIsReadOnly(t *testing.T) {
	store := storage.NewMemoryStore()
	seedItem(t, store, "ART010", "Nike", "Худи")

	res, err := Resolve(context.Background(), store, "ART010", "", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	// Mutating the resolved copy must not leak into the store.
	res.Item.Brand = "Corrupted"
	stored, _ := store.FindByArticle(context.Background(), "ART010")
	if stored.Brand != "Nike" {
		t.Errorf("stored brand mutated: %q", stored.Brand)
	}
}
