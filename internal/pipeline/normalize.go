package pipeline

import (
	"context"
	"html"
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"github.com/akoreshkov/modaflow/internal/parser"
	"github.com/akoreshkov/modaflow/internal/types"
)

const maxNameRunes = 100

// knownBrands is the canonical-casing table for brands the storefront
// carries. Matching is case-insensitive, exact first, then substring.
var knownBrands = []string{
	"Nike", "Adidas", "Puma", "Reebok", "Jordan", "Converse", "New Balance",
	"Vans", "Under Armour", "Asics", "Mizuno", "Skechers", "Fila", "Kappa",
	"Umbro", "Diadora", "Calvin Klein", "Tommy Hilfiger", "Lacoste", "Hugo Boss",
	"Demix", "Outventure", "Baon", "Befree", "Mango", "Zara", "H&M", "Uniqlo",
	"Euphoria", "Profit", "Terranova", "Pepe Jeans", "Marco Tozzi", "Tamaris",
	"Founds", "Nume", "Shoiberg", "T.Taccardi", "Abricot", "Pierre Cardin",
	"Guess", "Levi's", "Jack & Jones", "Only", "Vero Moda",
}

// marketingTails are storefront suffixes glued onto product names in link
// titles and aria-labels. The name is cut at the first occurrence.
var marketingTails = []string{
	"купить за",
	"купить в",
	"в интернет-магазине",
	"| lamoda",
}

var (
	htmlTagRe    = regexp.MustCompile(`<[^>]*>`)
	brandCleanRe = regexp.MustCompile(`[^\p{L}\p{N}\s&.']`)
)

// Normalizer cleans the scraped fields of a candidate: name and description
// text, brand casing, price sanity, image canonicalization. Candidates left
// without a name are dropped.
type Normalizer struct {
	bounds parser.PriceBounds
	logger *slog.Logger
}

func NewNormalizer(bounds parser.PriceBounds, logger *slog.Logger) *Normalizer {
	return &Normalizer{
		bounds: bounds,
		logger: logger.With("component", "normalizer"),
	}
}

func (n *Normalizer) Name() string { return "normalize" }

func (n *Normalizer) Process(_ context.Context, l *types.EnrichedListing) (*types.EnrichedListing, error) {
	l.RawListing.Name = CleanName(l.RawListing.Name)
	if l.RawListing.Name == "" {
		return nil, nil
	}

	l.Brand = NormalizeBrand(l.Brand)
	if l.Brand == "Unknown" {
		if fromName := BrandFromName(l.RawListing.Name); fromName != "Unknown" {
			l.Brand = fromName
		}
	}

	l.Description = cleanText(l.Description)
	l.Color = strings.TrimSpace(l.Color)
	l.ClothingType = strings.ToLower(strings.TrimSpace(l.ClothingType))
	l.RawCategory = strings.TrimSpace(l.RawCategory)

	if l.Price != 0 && !n.bounds.Contains(l.Price) {
		n.logger.Debug("price out of bounds", "source_id", l.SourceID, "price", l.Price)
		l.Price = 0
	}
	if l.OldPrice != 0 && (!n.bounds.Contains(l.OldPrice) || l.OldPrice <= l.Price) {
		l.OldPrice = 0
	}

	l.ImageURLs = canonicalImages(l.ImageURLs)

	l.Sizes = dedupeSizes(l.Sizes)

	return l, nil
}

// CleanName strips markup, cuts marketing tails, collapses whitespace, and
// truncates to the name length cap.
func CleanName(name string) string {
	name = cleanText(name)
	lower := strings.ToLower(name)
	for _, tail := range marketingTails {
		if idx := strings.Index(lower, tail); idx >= 0 {
			name = name[:idx]
			lower = lower[:idx]
		}
	}
	name = strings.TrimRight(strings.TrimSpace(name), "-–,|")
	name = strings.TrimSpace(name)

	if runes := []rune(name); len(runes) > maxNameRunes {
		name = strings.TrimSpace(string(runes[:maxNameRunes]))
	}
	return name
}

// cleanText strips HTML tags, decodes entities, and collapses whitespace.
func cleanText(s string) string {
	s = htmlTagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeBrand maps a scraped brand label to its canonical casing.
// Unrecognized brands keep their cleaned first word, title-cased. Empty or
// placeholder labels become "Unknown".
func NormalizeBrand(brand string) string {
	brand = strings.TrimSpace(brand)
	lower := strings.ToLower(brand)
	if brand == "" || lower == "unknown" || lower == "none" {
		return "Unknown"
	}

	for _, known := range knownBrands {
		if strings.EqualFold(known, brand) {
			return known
		}
	}
	for _, known := range knownBrands {
		if strings.Contains(lower, strings.ToLower(known)) {
			return known
		}
	}

	cleaned := strings.TrimSpace(brandCleanRe.ReplaceAllString(brand, ""))
	words := strings.Fields(cleaned)
	if len(words) == 0 {
		return titleWord(brand)
	}
	return titleWord(words[0])
}

// BrandFromName guesses a brand from the product name: a known brand
// mentioned anywhere wins, otherwise the first word when it looks like a
// label. Returns "Unknown" when nothing qualifies.
func BrandFromName(name string) string {
	if name == "" {
		return "Unknown"
	}

	lower := strings.ToLower(name)
	for _, known := range knownBrands {
		if strings.Contains(lower, strings.ToLower(known)) {
			return known
		}
	}

	words := strings.Fields(name)
	if len(words) > 0 {
		first := words[0]
		if len([]rune(first)) > 2 && isAlpha(first) {
			return titleWord(first)
		}
	}
	return "Unknown"
}

// TitleCase capitalizes the first letter of each space-separated word and
// lowercases the rest, collapsing whitespace.
func TitleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = titleWord(w)
	}
	return strings.Join(words, " ")
}

func titleWord(w string) string {
	runes := []rune(strings.ToLower(w))
	if len(runes) == 0 {
		return w
	}
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

func isAlpha(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return s != ""
}

// canonicalImages canonicalizes every URL, drops the ones that do not look
// like product images, dedupes preserving order, and caps the list at the
// gallery limit.
func canonicalImages(raw []string) []string {
	const galleryCap = 8

	var out []string
	seen := make(map[string]bool, len(raw))
	for _, u := range raw {
		canon, ok := parser.CanonicalImageURL(u)
		if !ok || seen[canon] {
			continue
		}
		seen[canon] = true
		out = append(out, canon)
		if len(out) >= galleryCap {
			break
		}
	}
	return out
}

func dedupeSizes(sizes []string) []string {
	var out []string
	seen := make(map[string]bool, len(sizes))
	for _, s := range sizes {
		s = strings.TrimSpace(s)
		if s == "" || seen[strings.ToLower(s)] {
			continue
		}
		seen[strings.ToLower(s)] = true
		out = append(out, s)
	}
	return out
}
