package parser

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/akoreshkov/modaflow/internal/types"
)

// productKeys are payload keys that may hold a product array, checked in
// this order at every level of the descent.
var productKeys = []string{"products", "items", "catalog", "results", "data"}

// stateMarkers locate embedded SPA state assignments inside script blocks.
var stateMarkers = []*regexp.Regexp{
	regexp.MustCompile(`window\.__INITIAL_STATE__\s*=\s*`),
	regexp.MustCompile(`window\.__NUXT__\s*=\s*`),
	regexp.MustCompile(`window\.__NEXT_DATA__\s*=\s*`),
	regexp.MustCompile(`window\.dataLayer\s*=\s*`),
}

// maxDescendDepth bounds the recursive search through state objects.
const maxDescendDepth = 8

// EmbeddedStrategy extracts listings from JSON embedded in script blocks:
// either a "products" array found by brace-balanced scanning, or a product
// array reachable by key descent into a SPA state object.
type EmbeddedStrategy struct {
	store  Storefront
	logger *slog.Logger
}

func NewEmbeddedStrategy(store Storefront, logger *slog.Logger) *EmbeddedStrategy {
	return &EmbeddedStrategy{
		store:  store,
		logger: logger.With("component", "embedded_strategy"),
	}
}

func (s *EmbeddedStrategy) Name() string { return "embedded" }

func (s *EmbeddedStrategy) Method() types.ExtractionMethod { return types.MethodStructured }

// Extract scans script blocks in document order. The first script that
// yields at least one usable candidate wins; a malformed candidate is
// dropped with a warning, never aborting the rest.
func (s *EmbeddedStrategy) Extract(resp *types.Response, limit int) ([]types.RawListing, []string, error) {
	doc, err := resp.Document()
	if err != nil {
		return nil, nil, &types.ExtractError{URL: resp.BaseURL(), Strategy: s.Name(), Err: err}
	}

	var listings []types.RawListing
	var warnings []string

	doc.Find("script").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		content := strings.TrimSpace(sel.Text())
		if content == "" {
			return true
		}
		for idx, item := range scriptProducts(content) {
			if limit > 0 && len(listings) >= limit {
				break
			}
			l, ok, reason := s.listingFromPayload(item, idx)
			if !ok {
				warnings = append(warnings, reason)
				continue
			}
			listings = append(listings, l)
		}
		return len(listings) == 0
	})

	return listings, warnings, nil
}

// scriptProducts pulls a product array out of one script block.
func scriptProducts(content string) []map[string]any {
	// Balanced scan for a "products" array; plain regex capture cannot
	// tolerate the nesting inside real payloads.
	if idx := strings.Index(content, `"products"`); idx >= 0 {
		if arr := balancedSliceAfter(content, idx+len(`"products"`), '['); arr != "" {
			if items := decodeProductArray(arr); len(items) > 0 {
				return items
			}
		}
	}

	for _, marker := range stateMarkers {
		loc := marker.FindStringIndex(content)
		if loc == nil {
			continue
		}
		blob := balancedSliceAfter(content, loc[1], 0)
		if blob == "" {
			continue
		}
		var decoded any
		if err := json.Unmarshal([]byte(blob), &decoded); err != nil {
			continue
		}
		if items := descendForProducts(decoded, 0); len(items) > 0 {
			return items
		}
	}

	// "catalog": { ... "items": [ ... ] } payloads keep the array one level
	// down, where the key descent does not reach.
	if ci := strings.Index(content, `"catalog"`); ci >= 0 {
		if ii := strings.Index(content[ci:], `"items"`); ii >= 0 {
			if arr := balancedSliceAfter(content, ci+ii+len(`"items"`), '['); arr != "" {
				if items := decodeProductArray(arr); len(items) > 0 {
					return items
				}
			}
		}
	}

	return nil
}

// balancedSliceAfter returns the balanced JSON value whose opener is the
// first '[' or '{' at or after from. want restricts the opener; 0 accepts
// either. String contents are skipped so brackets inside values do not
// unbalance the scan.
func balancedSliceAfter(content string, from int, want byte) string {
	if from < 0 || from >= len(content) {
		return ""
	}

	start := -1
	var open, close byte
	for i := from; i < len(content); i++ {
		c := content[i]
		if c == '[' && (want == 0 || want == '[') {
			start, open, close = i, '[', ']'
			break
		}
		if c == '{' && (want == 0 || want == '{') {
			start, open, close = i, '{', '}'
			break
		}
	}
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		c := content[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}
	return ""
}

func decodeProductArray(arr string) []map[string]any {
	var raw []any
	if err := json.Unmarshal([]byte(arr), &raw); err != nil {
		return nil
	}
	items := make([]map[string]any, 0, len(raw))
	for _, e := range raw {
		if m, ok := e.(map[string]any); ok {
			items = append(items, m)
		}
	}
	return items
}

// descendForProducts searches a decoded state object for the first product
// array reachable under a known key, depth-bounded.
func descendForProducts(v any, depth int) []map[string]any {
	if depth > maxDescendDepth {
		return nil
	}
	switch t := v.(type) {
	case map[string]any:
		for _, key := range productKeys {
			arr, ok := t[key].([]any)
			if !ok {
				continue
			}
			items := make([]map[string]any, 0, len(arr))
			for _, e := range arr {
				if m, ok := e.(map[string]any); ok {
					items = append(items, m)
				}
			}
			if len(items) > 0 {
				return items
			}
		}
		// Remaining keys in sorted order so the search is deterministic.
		rest := make([]string, 0, len(t))
		for key := range t {
			if !isProductKey(key) {
				rest = append(rest, key)
			}
		}
		sort.Strings(rest)
		for _, key := range rest {
			if items := descendForProducts(t[key], depth+1); len(items) > 0 {
				return items
			}
		}
	case []any:
		for _, e := range t {
			if items := descendForProducts(e, depth+1); len(items) > 0 {
				return items
			}
		}
	}
	return nil
}

func isProductKey(key string) bool {
	for _, k := range productKeys {
		if k == key {
			return true
		}
	}
	return false
}

// listingFromPayload maps one product payload object to a RawListing. The
// boolean is false, with a human-readable reason, when required fields are
// missing.
func (s *EmbeddedStrategy) listingFromPayload(item map[string]any, index int) (types.RawListing, bool, string) {
	sku := stringField(item, "sku")
	if sku == "" {
		sku = fmt.Sprintf("JSON%04d", index+1)
	}
	name := stringField(item, "name")

	brand := ""
	switch b := item["brand"].(type) {
	case map[string]any:
		brand = stringField(b, "name")
	case string:
		brand = strings.TrimSpace(b)
	}

	price := priceFromAny(item["price_amount"])
	if price == 0 {
		price = priceFromAny(item["price"])
	}
	oldPrice := priceFromAny(item["old_price_amount"])
	if oldPrice == 0 {
		oldPrice = priceFromAny(item["old_price"])
	}

	pageURL := ""
	if u := stringField(item, "url"); u != "" {
		switch {
		case strings.HasPrefix(u, "/"):
			pageURL = s.store.Host + u
		case strings.HasPrefix(u, "http"):
			pageURL = u
		}
	}
	if pageURL == "" {
		pageURL = s.store.ProductURL(sku, stringField(item, "seo_tail"))
	}

	var sizes []string
	if arr, ok := item["sizes"].([]any); ok {
		for _, e := range arr {
			switch v := e.(type) {
			case string:
				if v != "" {
					sizes = append(sizes, v)
				}
			case map[string]any:
				if title := stringField(v, "title"); title != "" {
					sizes = append(sizes, title)
				}
			}
		}
	}

	if name == "" || price <= 0 {
		return types.RawListing{}, false,
			fmt.Sprintf("embedded candidate %d dropped: missing name or price (sku=%s)", index+1, sku)
	}

	return types.RawListing{
		SourceID:    sku,
		Name:        name,
		Brand:       brand,
		Price:       price,
		OldPrice:    oldPrice,
		SourceURL:   pageURL,
		ImageURLs:   collectItemImages(item),
		RawCategory: stringField(item, "category"),
		Description: stringField(item, "description"),
		Color:       stringField(item, "color"),
		Sizes:       sizes,
	}, true, ""
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
