package parser

import (
	"bytes"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/akoreshkov/modaflow/internal/types"
)

// TextStrategy is the last-resort tier. It strips the page down to visible
// text and matches price-brand-name runs around the storefront currency
// mark. Listings it produces carry synthetic SKUs and the lowest
// extraction confidence.
type TextStrategy struct {
	store  Storefront
	bounds PriceBounds
	logger *slog.Logger

	// priceFirst matches "12 990 ₸ Nike Кроссовки Air Max" runs. The name
	// class carries no digits, so a match ends where the next price
	// begins.
	priceFirst *regexp.Regexp

	// priceLast matches "Nike Кроссовки Air Max 12 990 ₸" runs.
	priceLast *regexp.Regexp
}

func NewTextStrategy(store Storefront, bounds PriceBounds, logger *slog.Logger) *TextStrategy {
	cur := regexp.QuoteMeta(store.Currency)
	const (
		priceGroup = `(\d{1,3}(?:[\s\x{00A0}]+\d{3})*)`
		brandPart  = `([A-Za-z][A-Za-z\s\x{00A0}&.]{1,40}?)`
		sep        = `[\s\x{00A0}]+`
		gap        = `[\s\x{00A0}]*`
	)
	return &TextStrategy{
		store:  store,
		bounds: bounds,
		logger: logger.With("component", "text_strategy"),
		priceFirst: regexp.MustCompile(
			priceGroup + gap + cur + sep + brandPart + sep + `([\p{L}][\p{L}\s\x{00A0}\-.,'"()]*)`),
		priceLast: regexp.MustCompile(
			brandPart + sep + `([\p{L}][\p{L}\s\x{00A0}\-.,'"()]*?)` + sep + priceGroup + gap + cur),
	}
}

func (s *TextStrategy) Name() string { return "text" }

func (s *TextStrategy) Method() types.ExtractionMethod { return types.MethodText }

func (s *TextStrategy) Extract(resp *types.Response, limit int) ([]types.RawListing, []string, error) {
	text, err := visibleText(resp.Body)
	if err != nil {
		return nil, nil, &types.ExtractError{URL: resp.BaseURL(), Strategy: s.Name(), Err: err}
	}

	var warnings []string
	for _, pat := range []struct {
		re         *regexp.Regexp
		priceFirst bool
	}{
		{s.priceFirst, true},
		{s.priceLast, false},
	} {
		listings := s.matchListings(pat.re, pat.priceFirst, text, limit, &warnings)
		if len(listings) > 0 {
			return listings, warnings, nil
		}
	}
	return nil, warnings, nil
}

func (s *TextStrategy) matchListings(re *regexp.Regexp, priceFirst bool, text string, limit int, warnings *[]string) []types.RawListing {
	matches := re.FindAllStringSubmatch(text, -1)
	var listings []types.RawListing
	for i, m := range matches {
		if limit > 0 && len(listings) >= limit {
			break
		}
		var priceStr, brand, name string
		if priceFirst {
			priceStr, brand, name = m[1], m[2], m[3]
		} else {
			brand, name, priceStr = m[1], m[2], m[3]
		}

		price, ok := parseDigitGroup(priceStr)
		if !ok || !s.bounds.Contains(price) {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			*warnings = append(*warnings, fmt.Sprintf("text match %d dropped: empty name", i+1))
			continue
		}
		if r := []rune(name); len(r) > maxNameRunes {
			name = string(r[:maxNameRunes])
		}

		listings = append(listings, types.RawListing{
			SourceID: fmt.Sprintf("TXT%s%04d", strings.ToUpper(s.store.Domain), i+1),
			Name:     name,
			Brand:    strings.TrimSpace(brand),
			Price:    price,
		})
	}
	return listings
}

// visibleText reparses the body and drops script and style subtrees before
// flattening, so code never leaks into the pattern scan. A fresh document
// is parsed because Remove mutates the tree and the response document is
// shared.
func visibleText(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript").Remove()
	return doc.Text(), nil
}
