package parser

import (
	"bytes"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"

	"github.com/akoreshkov/modaflow/internal/types"
)

// cardSelectors are tried in order; the first selector matching more than
// minCardMatches elements is taken as the card set for the whole page.
var cardSelectors = []string{
	`a[href*="/p/"]`,
	`div[class*="product"] a[href]`,
	`article a[href]`,
	`.product-card a[href]`,
	`.product-card`,
	`.product-item`,
	`.catalog-item`,
	`.item-card`,
	`[class*="product"]`,
	`[class*="item"]`,
	`[class*="card"]`,
	`article`,
	`.grid-item`,
	`li[class*="item"]`,
}

// cardXPaths are the fallback tier when no CSS selector clears the
// threshold, same threshold applied.
var cardXPaths = []string{
	`//a[contains(@href, "/p/")]`,
	`//article`,
	`//div[contains(@class, "product")]`,
	`//li[contains(@class, "item")]`,
}

const (
	minCardMatches = 3
	maxNameRunes   = 100
)

var nameSelectors = []string{
	`h3[class*="title"]`, `div[class*="title"]`, `span[class*="title"]`,
	`[data-testid*="title"]`, `[data-testid*="name"]`,
	`h1, h2, h3, h4`, `.product-card__product-name`,
}

var brandSelectors = []string{
	`span[class*="brand"]`, `div[class*="brand"]`,
	`[data-testid*="brand"]`, `.product-card__brand-name`,
}

var currentPriceSelectors = []string{
	`[data-testid*="price-current"]`,
	`.price-current`, `.price__current`,
	`span[class*="price"]:not([class*="old"])`,
	`.product-price__current`,
}

var oldPriceSelectors = []string{
	`[data-testid*="price-old"]`,
	`.price-old`, `.price__old`,
	`span[class*="price"][class*="old"]`,
	`.product-price__old`,
}

var cardImageSelectors = []string{
	`img[src*="lmcdn"]`, `img[data-src*="lmcdn"]`,
	`img[data-lazy-src*="lmcdn"]`, `img[data-original*="lmcdn"]`,
	`img[class*="image"]`, `img[class*="picture"]`, `img`,
}

// cardImageAttrs are checked in order on each matched img element.
var cardImageAttrs = []string{"src", "data-src", "data-lazy-src", "data-original", "data-srcset", "srcset"}

var backgroundImageRe = regexp.MustCompile(`url\(([^)]+)\)`)

// DOMStrategy extracts listings from product-card markup. It works on
// pages that render server side but carry no embedded payload, which is
// most of the category and search pages.
type DOMStrategy struct {
	store  Storefront
	bounds PriceBounds
	logger *slog.Logger

	// priceRe matches a spaced digit group directly before the storefront
	// currency mark, the text fallback when no price selector hits.
	priceRe *regexp.Regexp
}

func NewDOMStrategy(store Storefront, bounds PriceBounds, logger *slog.Logger) *DOMStrategy {
	return &DOMStrategy{
		store:  store,
		bounds: bounds,
		logger: logger.With("component", "dom_strategy"),
		priceRe: regexp.MustCompile(
			`(\d+(?:[\s\x{00A0}]+\d+)*)[\s\x{00A0}]*` + regexp.QuoteMeta(store.Currency)),
	}
}

func (s *DOMStrategy) Name() string { return "dom" }

func (s *DOMStrategy) Method() types.ExtractionMethod { return types.MethodDOM }

func (s *DOMStrategy) Extract(resp *types.Response, limit int) ([]types.RawListing, []string, error) {
	doc, err := resp.Document()
	if err != nil {
		return nil, nil, &types.ExtractError{URL: resp.BaseURL(), Strategy: s.Name(), Err: err}
	}

	var warnings []string
	cards, matched := findCards(doc)
	if len(cards) == 0 {
		xcards, expr, xerr := findCardsXPath(resp.Body)
		if xerr != nil {
			warnings = append(warnings, fmt.Sprintf("dom xpath tier: %v", xerr))
		}
		cards, matched = xcards, expr
	}
	if len(cards) == 0 {
		return nil, warnings, nil
	}

	var listings []types.RawListing
	for i, card := range cards {
		if limit > 0 && len(listings) >= limit {
			break
		}
		l, ok, reason := s.listingFromCard(card, i)
		if !ok {
			warnings = append(warnings, reason)
			continue
		}
		listings = append(listings, l)
	}

	if len(listings) > 0 {
		s.logger.Debug("card extraction complete",
			"selector", matched,
			"cards", len(cards),
			"listings", len(listings))
	}
	return listings, warnings, nil
}

func findCards(doc *goquery.Document) ([]*goquery.Selection, string) {
	for _, selector := range cardSelectors {
		sel := doc.Find(selector)
		if sel.Length() <= minCardMatches {
			continue
		}
		cards := make([]*goquery.Selection, 0, sel.Length())
		sel.Each(func(_ int, card *goquery.Selection) {
			cards = append(cards, card)
		})
		return cards, selector
	}
	return nil, ""
}

// findCardsXPath reparses the body and runs the XPath tier. Each matched
// node is wrapped so the shared card parser can work on it.
func findCardsXPath(body []byte) ([]*goquery.Selection, string, error) {
	root, err := htmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, "", err
	}
	for _, expr := range cardXPaths {
		nodes, err := htmlquery.QueryAll(root, expr)
		if err != nil {
			return nil, "", err
		}
		if len(nodes) <= minCardMatches {
			continue
		}
		cards := make([]*goquery.Selection, 0, len(nodes))
		for _, node := range nodes {
			cards = append(cards, goquery.NewDocumentFromNode(node).Selection)
		}
		return cards, expr, nil
	}
	return nil, "", nil
}

func (s *DOMStrategy) listingFromCard(card *goquery.Selection, index int) (types.RawListing, bool, string) {
	price, oldPrice := s.cardPrices(card)
	if price <= 0 {
		return types.RawListing{}, false, fmt.Sprintf("dom card %d dropped: no usable price", index+1)
	}

	name := firstCardText(card, nameSelectors, 3)
	if name == "" {
		name = "Product"
	}
	if r := []rune(name); len(r) > maxNameRunes {
		name = string(r[:maxNameRunes])
	}

	pageURL := s.cardURL(card)
	sku := skuFromURL(pageURL)
	if sku == "" {
		sku = fmt.Sprintf("LMD%04d", index+1)
	}

	return types.RawListing{
		SourceID:  sku,
		Name:      name,
		Brand:     firstCardText(card, brandSelectors, 1),
		Price:     price,
		OldPrice:  oldPrice,
		SourceURL: pageURL,
		ImageURLs: s.cardImages(card),
	}, true, ""
}

// firstCardText returns the trimmed text of the first selector hit longer
// than minLen.
func firstCardText(card *goquery.Selection, selectors []string, minLen int) string {
	for _, selector := range selectors {
		elem := card.Find(selector).First()
		if elem.Length() == 0 {
			continue
		}
		text := strings.TrimSpace(elem.Text())
		if len(text) > minLen {
			return text
		}
	}
	return ""
}

// cardPrices resolves the current and old price. Selector tiers run first;
// when they miss, every currency-marked number in the card text is
// collected and the smallest becomes the current price, the largest the
// old one.
func (s *DOMStrategy) cardPrices(card *goquery.Selection) (price, oldPrice float64) {
	price = s.priceBySelectors(card, currentPriceSelectors)
	oldPrice = s.priceBySelectors(card, oldPriceSelectors)
	if price > 0 {
		return price, oldPrice
	}

	matches := s.priceRe.FindAllStringSubmatch(card.Text(), -1)
	var prices []float64
	for _, m := range matches {
		if v, ok := parseDigitGroup(m[1]); ok && s.bounds.Contains(v) {
			prices = append(prices, v)
		}
	}
	if len(prices) == 0 {
		return 0, oldPrice
	}
	sort.Float64s(prices)
	price = prices[0]
	if len(prices) > 1 {
		oldPrice = prices[len(prices)-1]
	}
	return price, oldPrice
}

func (s *DOMStrategy) priceBySelectors(card *goquery.Selection, selectors []string) float64 {
	for _, selector := range selectors {
		elem := card.Find(selector).First()
		if elem.Length() == 0 {
			continue
		}
		text := strings.TrimSpace(elem.Text())
		if text == "" || !strings.Contains(text, s.store.Currency) {
			continue
		}
		if v, ok := ParsePrice(text, s.bounds); ok {
			return v
		}
	}
	return 0
}

// cardURL picks the first product link. Links without a /p/ segment are
// navigation chrome, not product pages.
func (s *DOMStrategy) cardURL(card *goquery.Selection) string {
	// The card itself is the anchor on link-tier selectors.
	if href, ok := card.Attr("href"); ok && strings.Contains(href, "/p/") {
		return s.store.ResolveURL(href)
	}
	for _, selector := range []string{`a[href*="/p/"]`, `a[href]`} {
		var found string
		card.Find(selector).EachWithBreak(func(_ int, a *goquery.Selection) bool {
			href, ok := a.Attr("href")
			if !ok || !strings.Contains(href, "/p/") {
				return true
			}
			found = s.store.ResolveURL(href)
			return false
		})
		if found != "" {
			return found
		}
	}
	return ""
}

func (s *DOMStrategy) cardImages(card *goquery.Selection) []string {
	walker := newImageWalker()

	for _, selector := range cardImageSelectors {
		card.Find(selector).EachWithBreak(func(_ int, img *goquery.Selection) bool {
			if src := imageSource(img); src != "" {
				walker.add(s.store.ResolveURL(src))
			}
			return !walker.full()
		})
		if walker.full() {
			break
		}
	}

	// Lazy-loaded tiles keep the image in an inline style.
	if !walker.full() {
		card.Find(`[style*="background-image"], [data-bg], [data-image]`).
			EachWithBreak(func(_ int, styled *goquery.Selection) bool {
				style, _ := styled.Attr("style")
				for _, m := range backgroundImageRe.FindAllStringSubmatch(style, -1) {
					src := strings.TrimSpace(strings.Trim(strings.TrimSpace(m[1]), `"'`))
					if src != "" {
						walker.add(s.store.ResolveURL(src))
					}
					if walker.full() {
						return false
					}
				}
				return true
			})
	}

	return walker.found
}

// imageSource returns the first populated source attribute. srcset values
// carry width descriptors, so only the first URL is kept.
func imageSource(img *goquery.Selection) string {
	for _, attr := range cardImageAttrs {
		val, ok := img.Attr(attr)
		if !ok || strings.TrimSpace(val) == "" {
			continue
		}
		val = strings.TrimSpace(val)
		if attr == "srcset" || attr == "data-srcset" {
			val = strings.TrimSpace(strings.SplitN(val, ",", 2)[0])
			val = strings.SplitN(val, " ", 2)[0]
		}
		return val
	}
	return ""
}

// skuFromURL extracts the site SKU from a product URL: the path segment
// after /p/ when it looks like an article code, otherwise any long
// alphanumeric segment, uppercased either way.
func skuFromURL(pageURL string) string {
	if pageURL == "" {
		return ""
	}
	path := pageURL
	if i := strings.Index(path, "://"); i >= 0 {
		path = path[i+3:]
	}
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if i := strings.Index(path, "/"); i >= 0 {
		path = path[i+1:]
	} else {
		path = ""
	}

	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 2 && parts[0] == "p" && isArticleCode(parts[1], "-") {
		return strings.ToUpper(parts[1])
	}
	for _, part := range parts {
		if isArticleCode(part, "-_") {
			return strings.ToUpper(part)
		}
	}
	return ""
}

func isArticleCode(s, ignore string) bool {
	if len(s) < 8 {
		return false
	}
	seen := 0
	for _, r := range s {
		if strings.ContainsRune(ignore, r) {
			continue
		}
		if !isAlnum(r) {
			return false
		}
		seen++
	}
	return seen > 0
}

func isAlnum(r rune) bool {
	return r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z'
}
