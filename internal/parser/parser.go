package parser

import (
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/akoreshkov/modaflow/internal/observability"
	"github.com/akoreshkov/modaflow/internal/types"
)

// Storefront describes one country site of the marketplace.
type Storefront struct {
	Domain   string // short code: ru, kz, by
	Host     string // scheme and host, no trailing slash
	Currency string // price suffix used on the site
}

var storefronts = map[string]Storefront{
	"ru": {Domain: "ru", Host: "https://www.lamoda.ru", Currency: "₽"},
	"kz": {Domain: "kz", Host: "https://www.lamoda.kz", Currency: "₸"},
	"by": {Domain: "by", Host: "https://www.lamoda.by", Currency: "р."},
}

// StorefrontFor returns the storefront for a domain code.
func StorefrontFor(domain string) (Storefront, error) {
	s, ok := storefronts[strings.ToLower(domain)]
	if !ok {
		return Storefront{}, fmt.Errorf("unsupported storefront domain %q", domain)
	}
	return s, nil
}

// SearchURL returns the catalog search endpoint.
func (s Storefront) SearchURL() string {
	return s.Host + "/catalogsearch/result/"
}

// SearchParams builds the query parameters for a catalog search page.
func (s Storefront) SearchParams(query string, page int) url.Values {
	params := url.Values{}
	params.Set("q", query)
	params.Set("submit", "y")
	if page > 1 {
		params.Set("p", strconv.Itoa(page))
	}
	return params
}

// ProductURL builds a canonical product page URL from a SKU and optional SEO
// tail segment.
func (s Storefront) ProductURL(sku, seoTail string) string {
	if seoTail != "" {
		return fmt.Sprintf("%s/p/%s/%s/", s.Host, strings.ToLower(sku), seoTail)
	}
	return fmt.Sprintf("%s/p/%s/", s.Host, strings.ToLower(sku))
}

// ResolveURL makes a page-relative href absolute against the storefront host.
func (s Storefront) ResolveURL(href string) string {
	href = strings.TrimSpace(href)
	switch {
	case href == "":
		return ""
	case strings.HasPrefix(href, "//"):
		return "https:" + href
	case strings.HasPrefix(href, "/"):
		return s.Host + href
	default:
		return href
	}
}

// Strategy is one extraction technique over a fetched page. Extract returns
// the candidates it found, warnings for candidates it had to drop, and an
// error only when the whole page was unusable for this strategy.
type Strategy interface {
	Name() string
	Method() types.ExtractionMethod
	Extract(resp *types.Response, limit int) ([]types.RawListing, []string, error)
}

// Chain runs strategies in order and stops at the first one that yields at
// least one candidate. The order is data, not control flow, so tests can
// reorder or substitute strategies.
type Chain struct {
	strategies []Strategy
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewChain builds the default chain for a storefront: embedded structured
// data, then DOM structure, then free-text patterns.
func NewChain(store Storefront, bounds PriceBounds, metrics *observability.Metrics, logger *slog.Logger) *Chain {
	return &Chain{
		strategies: []Strategy{
			NewEmbeddedStrategy(store, logger),
			NewDOMStrategy(store, bounds, logger),
			NewTextStrategy(store, bounds, logger),
		},
		metrics: metrics,
		logger:  logger.With("component", "extract_chain"),
	}
}

// NewChainWith builds a chain from an explicit strategy list.
func NewChainWith(metrics *observability.Metrics, logger *slog.Logger, strategies ...Strategy) *Chain {
	return &Chain{
		strategies: strategies,
		metrics:    metrics,
		logger:     logger.With("component", "extract_chain"),
	}
}

// Extract runs the chain over a fetched page. It returns the candidates from
// the first strategy that produced any, tagged with that strategy's method,
// plus accumulated warnings. An empty result with a nil error means no
// strategy matched.
func (c *Chain) Extract(resp *types.Response, limit int) ([]types.RawListing, types.ExtractionMethod, []string, error) {
	c.metrics.PagesParsed.Add(1)

	var warnings []string
	for _, s := range c.strategies {
		listings, warns, err := s.Extract(resp, limit)
		warnings = append(warnings, warns...)
		if err != nil {
			c.logger.Warn("strategy failed",
				"strategy", s.Name(),
				"url", resp.BaseURL(),
				"error", err,
			)
			warnings = append(warnings, fmt.Sprintf("strategy %s: %v", s.Name(), err))
			continue
		}
		if len(listings) == 0 {
			continue
		}

		kept, dropped := dedupeListings(listings, limit)
		c.metrics.ListingsExtracted.Add(int64(len(kept)))
		c.metrics.ListingsDropped.Add(int64(dropped))
		c.logger.Info("extraction complete",
			"strategy", s.Name(),
			"url", resp.BaseURL(),
			"found", len(listings),
			"kept", len(kept),
		)
		return kept, s.Method(), warnings, nil
	}

	return nil, "", warnings, nil
}

// Strategies exposes the configured order for inspection.
func (c *Chain) Strategies() []Strategy {
	return c.strategies
}

// dedupeListings drops candidates that repeat an earlier SKU or an earlier
// brand+name pair, preserving order, and truncates to limit.
func dedupeListings(listings []types.RawListing, limit int) (kept []types.RawListing, dropped int) {
	seenSKU := make(map[string]bool, len(listings))
	seenName := make(map[string]bool, len(listings))

	for _, l := range listings {
		if limit > 0 && len(kept) >= limit {
			dropped++
			continue
		}
		if l.SourceID != "" && seenSKU[l.SourceID] {
			dropped++
			continue
		}
		nameKey := strings.ToLower(l.Brand + ":" + l.Name)
		if seenName[nameKey] {
			dropped++
			continue
		}
		if l.SourceID != "" {
			seenSKU[l.SourceID] = true
		}
		seenName[nameKey] = true
		kept = append(kept, l)
	}
	return kept, dropped
}
