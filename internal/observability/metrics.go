package observability

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
)

// Metrics tracks operational counters for the importer. One instance is
// shared by the fetcher, the engine, and the API; all fields are updated
// atomically so concurrent items never need a lock.
type Metrics struct {
	// Request metrics
	RequestsTotal   atomic.Int64
	RequestsFailed  atomic.Int64
	RequestsRetried atomic.Int64
	RateLimitHits   atomic.Int64
	CacheHits       atomic.Int64

	// Extraction metrics
	PagesParsed       atomic.Int64
	ListingsExtracted atomic.Int64
	ListingsDropped   atomic.Int64

	// Import metrics
	ItemsCreated atomic.Int64
	ItemsUpdated atomic.Int64
	ItemsSkipped atomic.Int64
	ItemErrors   atomic.Int64

	// Enrichment metrics
	EnrichCalls     atomic.Int64
	EnrichFallbacks atomic.Int64

	// Run metrics
	RunsStarted   atomic.Int64
	RunsCompleted atomic.Int64
	RunsFailed    atomic.Int64

	BytesDownloaded atomic.Int64

	logger *slog.Logger
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(logger *slog.Logger) *Metrics {
	return &Metrics{
		logger: logger.With("component", "metrics"),
	}
}

// ServeHTTP serves metrics in Prometheus text exposition format.
func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	metrics := []struct {
		name  string
		help  string
		value int64
	}{
		{"modaflow_requests_total", "Total requests made", m.RequestsTotal.Load()},
		{"modaflow_requests_failed_total", "Total failed requests", m.RequestsFailed.Load()},
		{"modaflow_requests_retried_total", "Total retried requests", m.RequestsRetried.Load()},
		{"modaflow_rate_limit_hits_total", "Total HTTP 429 responses", m.RateLimitHits.Load()},
		{"modaflow_cache_hits_total", "Total fetch cache hits", m.CacheHits.Load()},
		{"modaflow_pages_parsed_total", "Total pages run through extraction", m.PagesParsed.Load()},
		{"modaflow_listings_extracted_total", "Total listing candidates extracted", m.ListingsExtracted.Load()},
		{"modaflow_listings_dropped_total", "Total listing candidates dropped", m.ListingsDropped.Load()},
		{"modaflow_items_created_total", "Total catalog items created", m.ItemsCreated.Load()},
		{"modaflow_items_updated_total", "Total catalog items updated", m.ItemsUpdated.Load()},
		{"modaflow_items_skipped_total", "Total catalog items skipped", m.ItemsSkipped.Load()},
		{"modaflow_item_errors_total", "Total per-item import errors", m.ItemErrors.Load()},
		{"modaflow_enrich_calls_total", "Total external enrichment calls", m.EnrichCalls.Load()},
		{"modaflow_enrich_fallbacks_total", "Total template enrichment fallbacks", m.EnrichFallbacks.Load()},
		{"modaflow_runs_started_total", "Total import runs started", m.RunsStarted.Load()},
		{"modaflow_runs_completed_total", "Total import runs completed", m.RunsCompleted.Load()},
		{"modaflow_runs_failed_total", "Total import runs failed", m.RunsFailed.Load()},
		{"modaflow_bytes_downloaded_total", "Total bytes downloaded", m.BytesDownloaded.Load()},
	}

	for _, metric := range metrics {
		fmt.Fprintf(w, "# HELP %s %s\n", metric.name, metric.help)
		fmt.Fprintf(w, "# TYPE %s counter\n", metric.name)
		fmt.Fprintf(w, "%s %d\n", metric.name, metric.value)
	}
}

// Snapshot returns all metrics as a map.
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"requests_total":     m.RequestsTotal.Load(),
		"requests_failed":    m.RequestsFailed.Load(),
		"requests_retried":   m.RequestsRetried.Load(),
		"rate_limit_hits":    m.RateLimitHits.Load(),
		"cache_hits":         m.CacheHits.Load(),
		"pages_parsed":       m.PagesParsed.Load(),
		"listings_extracted": m.ListingsExtracted.Load(),
		"listings_dropped":   m.ListingsDropped.Load(),
		"items_created":      m.ItemsCreated.Load(),
		"items_updated":      m.ItemsUpdated.Load(),
		"items_skipped":      m.ItemsSkipped.Load(),
		"item_errors":        m.ItemErrors.Load(),
		"enrich_calls":       m.EnrichCalls.Load(),
		"enrich_fallbacks":   m.EnrichFallbacks.Load(),
		"runs_started":       m.RunsStarted.Load(),
		"runs_completed":     m.RunsCompleted.Load(),
		"runs_failed":        m.RunsFailed.Load(),
		"bytes_downloaded":   m.BytesDownloaded.Load(),
	}
}
