// Package modaflow embeds the Lamoda listing import pipeline as a library.
//
// Example usage:
//
//	client, err := modaflow.New(
//	    modaflow.WithDomain("kz"),
//	    modaflow.WithLimit(30),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	summary, err := client.Import(ctx, "кроссовки nike", 0)
//
// Without WithCatalog the catalog lives in memory, which suits tests and
// one-off runs. OpenPostgres connects the persistent store the service uses.
package modaflow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/akoreshkov/modaflow/internal/ai"
	"github.com/akoreshkov/modaflow/internal/catalog"
	"github.com/akoreshkov/modaflow/internal/config"
	"github.com/akoreshkov/modaflow/internal/engine"
	"github.com/akoreshkov/modaflow/internal/fetcher"
	"github.com/akoreshkov/modaflow/internal/observability"
	"github.com/akoreshkov/modaflow/internal/pipeline"
	"github.com/akoreshkov/modaflow/internal/storage"
	"github.com/akoreshkov/modaflow/internal/types"
)

// Re-exported result and collaborator types, so embedders can name them.
type (
	ImportSummary = types.ImportSummary
	RunStatus     = engine.RunStatus
	CatalogStats  = types.CatalogStats
	Catalog       = storage.CatalogStore
	Archive       = storage.Archive
	RunSnapshot   = storage.RunSnapshot
)

// Client runs imports against one storefront configuration.
type Client struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics
	store   storage.CatalogStore
	archive storage.Archive
	eng     *engine.Engine

	closeFetcher func()
	ownStore     bool
}

// Option configures a Client.
type Option func(*Client)

// WithDomain selects the storefront: kz, ru or by.
func WithDomain(domain string) Option {
	return func(c *Client) { c.cfg.Import.Domain = domain }
}

// WithLimit sets the default number of listings per import.
func WithLimit(n int) Option {
	return func(c *Client) {
		c.cfg.Import.DefaultLimit = n
		if n > c.cfg.Import.MaxLimit {
			c.cfg.Import.MaxLimit = n
		}
	}
}

// WithPriceBounds sets the accepted price range for extracted listings.
func WithPriceBounds(min, max float64) Option {
	return func(c *Client) {
		c.cfg.Import.PriceMin = min
		c.cfg.Import.PriceMax = max
	}
}

// WithChunk sets the per-chunk concurrency and the pause between chunks.
func WithChunk(size int, delay time.Duration) Option {
	return func(c *Client) {
		c.cfg.Import.ChunkSize = size
		c.cfg.Import.ChunkDelay = delay
	}
}

// WithUserAgents replaces the rotating User-Agent pool.
func WithUserAgents(uas ...string) Option {
	return func(c *Client) { c.cfg.Fetcher.UserAgents = uas }
}

// WithBrowser fetches pages through a headless browser instead of the
// plain HTTP client.
func WithBrowser() Option {
	return func(c *Client) { c.cfg.Browser.Enabled = true }
}

// WithEnrichment enables AI enrichment. model may be empty to keep the
// configured default.
func WithEnrichment(apiKey, model string) Option {
	return func(c *Client) {
		c.cfg.Enrich.APIKey = apiKey
		if model != "" {
			c.cfg.Enrich.Model = model
		}
	}
}

// WithLogger replaces the default stderr logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithCatalog imports into the given store instead of an in-memory one.
// The caller keeps ownership and closes it.
func WithCatalog(cat Catalog) Option {
	return func(c *Client) { c.store = cat }
}

// WithArchive saves a raw snapshot of every run to the given sink.
func WithArchive(a Archive) Option {
	return func(c *Client) { c.archive = a }
}

// New builds a ready-to-run Client. The zero-option client imports from the
// kz storefront into an in-memory catalog.
func New(opts ...Option) (*Client, error) {
	c := &Client{cfg: config.DefaultConfig()}
	for _, opt := range opts {
		opt(c)
	}
	if err := config.Validate(c.cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if c.logger == nil {
		level := slog.LevelInfo
		if c.cfg.Logging.Level == "debug" {
			level = slog.LevelDebug
		}
		c.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
	c.metrics = observability.NewMetrics(c.logger)

	if c.store == nil {
		c.store = storage.NewMemoryStore()
		c.ownStore = true
	}

	eng := engine.New(c.cfg, c.metrics, c.logger)

	if c.cfg.Browser.Enabled {
		bf := fetcher.NewBrowserFetcher(&c.cfg.Browser, c.metrics, c.logger)
		eng.SetFetcher(bf)
		c.closeFetcher = func() { _ = bf.Close() }
	} else {
		hf, err := fetcher.NewHTTPFetcher(&c.cfg.Fetcher, c.metrics, c.logger)
		if err != nil {
			return nil, fmt.Errorf("create fetcher: %w", err)
		}
		eng.SetFetcher(hf)
		c.closeFetcher = func() { _ = hf.Close() }
	}

	var enricher pipeline.Enricher
	if c.cfg.Enrich.APIKey != "" {
		client := ai.NewClient(ai.Config{
			Endpoint:    c.cfg.Enrich.Endpoint,
			APIKey:      c.cfg.Enrich.APIKey,
			Model:       c.cfg.Enrich.Model,
			Temperature: c.cfg.Enrich.Temperature,
			MaxTokens:   c.cfg.Enrich.MaxTokens,
			Timeout:     c.cfg.Enrich.Timeout,
		}, c.logger)
		enricher = pipeline.NewAIEnricher(client, c.metrics, c.logger)
	}
	eng.SetProcessor(pipeline.Default(c.cfg, enricher, c.metrics, c.logger))
	eng.SetImporter(catalog.NewImporter(c.store, c.metrics, c.logger))
	if c.archive != nil {
		eng.SetArchive(c.archive)
	}

	c.eng = eng
	return c, nil
}

// Import runs one import synchronously. limit 0 uses the configured
// default. On failure the returned summary carries any partial counts.
func (c *Client) Import(ctx context.Context, query string, limit int) (*ImportSummary, error) {
	st, err := c.eng.Execute(ctx, engine.ImportRequest{Query: query, Limit: limit})
	return st.Summary, err
}

// StartImport launches a background run and returns its id for polling
// with Status.
func (c *Client) StartImport(query string, limit int) (string, error) {
	return c.eng.StartRun(engine.ImportRequest{Query: query, Limit: limit})
}

// Status reports a run by id.
func (c *Client) Status(runID string) (RunStatus, error) {
	return c.eng.Status(runID)
}

// Runs returns the most recent runs, newest first.
func (c *Client) Runs(n int) []RunStatus {
	return c.eng.RecentRuns(n)
}

// Stats returns catalog statistics from the underlying store.
func (c *Client) Stats(ctx context.Context) (*CatalogStats, error) {
	return c.store.Statistics(ctx)
}

// Metrics returns the operational counters.
func (c *Client) Metrics() map[string]int64 {
	return c.metrics.Snapshot()
}

// Close drains in-flight runs and releases the fetcher and, when owned,
// the catalog store.
func (c *Client) Close() {
	c.eng.Close()
	if c.closeFetcher != nil {
		c.closeFetcher()
	}
	if c.ownStore {
		c.store.Close()
	}
}

// OpenPostgres connects the Postgres-backed catalog store the service
// uses. Hand the result to WithCatalog. logger may be nil.
func OpenPostgres(ctx context.Context, databaseURL string, logger *slog.Logger) (Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return storage.NewPostgresStore(ctx, config.DatabaseConfig{URL: databaseURL}, logger)
}

// Migrate applies all pending catalog schema migrations.
func Migrate(databaseURL string) error {
	_, _, err := storage.RunMigrations(databaseURL)
	return err
}
