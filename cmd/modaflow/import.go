package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/akoreshkov/modaflow/internal/catalog"
	"github.com/akoreshkov/modaflow/internal/config"
	"github.com/akoreshkov/modaflow/internal/engine"
	"github.com/akoreshkov/modaflow/internal/observability"
	"github.com/akoreshkov/modaflow/internal/storage"
	"github.com/akoreshkov/modaflow/internal/types"
)

var (
	importLimit  int
	importDomain string
	exportPath   string
	dryRun       bool
)

// importCmd creates the "import" subcommand.
func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [query]",
		Short: "Run one import synchronously",
		Long: `Search the storefront for the query, process the listings and import
them into the catalog. With --export the processed listings are also written
to a local file; when no database is configured the run stays in memory and
is only exported.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runImport,
	}

	cmd.Flags().IntVarP(&importLimit, "limit", "l", 0, "maximum listings to import (0 = config default)")
	cmd.Flags().StringVarP(&importDomain, "domain", "d", "", "storefront domain: kz, ru or by")
	cmd.Flags().StringVarP(&exportPath, "export", "e", "", "write processed listings to a file (.json, .jsonl or .csv)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "process without touching the database")

	return cmd
}

// runImport executes the import command.
func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if importDomain != "" {
		cfg.Import.Domain = importDomain
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger := setupLogger(cfg.Logging)

	query := strings.Join(args, " ")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, cancelling run...", "signal", sig)
		cancel()
	}()

	// Dry runs and export-only runs without a database use the in-memory
	// catalog so identity resolution still works within the run.
	var store storage.CatalogStore
	switch {
	case dryRun || (cfg.Database.URL == "" && exportPath != ""):
		store = storage.NewMemoryStore()
	case cfg.Database.URL == "":
		return fmt.Errorf("database.url is not configured; use --export or --dry-run for a database-free run")
	default:
		pg, err := storage.NewPostgresStore(ctx, cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("open catalog store: %w", err)
		}
		defer pg.Close()
		store = pg
	}

	metrics := observability.NewMetrics(logger)

	eng := engine.New(cfg, metrics, logger)
	defer eng.Close()

	fetch, closeFetcher, err := buildFetcher(cfg, metrics, logger)
	if err != nil {
		return fmt.Errorf("create fetcher: %w", err)
	}
	defer closeFetcher()
	eng.SetFetcher(fetch)

	eng.SetProcessor(buildProcessor(cfg, metrics, logger))

	importer := engine.Importer(catalog.NewImporter(store, metrics, logger))
	var collector *collectingImporter
	if exportPath != "" {
		collector = &collectingImporter{inner: importer}
		importer = collector
	}
	eng.SetImporter(importer)

	if cfg.Archive.Enabled && !dryRun {
		arch, err := storage.NewMongoArchive(ctx, cfg.Archive, logger)
		if err != nil {
			logger.Warn("snapshot archive unavailable", "error", err)
		} else {
			eng.SetArchive(arch)
			defer arch.Close(context.Background())
		}
	}

	start := time.Now()
	st, err := eng.Execute(ctx, engine.ImportRequest{
		Query:  query,
		Limit:  importLimit,
		Domain: cfg.Import.Domain,
	})
	if err != nil {
		return err
	}

	printSummary(st, time.Since(start))

	if exportPath != "" {
		listings := collector.listings()
		if err := storage.Export(exportPath, listings, logger); err != nil {
			return fmt.Errorf("export: %w", err)
		}
		fmt.Printf("   Export:    %d listings written to %s\n", len(listings), exportPath)
	}

	return nil
}

// printSummary prints the run result in a human-readable block.
func printSummary(st engine.RunStatus, elapsed time.Duration) {
	s := st.Summary
	if s == nil {
		s = &types.ImportSummary{}
	}

	fmt.Printf("\n✅ Import complete in %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("   Run:       %s\n", st.ID)
	fmt.Printf("   Query:     %q (domain %s, limit %d)\n", st.Query, st.Domain, st.Limit)
	fmt.Printf("   Items:     %d created, %d updated, %d skipped\n", s.Created, s.Updated, s.Skipped)
	fmt.Printf("   Errors:    %d\n", s.Errors)

	for _, w := range s.Warnings {
		fmt.Printf("   ⚠ %s\n", w)
	}
	for _, msg := range s.ErrorMessages {
		fmt.Printf("   ✗ %s\n", msg)
	}

	if s.Created+s.Updated+s.Skipped == 0 {
		fmt.Println("\n💡 No listings made it into the catalog. Try a broader query or raise --limit.")
	}
}

// collectingImporter tees processed listings past the real importer so a
// finished run can be exported.
type collectingImporter struct {
	inner engine.Importer

	mu    sync.Mutex
	items []*types.EnrichedListing
}

func (c *collectingImporter) Import(ctx context.Context, l *types.EnrichedListing) types.ImportOutcome {
	c.mu.Lock()
	c.items = append(c.items, l)
	c.mu.Unlock()
	return c.inner.Import(ctx, l)
}

func (c *collectingImporter) listings() []*types.EnrichedListing {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.EnrichedListing(nil), c.items...)
}
