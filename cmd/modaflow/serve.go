package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/akoreshkov/modaflow/internal/api"
	"github.com/akoreshkov/modaflow/internal/catalog"
	"github.com/akoreshkov/modaflow/internal/config"
	"github.com/akoreshkov/modaflow/internal/engine"
	"github.com/akoreshkov/modaflow/internal/observability"
	"github.com/akoreshkov/modaflow/internal/storage"
)

var (
	serveAddr      string
	skipMigrations bool
)

// serveCmd creates the "serve" subcommand.
func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the import API server",
		Long: `Start the HTTP API and the background import engine.
Pending schema migrations run first unless --skip-migrations is set.`,
		RunE: runServe,
	}

	cmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not run schema migrations on startup")

	return cmd
}

// runServe executes the serve command.
func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger := setupLogger(cfg.Logging)

	if cfg.Database.URL == "" {
		return fmt.Errorf("database.url is required for serve")
	}

	if !skipMigrations {
		version, dirty, err := storage.RunMigrations(cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("schema is current", "version", version, "dirty", dirty)
	}

	ctx := context.Background()

	store, err := storage.NewPostgresStore(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("open catalog store: %w", err)
	}
	defer store.Close()

	metrics := observability.NewMetrics(logger)

	eng := engine.New(cfg, metrics, logger)

	fetch, closeFetcher, err := buildFetcher(cfg, metrics, logger)
	if err != nil {
		return fmt.Errorf("create fetcher: %w", err)
	}
	defer closeFetcher()
	eng.SetFetcher(fetch)

	eng.SetProcessor(buildProcessor(cfg, metrics, logger))
	eng.SetImporter(catalog.NewImporter(store, metrics, logger))

	if cfg.Archive.Enabled {
		arch, err := storage.NewMongoArchive(ctx, cfg.Archive, logger)
		if err != nil {
			logger.Warn("snapshot archive unavailable", "error", err)
		} else {
			eng.SetArchive(arch)
			defer arch.Close(context.Background())
		}
	}

	handler := api.NewHandler(eng, store, metrics, logger)
	srv := api.NewServer(cfg.Server, handler, metrics, logger)

	logger.Info("starting server",
		"addr", cfg.Server.Addr,
		"domain", cfg.Import.Domain,
		"archive", cfg.Archive.Enabled,
		"ai_enrich", cfg.Enrich.APIKey != "",
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case sig := <-sigCh:
		logger.Info("received signal, shutting down...", "signal", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", "error", err)
	}

	// Drain in-flight runs before the archive and store close.
	eng.Close()

	logger.Info("server stopped")
	return nil
}
