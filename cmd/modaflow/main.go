package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/akoreshkov/modaflow/internal/ai"
	"github.com/akoreshkov/modaflow/internal/config"
	"github.com/akoreshkov/modaflow/internal/engine"
	"github.com/akoreshkov/modaflow/internal/fetcher"
	"github.com/akoreshkov/modaflow/internal/observability"
	"github.com/akoreshkov/modaflow/internal/pipeline"
)

var (
	cfgFile string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "modaflow",
		Short: "ModaFlow — Lamoda catalog import pipeline",
		Long: `ModaFlow ingests fashion product listings from Lamoda storefronts
(kz, ru, by) into a structured product catalog.

Features:
  • Three-strategy extraction: embedded JSON, DOM selectors, text scan
  • Normalization, category classification and quality scoring
  • Optional AI enrichment with a deterministic template fallback
  • Idempotent catalog upsert with field-level merge rules
  • Postgres catalog, optional MongoDB raw-snapshot archive
  • REST API with background runs and progress reporting
  • JSON, JSONL, CSV export
  • Prometheus-style metrics endpoint`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// versionCmd creates the "version" subcommand.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ModaFlow %s\n", config.Version)
		},
	}
}

// configCmd creates the "config" subcommand for inspecting configuration.
func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			fmt.Printf("Server:\n")
			fmt.Printf("  Addr:              %s\n", cfg.Server.Addr)
			fmt.Printf("  Access Key:        %s\n", setOrNot(cfg.Server.AccessKey))
			fmt.Printf("  Shutdown Timeout:  %s\n", cfg.Server.ShutdownTimeout)
			fmt.Printf("\nDatabase:\n")
			fmt.Printf("  URL:               %s\n", setOrNot(cfg.Database.URL))
			fmt.Printf("  Max Conns:         %d\n", cfg.Database.MaxConns)
			fmt.Printf("\nArchive:\n")
			fmt.Printf("  Enabled:           %v\n", cfg.Archive.Enabled)
			fmt.Printf("  Database:          %s\n", cfg.Archive.Database)
			fmt.Printf("  Collection:        %s\n", cfg.Archive.Collection)
			fmt.Printf("\nFetcher:\n")
			fmt.Printf("  Request Timeout:   %s\n", cfg.Fetcher.RequestTimeout)
			fmt.Printf("  Max Retries:       %d\n", cfg.Fetcher.MaxRetries)
			fmt.Printf("  Delay:             %s to %s\n", cfg.Fetcher.MinDelay, cfg.Fetcher.MaxDelay)
			fmt.Printf("  Rate Limit:        %.1f req/s (burst %d)\n", cfg.Fetcher.RatePerSecond, cfg.Fetcher.RateBurst)
			fmt.Printf("  Max Body Size:     %d bytes\n", cfg.Fetcher.MaxBodySize)
			fmt.Printf("  User Agents:       %d configured\n", len(cfg.Fetcher.UserAgents))
			fmt.Printf("  Proxies:           %d configured\n", len(cfg.Fetcher.Proxies))
			fmt.Printf("\nBrowser:\n")
			fmt.Printf("  Enabled:           %v\n", cfg.Browser.Enabled)
			fmt.Printf("  Headless:          %v\n", cfg.Browser.Headless)
			fmt.Printf("\nImport:\n")
			fmt.Printf("  Domain:            %s\n", cfg.Import.Domain)
			fmt.Printf("  Default Limit:     %d (max %d)\n", cfg.Import.DefaultLimit, cfg.Import.MaxLimit)
			fmt.Printf("  Chunk Size:        %d\n", cfg.Import.ChunkSize)
			fmt.Printf("  Chunk Delay:       %s\n", cfg.Import.ChunkDelay)
			fmt.Printf("  Price Bounds:      %.0f to %.0f\n", cfg.Import.PriceMin, cfg.Import.PriceMax)
			fmt.Printf("  Min Category:      %.2f\n", cfg.Import.MinCategory)
			fmt.Printf("  Run History:       %d\n", cfg.Import.RunHistory)
			fmt.Printf("\nEnrich:\n")
			fmt.Printf("  API Key:           %s\n", setOrNot(cfg.Enrich.APIKey))
			fmt.Printf("  Model:             %s\n", cfg.Enrich.Model)
			fmt.Printf("  Timeout:           %s\n", cfg.Enrich.Timeout)
			fmt.Printf("\nLogging:\n")
			fmt.Printf("  Level:             %s\n", cfg.Logging.Level)
			fmt.Printf("  Format:            %s\n", cfg.Logging.Format)
			return nil
		},
	}
	return cmd
}

func setOrNot(s string) string {
	if s == "" {
		return "(not set)"
	}
	return "(set)"
}

// setupLogger builds the process logger from the logging section. The
// --verbose flag forces debug level regardless of config.
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	out := os.Stderr
	switch cfg.Output {
	case "", "stderr":
	case "stdout":
		out = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot open log file %s: %v, logging to stderr\n", cfg.Output, err)
		} else {
			out = f
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(out, opts)
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	}
	return slog.New(handler)
}

// buildFetcher returns the configured page fetcher: the headless browser
// when browser.enabled is set, the plain HTTP client otherwise.
func buildFetcher(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) (engine.Fetcher, func(), error) {
	if cfg.Browser.Enabled {
		bf := fetcher.NewBrowserFetcher(&cfg.Browser, metrics, logger)
		return bf, func() { _ = bf.Close() }, nil
	}
	hf, err := fetcher.NewHTTPFetcher(&cfg.Fetcher, metrics, logger)
	if err != nil {
		return nil, nil, err
	}
	return hf, func() { _ = hf.Close() }, nil
}

// buildProcessor assembles the listing pipeline, with AI enrichment when an
// API key is configured.
func buildProcessor(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) *pipeline.Pipeline {
	var enricher pipeline.Enricher
	if cfg.Enrich.APIKey != "" {
		client := ai.NewClient(ai.Config{
			Endpoint:    cfg.Enrich.Endpoint,
			APIKey:      cfg.Enrich.APIKey,
			Model:       cfg.Enrich.Model,
			Temperature: cfg.Enrich.Temperature,
			MaxTokens:   cfg.Enrich.MaxTokens,
			Timeout:     cfg.Enrich.Timeout,
		}, logger)
		enricher = pipeline.NewAIEnricher(client, metrics, logger)
	}
	return pipeline.Default(cfg, enricher, metrics, logger)
}
