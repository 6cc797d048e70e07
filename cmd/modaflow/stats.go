package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/akoreshkov/modaflow/internal/config"
	"github.com/akoreshkov/modaflow/internal/storage"
)

// statsCmd creates the "stats" subcommand.
func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show catalog statistics",
		RunE:  runStats,
	}
}

// runStats executes the stats command.
func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger := setupLogger(cfg.Logging)

	if cfg.Database.URL == "" {
		return fmt.Errorf("database.url is required for stats")
	}

	ctx := context.Background()
	store, err := storage.NewPostgresStore(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("open catalog store: %w", err)
	}
	defer store.Close()

	stats, err := store.Statistics(ctx)
	if err != nil {
		return fmt.Errorf("collect statistics: %w", err)
	}

	fmt.Printf("Catalog:\n")
	fmt.Printf("  Items:        %d\n", stats.TotalItems)
	fmt.Printf("  Variants:     %d\n", stats.TotalVariants)
	fmt.Printf("  Last 7 days:  %d new items\n", stats.RecentItems)
	fmt.Printf("\nPrices:\n")
	fmt.Printf("  Min:          %.2f\n", stats.Price.Min)
	fmt.Printf("  Max:          %.2f\n", stats.Price.Max)
	fmt.Printf("  Avg:          %.2f\n", stats.Price.Avg)

	if len(stats.TopBrands) > 0 {
		fmt.Printf("\nTop Brands:\n")
		for _, b := range stats.TopBrands {
			fmt.Printf("  %-24s %d\n", b.Label, b.Count)
		}
	}
	if len(stats.TopCategories) > 0 {
		fmt.Printf("\nTop Categories:\n")
		for _, c := range stats.TopCategories {
			fmt.Printf("  %-24s %d\n", c.Label, c.Count)
		}
	}

	return nil
}
