package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/akoreshkov/modaflow/internal/config"
	"github.com/akoreshkov/modaflow/internal/storage"
)

// migrateCmd creates the "migrate" command group. Bare "migrate" applies
// all pending migrations, like "migrate up".
func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		RunE:  runMigrateUp,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE:  runMigrateUp,
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			RunE:  runMigrateDown,
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show the current schema version",
			RunE:  runMigrateVersion,
		},
	)
	return cmd
}

func migrateDatabaseURL() (string, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.URL == "" {
		return "", fmt.Errorf("database.url is not configured")
	}
	return cfg.Database.URL, nil
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	dbURL, err := migrateDatabaseURL()
	if err != nil {
		return err
	}
	version, dirty, err := storage.RunMigrations(dbURL)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	fmt.Printf("Schema at version %d (dirty: %v)\n", version, dirty)
	return nil
}

func runMigrateDown(cmd *cobra.Command, args []string) error {
	dbURL, err := migrateDatabaseURL()
	if err != nil {
		return err
	}
	if err := storage.RollbackMigration(dbURL); err != nil {
		return err
	}
	fmt.Println("Rolled back one migration")
	return nil
}

func runMigrateVersion(cmd *cobra.Command, args []string) error {
	dbURL, err := migrateDatabaseURL()
	if err != nil {
		return err
	}
	version, dirty, err := storage.MigrationVersion(dbURL)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version == 0 {
		fmt.Println("No migrations applied yet")
		return nil
	}
	fmt.Printf("Schema at version %d (dirty: %v)\n", version, dirty)
	return nil
}
