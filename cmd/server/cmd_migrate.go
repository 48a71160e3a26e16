package main

import (
	"fmt"

	"sage-app/internal/config"
	"sage-app/internal/repository/postgres"

	"github.com/spf13/cobra"
)

var rollbackSteps int

func init() {
	migrateDownCmd.Flags().IntVar(&rollbackSteps, "steps", 1, "number of migrations to revert")
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd)
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the PostgreSQL schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPostgres(cmd, func(pg *postgres.PostgresDB) error {
			return pg.RunMigrations()
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert the most recent migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPostgres(cmd, func(pg *postgres.PostgresDB) error {
			return pg.RollbackMigrations(rollbackSteps)
		})
	},
}

func withPostgres(cmd *cobra.Command, fn func(pg *postgres.PostgresDB) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Database.Store != config.StorePostgres {
		return fmt.Errorf("migrations need STORE=%s, got %q", config.StorePostgres, cfg.Database.Store)
	}

	pg, err := postgres.Open(cmd.Context(), cfg.Database)
	if err != nil {
		return err
	}
	defer pg.Close()

	return fn(pg)
}
