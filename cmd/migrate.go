/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"

	"github.com/accountd/apiserver/config"
	"github.com/accountd/apiserver/internal/db"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"
)

const defaultMigrationsURL = "file://internal/db/migrations"

// migrateCmd represents the migrate command.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run Postgres schema migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all up migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigration(cmd, "up", (*migrate.Migrate).Up)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert all migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigration(cmd, "down", (*migrate.Migrate).Down)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.PersistentFlags().String("path", defaultMigrationsURL, "migrations source URL")
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
}

func runMigration(cmd *cobra.Command, direction string, step func(*migrate.Migrate) error) error {
	cfg, logger := setup(cmd)
	if cfg.Store.Backend != config.StoreBackendPostgres {
		return fmt.Errorf("migrations apply to the postgres store, STORE_BACKEND is %q", cfg.Store.Backend)
	}

	source, _ := cmd.Flags().GetString("path")
	migrator, err := migrate.New(source, db.PostgresURL(cfg.Database))
	if err != nil {
		return fmt.Errorf("init migrator failed: %w", err)
	}
	defer func() {
		_, _ = migrator.Close()
	}()

	if err := step(migrator); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("no migrations to apply", "direction", direction)
			return nil
		}
		return fmt.Errorf("migrate %s failed: %w", direction, err)
	}
	logger.Info("migrations applied", "direction", direction)
	return nil
}
