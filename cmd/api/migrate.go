package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/comitanigiacomo/kanso-analysis-engine/internal/adapters/repository"
	"github.com/comitanigiacomo/kanso-analysis-engine/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Server.Store != config.StorePostgres {
		return fmt.Errorf("migrate needs STORE=%s, got %s", config.StorePostgres, cfg.Server.Store)
	}
	slog.SetDefault(newLogger(cfg.Log))

	db, err := sqlx.Connect(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()
	return repository.Migrate(ctx, db)
}
