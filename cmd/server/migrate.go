package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"arcadepos/backend/internal/config"
	"arcadepos/backend/internal/logging"
	pgstore "arcadepos/backend/internal/store/postgres"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the postgres schema",
		Long:  "Apply the embedded postgres schema to DATABASE_URL. Statements are idempotent, so running it twice is safe.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd.Context(), config.Load())
		},
	}
}

func runMigrate(parent context.Context, cfg config.Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required for migrate")
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, 30*time.Second)
	defer cancel()

	pg, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pg.Close()

	if err := pg.Migrate(ctx); err != nil {
		return err
	}
	log := logging.Component("migrate")
	log.Info().Msg("schema applied")
	return nil
}
