package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"arcadepos/backend/internal/config"
	"arcadepos/backend/internal/logging"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFiles []string

	root := &cobra.Command{
		Use:           "arcadepos",
		Short:         "Billing backend for gaming-venue point of sale",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(envFiles...); err != nil {
				return fmt.Errorf("load env files: %w", err)
			}
			cfg := config.Load()
			return logging.Setup(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
		},
	}
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to read before the environment (default .env)")

	serve := newServeCmd()
	root.AddCommand(serve, newMigrateCmd())
	// Running the binary without a subcommand serves the API.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())
	return root
}

// validateSecurityConfig refuses to start with a guessable token secret.
func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}
