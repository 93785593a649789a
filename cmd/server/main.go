package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sujalbistaa/qreview/internal/config"
	"github.com/sujalbistaa/qreview/internal/logging"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		log.Error().Err(err).Msg("qreview exited with error")
		os.Exit(1)
	}
}

// rootCommand builds the CLI. Running it without a subcommand serves HTTP.
func rootCommand() *cobra.Command {
	var cfg *config.Config

	rootCmd := &cobra.Command{
		Use:           "qreview",
		Short:         "QReview company review service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load()
			if err != nil {
				return err
			}
			cfg = loaded
			logging.Setup(cfg.Logging, cfg.Server.Env)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg)
		},
	}

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run migrations and start the HTTP server",
			RunE: func(cmd *cobra.Command, args []string) error {
				return serve(cmd.Context(), cfg)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply database migrations and exit",
			RunE: func(cmd *cobra.Command, args []string) error {
				return migrate(cfg)
			},
		},
	)

	return rootCmd
}
