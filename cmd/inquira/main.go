package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/inquira/inquira/pkg/config"
	"github.com/inquira/inquira/pkg/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string
	var jsonLogs bool
	cmd := &cobra.Command{
		Use:           "inquira",
		Short:         "Document ingestion and retrieval-augmented question answering",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			if jsonLogs {
				cfg.Log.JSON = true
			}
			log := logger.NewLogger(&logger.Config{
				Level: logger.LogLevel(cfg.Log.Level),
				JSON:  cfg.Log.JSON,
			})
			ctx := logger.ContextWithLogger(cmd.Context(), log)
			ctx = withAppConfig(ctx, cfg)
			cmd.SetContext(ctx)
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "emit logs as JSON")
	cmd.AddCommand(newIngestCmd(), newAskCmd(), newStatsCmd())
	return cmd
}
