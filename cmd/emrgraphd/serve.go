package main

import (
	"github.com/spf13/cobra"

	"github.com/aurelia-health/emrgraph/internal/engine"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the periodic ingestion loop until interrupted",
	Long: `Connect to the configured stores and run an ingestion pass at the
configured interval. The first pass runs immediately. Stops cleanly on
SIGINT or SIGTERM.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := newLogger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	eng, err := engine.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer eng.Close(ctx)

	logger.Info("starting periodic sync",
		"directory", cfg.Ingest.Directory, "interval", cfg.Ingest.Interval)
	eng.RunPeriodicSync(ctx, cfg.Ingest.Interval)
	logger.Info("shutting down")
	return nil
}
