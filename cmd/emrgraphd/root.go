package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aurelia-health/emrgraph/internal/config"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "emrgraphd",
	Short: "Knowledge-graph ingestion and hybrid retrieval for structured EMR records",
	Long: `emrgraphd ingests structured EMR documents into a Neo4j knowledge graph,
maintains a privacy-hashed vector index in Qdrant, and answers questions
through hybrid (vector + graph + LLM) or graph-query-planning retrieval.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(reindexCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(graphCmd)
}

// newLogger builds the process logger honoring --verbose.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// loadConfig reads the configuration from --config, falling back to
// defaults when no path is given.
func loadConfig() (*config.Config, error) {
	return config.LoadWithDefaults(configPath)
}
