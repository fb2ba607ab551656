package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aurelia-health/emrgraph/internal/engine"
)

var reindexPatients []string

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the vector index from the graph",
	Long: `Re-derive vector index entries from the Value nodes in the graph.
Without --patient the whole collection is dropped and rebuilt; with one or
more --patient flags only those patients' entries are refreshed.`,
	RunE: runReindex,
}

func init() {
	reindexCmd.Flags().StringSliceVar(&reindexPatients, "patient", nil,
		"patient ID to refresh (repeatable; omit for a full rebuild)")
}

func runReindex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	eng, err := engine.New(ctx, cfg, newLogger())
	if err != nil {
		return err
	}
	defer eng.Close(ctx)

	var result engine.IndexResult
	if len(reindexPatients) > 0 {
		result, err = eng.UpsertPatients(ctx, reindexPatients)
	} else {
		result, err = eng.RebuildIndex(ctx)
	}
	if err != nil {
		return err
	}

	fmt.Printf("collection=%s upserted=%d\n", result.Collection, result.Upserted)
	return nil
}
