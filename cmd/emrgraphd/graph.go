package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aurelia-health/emrgraph/internal/engine"
)

var graphCmd = &cobra.Command{
	Use:   "graph <patient-id>",
	Short: "Dump a patient's styled subgraph as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runGraph,
}

func runGraph(cmd *cobra.Command, args []string) error {
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

	pg, err := eng.PatientGraph(ctx, args[0])
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(pg, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
