package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aurelia-health/emrgraph/internal/engine"
)

var (
	queryMode       string
	queryPatients   []string
	queryAttachment string
	queryShowCtx    bool
)

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Ask a question against the indexed records",
	Long: `Answer a natural-language question. Hybrid mode (the default) combines
vector search over indexed facts with graph context and LLM synthesis; graph
mode asks the model to plan and execute a read-only Cypher statement.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&queryMode, "mode", string(engine.ModeHybrid), "retrieval mode: hybrid or graph")
	queryCmd.Flags().StringSliceVar(&queryPatients, "patient", nil, "restrict to patient ID (repeatable)")
	queryCmd.Flags().StringVar(&queryAttachment, "attach", "", "path to a consultation document to include (hybrid mode only)")
	queryCmd.Flags().BoolVar(&queryShowCtx, "show-context", false, "print the assembled context JSON")
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	req := engine.QueryRequest{
		Question:   strings.Join(args, " "),
		PatientIDs: queryPatients,
		Mode:       engine.QueryMode(queryMode),
	}
	if queryAttachment != "" {
		data, err := os.ReadFile(queryAttachment)
		if err != nil {
			return fmt.Errorf("reading attachment: %w", err)
		}
		req.Attachment = string(data)
	}

	eng, err := engine.New(ctx, cfg, newLogger())
	if err != nil {
		return err
	}
	defer eng.Close(ctx)

	resp, err := eng.Query(ctx, req)
	if err != nil {
		return err
	}

	fmt.Println(resp.Answer)
	if queryShowCtx && resp.ContextJSON != "" {
		fmt.Fprintln(os.Stderr, resp.ContextJSON)
	}
	for _, step := range resp.Trace {
		fmt.Fprintf(os.Stderr, "cypher: %s\nrows: %s\n", step.Statement, step.ResultRows)
	}
	return nil
}
