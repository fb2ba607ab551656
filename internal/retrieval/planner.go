package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/aurelia-health/emrgraph/internal/graph"
	"github.com/aurelia-health/emrgraph/internal/types"
)

const plannerSystemPrompt = "You are a Neo4j Cypher expert. Generate a single read-only Cypher " +
	"statement that answers the user's question against the given schema. Return only the " +
	"statement, no explanation. Never generate statements that modify the graph."

const plannerQASystemPrompt = "You are a clinical QA assistant. Answer the question using ONLY " +
	"the provided Cypher query results. If the results are empty or insufficient, say so explicitly."

// Cypher keywords that mutate the graph. Generated statements containing any
// of these are rejected before execution.
var writeKeywords = []string{
	"CREATE", "MERGE", "DELETE", "DETACH", "SET", "REMOVE", "DROP",
	"LOAD CSV", "FOREACH", "CALL {", "CALL APOC",
}

var cypherFencePattern = regexp.MustCompile("(?s)```(?:cypher)?\\s*(.*?)```")

// PlanStep records one executed statement of a graph-query plan together
// with the rows it returned, serialized as JSON.
type PlanStep struct {
	Statement  string `json:"statement"`
	ResultRows string `json:"result_rows"`
}

// PlanAnswer is the result of a graph-query-planning retrieval.
type PlanAnswer struct {
	Answer string     `json:"answer"`
	Trace  []PlanStep `json:"trace"`
}

// GraphQueryPlanner answers questions by asking an LLM to generate a
// read-only Cypher statement, executing it, and synthesizing an answer from
// the rows it returns.
type GraphQueryPlanner struct {
	graph  graph.Client
	cypher Synthesizer
	qa     Synthesizer
	logger *slog.Logger
}

// NewGraphQueryPlanner creates a planner. The cypher synthesizer generates
// statements and the qa synthesizer writes the final answer; they may be
// backed by different models.
func NewGraphQueryPlanner(g graph.Client, cypher, qa Synthesizer, logger *slog.Logger) *GraphQueryPlanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &GraphQueryPlanner{graph: g, cypher: cypher, qa: qa, logger: logger}
}

// Answer runs the full plan: fetch schema, generate a statement, validate it
// as read-only, execute it, synthesize. Generation and validation failures
// return QUERY_PLAN_FAILED with the offending statement in the message; there
// is no automatic regeneration.
func (p *GraphQueryPlanner) Answer(ctx context.Context, question string, patientIDs []string) (PlanAnswer, error) {
	schema, err := p.fetchSchema(ctx)
	if err != nil {
		return PlanAnswer{}, err
	}

	prompt := fmt.Sprintf("Graph schema:\n%s\n\nQuestion:\n%s", schema, question)
	if len(patientIDs) > 0 {
		prompt += fmt.Sprintf("\n\nConstraint: only consider Patient nodes whose patientID is one of %s. "+
			"Filter on p.patientID explicitly.", strings.Join(patientIDs, ", "))
	}

	raw, err := p.cypher.Synthesize(ctx, plannerSystemPrompt, prompt)
	if err != nil {
		return PlanAnswer{}, types.WrapError(types.QUERY_PLAN_FAILED, "cypher generation failed", err)
	}

	statement := stripFences(raw)
	if statement == "" {
		return PlanAnswer{}, types.NewError(types.QUERY_PLAN_FAILED, "model returned an empty statement")
	}
	if kw, ok := findWriteKeyword(statement); ok {
		return PlanAnswer{}, types.NewError(types.QUERY_PLAN_FAILED,
			fmt.Sprintf("generated statement contains write keyword %q: %s", kw, statement))
	}

	result, err := p.graph.Read(ctx, statement, nil)
	if err != nil {
		return PlanAnswer{}, types.WrapError(types.QUERY_PLAN_FAILED,
			fmt.Sprintf("generated statement failed to execute: %s", statement), err)
	}

	rows, err := json.Marshal(result.Records)
	if err != nil {
		return PlanAnswer{}, types.WrapError(types.QUERY_PLAN_FAILED, "failed to serialize query results", err)
	}

	step := PlanStep{Statement: statement, ResultRows: string(rows)}
	p.logger.Debug("plan step executed", "rows", len(result.Records))

	user := fmt.Sprintf("Question:\n%s\n\nCypher statement:\n%s\n\nQuery results (JSON rows):\n%s",
		question, statement, step.ResultRows)
	answer, err := p.qa.Synthesize(ctx, plannerQASystemPrompt, user)
	if err != nil {
		return PlanAnswer{}, err
	}

	return PlanAnswer{Answer: answer, Trace: []PlanStep{step}}, nil
}

// fetchSchema summarizes the live graph schema for the generation prompt.
func (p *GraphQueryPlanner) fetchSchema(ctx context.Context) (string, error) {
	labels, err := p.collectStrings(ctx, "CALL db.labels() YIELD label RETURN label", "label")
	if err != nil {
		return "", types.WrapError(types.QUERY_PLAN_FAILED, "failed to fetch node labels", err)
	}
	relTypes, err := p.collectStrings(ctx,
		"CALL db.relationshipTypes() YIELD relationshipType RETURN relationshipType", "relationshipType")
	if err != nil {
		return "", types.WrapError(types.QUERY_PLAN_FAILED, "failed to fetch relationship types", err)
	}

	var b strings.Builder
	b.WriteString("Node labels: " + strings.Join(labels, ", ") + "\n")
	b.WriteString("Relationship types: " + strings.Join(relTypes, ", ") + "\n")
	b.WriteString("Shape: (Patient {patientID})-[...]->(SectionTable {name})" +
		"-[:HAS_INFORMATION_OF]->(Schema {field})-[:HAS_VALUE]->(Value {value, valueType, unit, node_id})")
	return b.String(), nil
}

func (p *GraphQueryPlanner) collectStrings(ctx context.Context, cypher, column string) ([]string, error) {
	result, err := p.graph.Read(ctx, cypher, nil)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(result.Records))
	for _, row := range result.Records {
		if s, ok := row[column].(string); ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// stripFences removes a surrounding markdown code fence, if present, and
// trims whitespace and trailing semicolons.
func stripFences(s string) string {
	if m := cypherFencePattern.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	return strings.TrimRight(strings.TrimSpace(s), "; \n\t")
}

// findWriteKeyword reports the first graph-mutating keyword found in the
// statement, matching whole words case-insensitively.
func findWriteKeyword(statement string) (string, bool) {
	upper := strings.ToUpper(statement)
	for _, kw := range writeKeywords {
		if wholeWordContains(upper, kw) {
			return kw, true
		}
	}
	return "", false
}

func wholeWordContains(haystack, word string) bool {
	idx := 0
	for {
		i := strings.Index(haystack[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isWordChar(haystack[start-1])
		afterOK := end == len(haystack) || !isWordChar(haystack[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(c byte) bool {
	return c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_'
}
