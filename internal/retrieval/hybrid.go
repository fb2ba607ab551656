package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aurelia-health/emrgraph/internal/graph"
	"github.com/aurelia-health/emrgraph/internal/types"
)

// InsufficientDataAnswer is returned when no indexed facts match a question.
const InsufficientDataAnswer = "Insufficient data in the indexed records to answer this question."

const hybridSystemPrompt = "You are a clinical QA assistant. Use ONLY the provided JSON facts " +
	"(and optional document) to answer. If insufficient evidence is present, say so explicitly."

const defaultTopK = 12

// Per patient/section group, context facts are capped to keep prompts bounded.
const contextCypher = `
MATCH (v:Value) WHERE v.node_id IN $ids
MATCH (s:Schema)-[:HAS_VALUE]->(v)
MATCH (sec:SectionTable)-[:HAS_INFORMATION_OF]->(s)
MATCH (p:Patient)-[]->(sec)
WITH p, sec, s, v
ORDER BY p.patientID
WITH p.patientID AS patientID, sec.name AS section,
     collect(DISTINCT {
       field: s.field,
       value: v.value,
       valueType: v.valueType,
       unit: v.unit,
       node_id: v.node_id,
       category: v.category,
       disease_type: v.type,
       since_year: v.since_year,
       on_medication: v.on_medication
     })[0..24] AS facts
RETURN patientID, section, facts
`

// Searcher finds the Value identifiers of the facts nearest a question.
// Implemented by the vector indexer.
type Searcher interface {
	Search(ctx context.Context, queryText string, patientIDs []string, topK int) ([]string, error)
}

// HybridAnswer is the result of a hybrid-mode query.
type HybridAnswer struct {
	// Answer is the synthesized answer text.
	Answer string `json:"answer"`

	// ContextJSON is the assembled context, grouped by patient and section,
	// that grounded the answer.
	ContextJSON string `json:"context_json"`

	// EvidenceIDs lists the Value node identifiers that contributed,
	// in retrieval rank order. Never contains raw patient identifiers.
	EvidenceIDs []string `json:"value_node_ids"`
}

// HybridRetriever answers questions by combining nearest-neighbor vector
// search with graph-context expansion and LLM answer synthesis.
type HybridRetriever struct {
	graph    graph.Client
	searcher Searcher
	synth    Synthesizer
	logger   *slog.Logger
	topK     int
}

// NewHybridRetriever creates a hybrid retriever over the given collaborators.
func NewHybridRetriever(g graph.Client, searcher Searcher, synth Synthesizer, logger *slog.Logger) *HybridRetriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &HybridRetriever{
		graph:    g,
		searcher: searcher,
		synth:    synth,
		logger:   logger,
		topK:     defaultTopK,
	}
}

// Answer runs the hybrid retrieval path. An optional extra document is
// appended to the prompt as a labeled context block; it is not embedded or
// searched. Zero matching vectors yield an insufficient-data answer with an
// empty evidence list, never an error.
func (r *HybridRetriever) Answer(ctx context.Context, question string, patientIDs []string, extraDoc string) (HybridAnswer, error) {
	ids, err := r.searcher.Search(ctx, question, patientIDs, r.topK)
	if err != nil {
		return HybridAnswer{}, err
	}

	if len(ids) == 0 {
		return HybridAnswer{
			Answer:      InsufficientDataAnswer,
			ContextJSON: "{}",
			EvidenceIDs: []string{},
		}, nil
	}

	ids = dedupe(ids)

	ctxJSON, err := r.assembleContext(ctx, ids)
	if err != nil {
		return HybridAnswer{}, err
	}

	user := fmt.Sprintf("Question:\n%s\n\nEMR JSON (grouped by patient/section):\n%s", question, ctxJSON)
	if extraDoc != "" {
		user += fmt.Sprintf("\n\nAdditional consultation document:\n%s", extraDoc)
	}

	answer, err := r.synth.Synthesize(ctx, hybridSystemPrompt, user)
	if err != nil {
		return HybridAnswer{}, err
	}

	r.logger.Debug("hybrid answer produced", "evidence", len(ids))
	return HybridAnswer{
		Answer:      answer,
		ContextJSON: ctxJSON,
		EvidenceIDs: ids,
	}, nil
}

// assembleContext expands the retrieved Value identifiers into their graph
// context and serializes it grouped by patient then section.
func (r *HybridRetriever) assembleContext(ctx context.Context, ids []string) (string, error) {
	result, err := r.graph.Read(ctx, contextCypher, map[string]any{"ids": ids})
	if err != nil {
		return "", err
	}

	byPatient := make(map[string]map[string]any)
	for _, row := range result.Records {
		pid, _ := row["patientID"].(string)
		section, _ := row["section"].(string)
		if pid == "" || section == "" {
			continue
		}
		if byPatient[pid] == nil {
			byPatient[pid] = make(map[string]any)
		}
		byPatient[pid][section] = row["facts"]
	}

	data, err := json.MarshalIndent(byPatient, "", "  ")
	if err != nil {
		return "", types.WrapError(types.SYNTHESIS_FAILED, "failed to serialize context", err)
	}
	return string(data), nil
}

// dedupe removes repeated Value identifiers while preserving rank order.
func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
