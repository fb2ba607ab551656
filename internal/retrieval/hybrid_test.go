package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurelia-health/emrgraph/internal/graph"
)

// stubSearcher returns a fixed set of Value identifiers.
type stubSearcher struct {
	ids []string
	err error

	queries  []string
	patients [][]string
}

func (s *stubSearcher) Search(ctx context.Context, queryText string, patientIDs []string, topK int) ([]string, error) {
	s.queries = append(s.queries, queryText)
	s.patients = append(s.patients, patientIDs)
	if s.err != nil {
		return nil, s.err
	}
	return s.ids, nil
}

func contextResult() graph.QueryResult {
	return graph.QueryResult{Records: []map[string]any{
		{
			"patientID": "00028",
			"section":   "MenstrualHistory",
			"facts": []any{
				map[string]any{"field": "Medicine", "value": "Bemfola", "node_id": "v1"},
			},
		},
	}}
}

func TestHybridAnswerHappyPath(t *testing.T) {
	ctx := context.Background()
	mock := graph.NewMockClient()
	mock.ReadResults = []graph.QueryResult{contextResult()}
	searcher := &stubSearcher{ids: []string{"v1", "v2"}}
	synth := NewMockSynthesizer("The patient takes Bemfola.")

	r := NewHybridRetriever(mock, searcher, synth, nil)

	answer, err := r.Answer(ctx, "What medicine is patient 00028 taking?", []string{"00028"}, "")
	require.NoError(t, err)

	assert.Equal(t, "The patient takes Bemfola.", answer.Answer)
	assert.Equal(t, []string{"v1", "v2"}, answer.EvidenceIDs)

	// The search was scoped to the requested patient.
	require.Len(t, searcher.patients, 1)
	assert.Equal(t, []string{"00028"}, searcher.patients[0])

	// The context expansion queried by the retrieved IDs.
	reads := mock.CallsTo("Read")
	require.Len(t, reads, 1)
	assert.Equal(t, []any{"v1", "v2"}, asAnySlice(reads[0].Params["ids"]))

	// The context is valid JSON grouped by patient then section.
	var parsed map[string]map[string]any
	require.NoError(t, json.Unmarshal([]byte(answer.ContextJSON), &parsed))
	assert.Contains(t, parsed, "00028")
	assert.Contains(t, parsed["00028"], "MenstrualHistory")

	// The prompt carries the question and the facts.
	require.Len(t, synth.UserPrompts, 1)
	assert.Contains(t, synth.UserPrompts[0], "What medicine is patient 00028 taking?")
	assert.Contains(t, synth.UserPrompts[0], "Bemfola")
	assert.Contains(t, synth.SystemPrompts[0], "ONLY")
}

func asAnySlice(v any) []any {
	switch s := v.(type) {
	case []any:
		return s
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out
	}
	return nil
}

func TestHybridAnswerZeroHits(t *testing.T) {
	ctx := context.Background()
	mock := graph.NewMockClient()
	searcher := &stubSearcher{ids: nil}
	synth := NewMockSynthesizer("should not be called")

	r := NewHybridRetriever(mock, searcher, synth, nil)

	answer, err := r.Answer(ctx, "anything", nil, "")
	require.NoError(t, err)

	assert.Equal(t, InsufficientDataAnswer, answer.Answer)
	assert.Empty(t, answer.EvidenceIDs)
	assert.Equal(t, "{}", answer.ContextJSON)

	// No graph expansion and no model call for zero hits.
	assert.Empty(t, mock.Calls())
	assert.Empty(t, synth.UserPrompts)
}

func TestHybridAnswerDeduplicatesEvidence(t *testing.T) {
	ctx := context.Background()
	mock := graph.NewMockClient()
	mock.ReadResults = []graph.QueryResult{contextResult()}
	searcher := &stubSearcher{ids: []string{"v2", "v1", "v2", "v1"}}
	synth := NewMockSynthesizer("ok")

	r := NewHybridRetriever(mock, searcher, synth, nil)

	answer, err := r.Answer(ctx, "q", nil, "")
	require.NoError(t, err)

	// Rank order is preserved.
	assert.Equal(t, []string{"v2", "v1"}, answer.EvidenceIDs)
}

func TestHybridAnswerAppendsExtraDocument(t *testing.T) {
	ctx := context.Background()
	mock := graph.NewMockClient()
	mock.ReadResults = []graph.QueryResult{contextResult()}
	searcher := &stubSearcher{ids: []string{"v1"}}
	synth := NewMockSynthesizer("ok")

	r := NewHybridRetriever(mock, searcher, synth, nil)

	_, err := r.Answer(ctx, "q", nil, "Consultation note: patient reports headaches.")
	require.NoError(t, err)

	require.Len(t, synth.UserPrompts, 1)
	assert.Contains(t, synth.UserPrompts[0], "Consultation note: patient reports headaches.")
}

func TestHybridAnswerPropagatesErrors(t *testing.T) {
	ctx := context.Background()

	r := NewHybridRetriever(graph.NewMockClient(), &stubSearcher{err: errors.New("embed failed")},
		NewMockSynthesizer("x"), nil)
	_, err := r.Answer(ctx, "q", nil, "")
	assert.EqualError(t, err, "embed failed")

	mock := graph.NewMockClient()
	mock.ReadErr = errors.New("graph down")
	r = NewHybridRetriever(mock, &stubSearcher{ids: []string{"v1"}}, NewMockSynthesizer("x"), nil)
	_, err = r.Answer(ctx, "q", nil, "")
	assert.EqualError(t, err, "graph down")

	synth := NewMockSynthesizer()
	synth.Err = errors.New("model error")
	mock = graph.NewMockClient()
	mock.ReadResults = []graph.QueryResult{contextResult()}
	r = NewHybridRetriever(mock, &stubSearcher{ids: []string{"v1"}}, synth, nil)
	_, err = r.Answer(ctx, "q", nil, "")
	assert.EqualError(t, err, "model error")
}
