package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurelia-health/emrgraph/internal/emr"
	"github.com/aurelia-health/emrgraph/internal/graph"
	"github.com/aurelia-health/emrgraph/internal/index"
	"github.com/aurelia-health/emrgraph/internal/ingest"
	"github.com/aurelia-health/emrgraph/internal/privacy"
	"github.com/aurelia-health/emrgraph/internal/retrieval"
	"github.com/aurelia-health/emrgraph/internal/types"
	"github.com/aurelia-health/emrgraph/internal/visualize"
)

const testValueID = "11111111-1111-1111-1111-111111111111"

// newGraphMock answers every read path the engine exercises: fact rows for
// the indexer, context rows for the hybrid retriever, and schema metadata
// for the planner.
func newGraphMock() *graph.MockClient {
	mock := graph.NewMockClient()
	mock.ReadHandler = func(cypher string, params map[string]any) (graph.QueryResult, error) {
		switch {
		case strings.Contains(cypher, "db.labels"):
			return graph.QueryResult{Records: []map[string]any{
				{"label": "Patient"}, {"label": "Value"},
			}}, nil
		case strings.Contains(cypher, "db.relationshipTypes"):
			return graph.QueryResult{Records: []map[string]any{
				{"relationshipType": "HAS_MENSTRUAL_HISTORY"},
			}}, nil
		case params["ids"] != nil:
			return graph.QueryResult{Records: []map[string]any{
				{
					"patientID": "001",
					"section":   "MenstrualHistory",
					"facts": []any{
						map[string]any{"field": "Medicine", "value": "Bemfola", "node_id": testValueID},
					},
				},
			}}, nil
		case hasKey(params, "pids"):
			return graph.QueryResult{Records: []map[string]any{
				{
					"patientID": "001", "section": "MenstrualHistory", "field": "Medicine",
					"value": "Bemfola", "valueType": "string", "unit": nil,
					"category": nil, "disease_type": nil, "since_year": nil, "on_medication": nil,
					"v_id": testValueID, "s_id": "22222222-2222-2222-2222-222222222222",
				},
			}}, nil
		default:
			return graph.QueryResult{Records: []map[string]any{{"medicine": "Bemfola"}}}, nil
		}
	}
	return mock
}

func hasKey(params map[string]any, key string) bool {
	_, ok := params[key]
	return ok
}

type testEngine struct {
	engine       *Engine
	graph        *graph.MockClient
	store        *index.MockVectorStore
	chat         *retrieval.MockSynthesizer
	cypher       *retrieval.MockSynthesizer
	fingerprints *ingest.MemoryFingerprintStore
}

func newTestEngine(t *testing.T, docDir string) *testEngine {
	t.Helper()

	mock := newGraphMock()
	store := index.NewMockVectorStore()
	embedder := index.NewMockEmbedder(8)
	hasher := privacy.NewPatientHasher("AIEMR")
	indexer := index.NewIndexer(mock, store, embedder, hasher, "patient_transcript", nil)
	fingerprints := ingest.NewMemoryFingerprintStore()
	syncer := ingest.NewSyncer(docDir, emr.DefaultRegistry(),
		ingest.NewGraphLoader(mock), indexer, fingerprints, nil)

	chat := retrieval.NewMockSynthesizer("The patient takes Bemfola.")
	cypher := retrieval.NewMockSynthesizer("MATCH (v:Value) RETURN v.value AS medicine")

	eng := NewFromComponents(Components{
		Graph:    mock,
		Vectors:  store,
		Syncer:   syncer,
		Indexer:  indexer,
		Hybrid:   retrieval.NewHybridRetriever(mock, indexer, chat, nil),
		Planner:  retrieval.NewGraphQueryPlanner(mock, cypher, chat, nil),
		Renderer: visualize.NewRenderer(mock, nil),
	}, nil)

	return &testEngine{
		engine:       eng,
		graph:        mock,
		store:        store,
		chat:         chat,
		cypher:       cypher,
		fingerprints: fingerprints,
	}
}

func writeTestDoc(t *testing.T, dir string) {
	t.Helper()
	doc := `{"patient_id": "001", "Menstrual_History": {"medicine": ["Bemfola"]}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001.json"), []byte(doc), 0o644))
}

func TestEngineSyncThenHybridQuery(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeTestDoc(t, dir)
	te := newTestEngine(t, dir)

	stats, err := te.engine.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, ingest.SyncStats{Scanned: 1, Ingested: 1}, stats)
	assert.Len(t, te.store.Points("patient_transcript"), 1)

	resp, err := te.engine.Query(ctx, QueryRequest{
		Question:   "What medicine is the patient taking?",
		PatientIDs: []string{"001"},
	})
	require.NoError(t, err)

	assert.Equal(t, ModeHybrid, resp.Mode)
	assert.Equal(t, "The patient takes Bemfola.", resp.Answer)
	assert.Equal(t, []string{testValueID}, resp.EvidenceIDs)
	assert.Contains(t, resp.ContextJSON, "Bemfola")
	assert.Empty(t, resp.Trace)
}

func TestEngineHybridQueryNoIndexedData(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, t.TempDir())

	resp, err := te.engine.Query(ctx, QueryRequest{Question: "anything", Mode: ModeHybrid})
	require.NoError(t, err)

	assert.Equal(t, retrieval.InsufficientDataAnswer, resp.Answer)
	assert.Empty(t, resp.EvidenceIDs)
	assert.Empty(t, te.chat.UserPrompts)
}

func TestEngineGraphModeQuery(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, t.TempDir())

	resp, err := te.engine.Query(ctx, QueryRequest{
		Question:   "What medicine?",
		Mode:       ModeGraph,
		Attachment: "consultation note that graph mode ignores",
	})
	require.NoError(t, err)

	assert.Equal(t, ModeGraph, resp.Mode)
	assert.Equal(t, "The patient takes Bemfola.", resp.Answer)
	require.Len(t, resp.Trace, 1)
	assert.Equal(t, "MATCH (v:Value) RETURN v.value AS medicine", resp.Trace[0].Statement)
	assert.Contains(t, resp.Trace[0].ResultRows, "Bemfola")
	assert.Empty(t, resp.EvidenceIDs)

	// Graph mode never forwards the attachment.
	for _, prompt := range append(te.cypher.UserPrompts, te.chat.UserPrompts...) {
		assert.NotContains(t, prompt, "consultation note")
	}
}

func TestEngineRebuildIndex(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, t.TempDir())

	result, err := te.engine.RebuildIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, "patient_transcript", result.Collection)
	assert.Equal(t, 1, result.Upserted)
}

func TestEngineUpsertPatients(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, t.TempDir())

	result, err := te.engine.UpsertPatients(ctx, []string{"001"})
	require.NoError(t, err)
	assert.Equal(t, "patient_transcript", result.Collection)
	assert.Equal(t, 1, result.Upserted)
}

func TestEngineTriggerSync(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeTestDoc(t, dir)
	te := newTestEngine(t, dir)

	status := te.engine.TriggerSync(ctx)
	assert.Equal(t, "queued", status)

	require.Eventually(t, func() bool {
		_, ok := te.fingerprints.Recorded("001")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEnginePatientGraph(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, t.TempDir())
	te.graph.GraphResult = graph.Subgraph{
		Nodes: []graph.Node{
			{ID: "n1", Labels: []string{"Patient"}, Props: map[string]any{"patientID": "001"}},
		},
	}

	pg, err := te.engine.PatientGraph(ctx, "001")
	require.NoError(t, err)
	assert.Equal(t, "001", pg.PatientID)
	require.Len(t, pg.Nodes, 1)

	_, err = newTestEngine(t, t.TempDir()).engine.PatientGraph(ctx, "missing")
	assert.Equal(t, types.NOT_FOUND, types.CodeOf(err))
}

func TestEngineHealthAndClose(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, t.TempDir())

	assert.True(t, te.engine.Health(ctx).IsHealthy())
	require.NoError(t, te.engine.Close(ctx))
	assert.False(t, te.engine.Health(ctx).IsHealthy())
}

func TestEngineHealthDegradedWhenVectorStoreDown(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, t.TempDir())
	te.store.HealthErr = errors.New("connection refused")

	status := te.engine.Health(ctx)
	assert.Equal(t, types.HealthStateDegraded, status.State)
	assert.Contains(t, status.Message, "vector store")
}
