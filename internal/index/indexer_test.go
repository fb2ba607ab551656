package index

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurelia-health/emrgraph/internal/graph"
	"github.com/aurelia-health/emrgraph/internal/privacy"
	"github.com/aurelia-health/emrgraph/internal/types"
)

const testCollection = "patient_transcript"

func factRow(pid, section, field string, value any, overrides map[string]any) map[string]any {
	row := map[string]any{
		"patientID": pid,
		"section":   section,
		"field":     field,
		"value":     value,
		"valueType": "string",
		"unit":      nil,
		"category":  nil, "disease_type": nil, "since_year": nil, "on_medication": nil,
		"v_id": uuid.NewString(),
		"s_id": uuid.NewString(),
	}
	for k, v := range overrides {
		row[k] = v
	}
	return row
}

func newTestIndexer(rows []map[string]any) (*Indexer, *graph.MockClient, *MockVectorStore, *MockEmbedder) {
	mock := graph.NewMockClient()
	mock.ReadResults = []graph.QueryResult{{Records: rows}}
	store := NewMockVectorStore()
	embedder := NewMockEmbedder(8)
	hasher := privacy.NewPatientHasher("AIEMR")
	ix := NewIndexer(mock, store, embedder, hasher, testCollection, nil)
	return ix, mock, store, embedder
}

func TestUpsertPatientsPayloadCarriesOnlyHashedID(t *testing.T) {
	ctx := context.Background()
	rows := []map[string]any{
		factRow("00028", "MenstrualHistory", "AgeOfMenarche", int64(13),
			map[string]any{"valueType": "int", "unit": "y"}),
	}
	ix, _, store, _ := newTestIndexer(rows)

	n, err := ix.UpsertPatients(ctx, []string{"00028"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	points := store.Points(testCollection)
	require.Len(t, points, 1)

	payload := points[0].Payload
	hasher := privacy.NewPatientHasher("AIEMR")
	assert.Equal(t, hasher.Hash("00028"), payload["patient_id_hash"])
	assert.Equal(t, "MenstrualHistory", payload["section"])
	assert.Equal(t, "AgeOfMenarche", payload["field"])
	assert.Equal(t, "y", payload["unit"])
	assert.Equal(t, "mock-embedding", payload["embedding_model"])

	// The raw identifier never reaches the vector store.
	for key, val := range payload {
		assert.NotEqual(t, "patient_id", key)
		assert.NotEqual(t, "00028", val)
	}
}

func TestUpsertPatientsEmptyInput(t *testing.T) {
	ix, mock, _, _ := newTestIndexer(nil)

	n, err := ix.UpsertPatients(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, mock.Calls())
}

func TestUpsertPatientsFiltersByPatient(t *testing.T) {
	ctx := context.Background()
	ix, mock, _, _ := newTestIndexer(nil)

	_, err := ix.UpsertPatients(ctx, []string{"001", "002"})
	require.NoError(t, err)

	reads := mock.CallsTo("Read")
	require.Len(t, reads, 1)
	assert.Equal(t, []string{"001", "002"}, reads[0].Params["pids"])
}

func TestRebuildAllRecreatesCollection(t *testing.T) {
	ctx := context.Background()
	rows := []map[string]any{
		factRow("001", "GeneralInformation", "Name", "First", nil),
		factRow("002", "GeneralInformation", "Name", "Second", nil),
	}
	ix, mock, store, _ := newTestIndexer(rows)

	// Pre-existing point that must not survive the rebuild.
	require.NoError(t, store.Upsert(ctx, testCollection,
		[]*Point{{ID: uuid.NewString(), Vector: make([]float32, 8)}}))

	n, err := ix.RebuildAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, store.Points(testCollection), 2)

	// A full rebuild reads without a patient filter.
	reads := mock.CallsTo("Read")
	require.Len(t, reads, 1)
	assert.Nil(t, reads[0].Params["pids"])
}

func TestUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	rows := []map[string]any{
		factRow("001", "GeneralInformation", "Name", "First", nil),
	}
	ix, _, store, _ := newTestIndexer(rows)

	_, err := ix.UpsertPatients(ctx, []string{"001"})
	require.NoError(t, err)
	_, err = ix.UpsertPatients(ctx, []string{"001"})
	require.NoError(t, err)

	// Same Value maps to the same point, so the upsert overwrites.
	assert.Len(t, store.Points(testCollection), 1)
}

func TestSearchReturnsValueIDsFilteredByPatient(t *testing.T) {
	ctx := context.Background()
	targetID := uuid.NewString()
	rows := []map[string]any{
		factRow("001", "MenstrualHistory", "Medicine", "Bemfola",
			map[string]any{"v_id": targetID}),
		factRow("002", "MenstrualHistory", "Medicine", "Bemfola", nil),
	}
	ix, _, _, _ := newTestIndexer(rows)

	_, err := ix.UpsertPatients(ctx, []string{"001", "002"})
	require.NoError(t, err)

	ids, err := ix.Search(ctx, "What medicine is the patient taking?", []string{"001"}, 12)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, targetID, ids[0])
}

func TestSearchWithoutPatientFilter(t *testing.T) {
	ctx := context.Background()
	rows := []map[string]any{
		factRow("001", "GeneralInformation", "Name", "First", nil),
		factRow("002", "GeneralInformation", "Name", "Second", nil),
	}
	ix, _, _, _ := newTestIndexer(rows)

	_, err := ix.UpsertPatients(ctx, []string{"001", "002"})
	require.NoError(t, err)

	ids, err := ix.Search(ctx, "patient names", nil, 12)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

func TestUpsertWrapsStoreErrors(t *testing.T) {
	ctx := context.Background()
	rows := []map[string]any{
		factRow("001", "GeneralInformation", "Name", "First", nil),
	}
	ix, _, store, _ := newTestIndexer(rows)
	store.UpsertErr = errors.New("qdrant down")

	_, err := ix.UpsertPatients(ctx, []string{"001"})
	require.Error(t, err)
	assert.Equal(t, types.INDEX_WRITE_FAILED, types.CodeOf(err))
	assert.True(t, types.IsRetryable(err))
}

func TestCanonicalText(t *testing.T) {
	plain := factRow("001", "MenstrualHistory", "AgeOfMenarche", int64(13),
		map[string]any{"unit": "y"})
	assert.Equal(t, "Patient AgeOfMenarche: 13 y.", canonicalText(plain))

	noUnit := factRow("001", "GeneralInformation", "Name", "A. Tester", nil)
	assert.Equal(t, "Patient Name: A. Tester.", canonicalText(noUnit))

	disease := factRow("001", "MedicalHistory", "PastDisease", "D1", map[string]any{
		"category": "Endocrine", "disease_type": "PCOS",
		"since_year": int64(2019), "on_medication": true,
	})
	assert.Equal(t,
		"Past disease (Endocrine; type: PCOS), since 2019, on medication: true.",
		canonicalText(disease))
}

func TestAsPointID(t *testing.T) {
	known := uuid.NewString()
	assert.Equal(t, known, asPointID(known))
	assert.Equal(t, known, asPointID("  "+known+" "))

	// Non-UUID identifiers map deterministically.
	a := asPointID("legacy-node-7")
	b := asPointID("legacy-node-7")
	assert.Equal(t, a, b)
	_, err := uuid.Parse(a)
	assert.NoError(t, err)

	assert.NotEqual(t, asPointID("legacy-node-7"), asPointID("legacy-node-8"))
}
