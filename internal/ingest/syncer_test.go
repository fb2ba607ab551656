package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurelia-health/emrgraph/internal/emr"
	"github.com/aurelia-health/emrgraph/internal/graph"
)

// fakeUpserter records the patient IDs passed to the incremental index path.
type fakeUpserter struct {
	mu      sync.Mutex
	batches [][]string
	err     error
}

func (f *fakeUpserter) UpsertPatients(ctx context.Context, patientIDs []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.batches = append(f.batches, patientIDs)
	return len(patientIDs), nil
}

func writeDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestSyncer(dir string) (*Syncer, *graph.MockClient, *fakeUpserter, *MemoryFingerprintStore) {
	mock := graph.NewMockClient()
	upserter := &fakeUpserter{}
	fingerprints := NewMemoryFingerprintStore()
	syncer := NewSyncer(dir, emr.DefaultRegistry(), NewGraphLoader(mock), upserter, fingerprints, nil)
	return syncer, mock, upserter, fingerprints
}

const docOne = `{"patient_id": "001", "General_Information": {"name": "First"}}`

func TestSyncOnceIngestsNewDocument(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeDoc(t, dir, "001.json", docOne)

	syncer, mock, upserter, fingerprints := newTestSyncer(dir)

	stats, err := syncer.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncStats{Scanned: 1, Ingested: 1}, stats)

	// The graph was loaded and the index refreshed for that patient.
	assert.NotEmpty(t, mock.CallsTo("Write"))
	require.Len(t, upserter.batches, 1)
	assert.Equal(t, []string{"001"}, upserter.batches[0])

	fp, ok := fingerprints.Recorded("001")
	require.True(t, ok)
	assert.Equal(t, ContentHash([]byte(docOne)), fp.Hash)
	assert.Equal(t, "001.json", fp.File)
}

func TestSyncOnceSkipsUnchangedDocument(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeDoc(t, dir, "001.json", docOne)

	syncer, _, upserter, _ := newTestSyncer(dir)

	_, err := syncer.SyncOnce(ctx)
	require.NoError(t, err)

	stats, err := syncer.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncStats{Scanned: 1, Skipped: 1}, stats)
	assert.Len(t, upserter.batches, 1)
}

func TestSyncOnceReingestsChangedDocument(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := writeDoc(t, dir, "001.json", docOne)

	syncer, _, upserter, fingerprints := newTestSyncer(dir)

	_, err := syncer.SyncOnce(ctx)
	require.NoError(t, err)

	changed := `{"patient_id": "001", "General_Information": {"name": "Renamed"}}`
	require.NoError(t, os.WriteFile(path, []byte(changed), 0o644))

	stats, err := syncer.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncStats{Scanned: 1, Ingested: 1}, stats)
	assert.Len(t, upserter.batches, 2)

	fp, _ := fingerprints.Recorded("001")
	assert.Equal(t, ContentHash([]byte(changed)), fp.Hash)
}

func TestSyncOnceFailedLoadLeavesFingerprintStale(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeDoc(t, dir, "001.json", docOne)

	syncer, mock, _, fingerprints := newTestSyncer(dir)

	// Schema statements succeed, the document merge fails.
	calls := 0
	mock.WriteHandler = func(cypher string, params map[string]any) (graph.QueryResult, error) {
		calls++
		if calls > len(schemaStatements)+len(backfillStatements) {
			return graph.QueryResult{}, errors.New("store unavailable")
		}
		return graph.QueryResult{}, nil
	}

	stats, err := syncer.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncStats{Scanned: 1, Failed: 1}, stats)

	// Not recorded, so the next pass retries.
	_, ok := fingerprints.Recorded("001")
	assert.False(t, ok)

	mock.WriteHandler = nil
	stats, err = syncer.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncStats{Scanned: 1, Ingested: 1}, stats)
}

func TestSyncOnceFailedIndexNotRecorded(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeDoc(t, dir, "001.json", docOne)

	syncer, _, upserter, fingerprints := newTestSyncer(dir)
	upserter.err = errors.New("vector store down")

	stats, err := syncer.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncStats{Scanned: 1, Failed: 1}, stats)

	_, ok := fingerprints.Recorded("001")
	assert.False(t, ok)
}

func TestSyncOnceInvalidDocumentFails(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeDoc(t, dir, "bad.json", `{not json`)
	writeDoc(t, dir, "good.json", docOne)

	syncer, _, _, _ := newTestSyncer(dir)

	// A bad document never aborts the pass for the others.
	stats, err := syncer.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncStats{Scanned: 2, Ingested: 1, Failed: 1}, stats)
}

func TestSyncOnceIgnoresNonJSONFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeDoc(t, dir, "notes.txt", "not a record")

	syncer, _, _, _ := newTestSyncer(dir)

	stats, err := syncer.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncStats{}, stats)
}

func TestSyncOnceMultiRecordFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeDoc(t, dir, "batch.json", `[
		{"patient_id": "001", "General_Information": {"name": "First"}},
		{"patient_id": "002", "General_Information": {"name": "Second"}}
	]`)

	syncer, _, upserter, _ := newTestSyncer(dir)

	stats, err := syncer.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncStats{Scanned: 1, Ingested: 1}, stats)

	require.Len(t, upserter.batches, 1)
	assert.Equal(t, []string{"001", "002"}, upserter.batches[0])
}
