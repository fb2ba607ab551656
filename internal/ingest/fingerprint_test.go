package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurelia-health/emrgraph/internal/graph"
	"github.com/aurelia-health/emrgraph/internal/types"
)

func TestContentHashIsStable(t *testing.T) {
	a := ContentHash([]byte(`{"patient_id":"001"}`))
	b := ContentHash([]byte(`{"patient_id":"001"}`))
	c := ContentHash([]byte(`{"patient_id":"002"}`))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestGraphFingerprintStoreLastHash(t *testing.T) {
	ctx := context.Background()
	mock := graph.NewMockClient()
	store := NewGraphFingerprintStore(mock)

	// Never recorded: OPTIONAL MATCH yields a null column.
	mock.ReadResults = []graph.QueryResult{
		{Records: []map[string]any{{"last_hash": nil}}},
	}
	_, seen, err := store.LastHash(ctx, "001")
	require.NoError(t, err)
	assert.False(t, seen)

	mock.ReadResults = []graph.QueryResult{
		{Records: []map[string]any{{"last_hash": "abc123"}}},
	}
	mock.Reset()
	hash, seen, err := store.LastHash(ctx, "001")
	require.NoError(t, err)
	assert.True(t, seen)
	assert.Equal(t, "abc123", hash)
}

func TestGraphFingerprintStoreRecord(t *testing.T) {
	ctx := context.Background()
	mock := graph.NewMockClient()
	store := NewGraphFingerprintStore(mock)

	fp := Fingerprint{Hash: "abc", File: "001.json", ModTime: 1700000000}
	require.NoError(t, store.Record(ctx, "001", fp))

	writes := mock.CallsTo("Write")
	require.Len(t, writes, 1)
	assert.Contains(t, writes[0].Cypher, "MERGE (m:IngestionMeta {patientID: $pid})")
	assert.Equal(t, "abc", writes[0].Params["hash"])
	assert.Equal(t, "001.json", writes[0].Params["fname"])
}

func TestGraphFingerprintStoreWrapsErrors(t *testing.T) {
	ctx := context.Background()
	mock := graph.NewMockClient()
	mock.ReadErr = errors.New("down")
	mock.WriteErr = errors.New("down")
	store := NewGraphFingerprintStore(mock)

	_, _, err := store.LastHash(ctx, "001")
	assert.Equal(t, types.FINGERPRINT_FAILED, types.CodeOf(err))

	err = store.Record(ctx, "001", Fingerprint{})
	assert.Equal(t, types.FINGERPRINT_FAILED, types.CodeOf(err))
}

func TestMemoryFingerprintStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryFingerprintStore()

	_, seen, err := store.LastHash(ctx, "001")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, store.Record(ctx, "001", Fingerprint{Hash: "h1"}))

	hash, seen, err := store.LastHash(ctx, "001")
	require.NoError(t, err)
	assert.True(t, seen)
	assert.Equal(t, "h1", hash)

	fp, ok := store.Recorded("001")
	assert.True(t, ok)
	assert.Equal(t, "h1", fp.Hash)

	store.FailWith(errors.New("offline"))
	_, _, err = store.LastHash(ctx, "001")
	assert.Error(t, err)
}
