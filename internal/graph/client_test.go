package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurelia-health/emrgraph/internal/types"
)

func TestClientConfigValidate(t *testing.T) {
	cfg := DefaultClientConfig()
	require.NoError(t, cfg.Validate())

	cfg.URI = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultClientConfig()
	cfg.Username = ""
	assert.Error(t, cfg.Validate())
}

func TestSubgraphEmpty(t *testing.T) {
	assert.True(t, Subgraph{}.Empty())
	assert.False(t, Subgraph{Nodes: []Node{{ID: "1"}}}.Empty())
}

func TestMockClientQueuedResults(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()
	mock.ReadResults = []QueryResult{
		{Records: []map[string]any{{"n": 1}}},
		{Records: []map[string]any{{"n": 2}}},
	}

	first, err := mock.Read(ctx, "RETURN 1", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Records[0]["n"])

	second, err := mock.Read(ctx, "RETURN 2", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Records[0]["n"])

	// The last queued result repeats.
	third, err := mock.Read(ctx, "RETURN 3", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, third.Records[0]["n"])
}

func TestMockClientHandlersTakePrecedence(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()
	mock.WriteResults = []QueryResult{{Records: []map[string]any{{"queued": true}}}}
	mock.WriteHandler = func(cypher string, params map[string]any) (QueryResult, error) {
		return QueryResult{Records: []map[string]any{{"handled": params["x"]}}}, nil
	}

	res, err := mock.Write(ctx, "MERGE (n)", map[string]any{"x": 42})
	require.NoError(t, err)
	assert.Equal(t, 42, res.Records[0]["handled"])
}

func TestMockClientRecordsCalls(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()

	_, _ = mock.Read(ctx, "MATCH (n) RETURN n", map[string]any{"a": 1})
	_, _ = mock.Write(ctx, "MERGE (n)", nil)
	_, _ = mock.Write(ctx, "MERGE (m)", nil)

	assert.Len(t, mock.Calls(), 3)

	writes := mock.CallsTo("Write")
	require.Len(t, writes, 2)
	assert.Equal(t, "MERGE (n)", writes[0].Cypher)

	mock.Reset()
	assert.Empty(t, mock.Calls())
}

func TestMockClientErrors(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()
	mock.ReadErr = errors.New("read down")
	mock.GraphErr = errors.New("graph down")

	_, err := mock.Read(ctx, "RETURN 1", nil)
	assert.EqualError(t, err, "read down")

	_, err = mock.ReadGraph(ctx, "MATCH p RETURN p", nil)
	assert.EqualError(t, err, "graph down")
}

func TestMockClientHealthReflectsConnection(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()

	assert.Equal(t, types.HealthStateHealthy, mock.Health(ctx).State)

	require.NoError(t, mock.Close(ctx))
	assert.Equal(t, types.HealthStateUnhealthy, mock.Health(ctx).State)

	require.NoError(t, mock.Connect(ctx))
	assert.True(t, mock.Health(ctx).IsHealthy())
}
