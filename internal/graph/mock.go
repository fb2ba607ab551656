package graph

import (
	"context"
	"sync"
	"time"

	"github.com/aurelia-health/emrgraph/internal/types"
)

// MockCall represents a recorded method call on the mock graph client.
type MockCall struct {
	Method    string
	Cypher    string
	Params    map[string]any
	Timestamp time.Time
}

// MockClient is a mock implementation of Client for testing.
// It provides configurable responses and tracks all method calls for verification.
type MockClient struct {
	mu sync.RWMutex

	connected bool
	calls     []MockCall

	// Configurable responses. Handlers take precedence over queued results;
	// queued results are consumed one per call, the last one repeating.
	ReadHandler  func(cypher string, params map[string]any) (QueryResult, error)
	WriteHandler func(cypher string, params map[string]any) (QueryResult, error)
	ReadResults  []QueryResult
	WriteResults []QueryResult
	GraphResult  Subgraph

	ConnectErr error
	CloseErr   error
	ReadErr    error
	WriteErr   error
	GraphErr   error

	readIdx  int
	writeIdx int
}

// NewMockClient creates a new mock graph client for testing.
func NewMockClient() *MockClient {
	return &MockClient{
		connected: true,
	}
}

// Connect records the call and simulates connection.
func (m *MockClient) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.record("Connect", "", nil)
	if m.ConnectErr != nil {
		return m.ConnectErr
	}
	m.connected = true
	return nil
}

// Close records the call and simulates disconnection.
func (m *MockClient) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.record("Close", "", nil)
	if m.CloseErr != nil {
		return m.CloseErr
	}
	m.connected = false
	return nil
}

// Health records the call and returns a status reflecting the connected flag.
func (m *MockClient) Health(ctx context.Context) types.HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.record("Health", "", nil)
	if !m.connected {
		return types.Unhealthy("not connected")
	}
	return types.Healthy("mock graph client")
}

// Read records the call and returns the configured result.
func (m *MockClient) Read(ctx context.Context, cypher string, params map[string]any) (QueryResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.record("Read", cypher, params)
	if m.ReadErr != nil {
		return QueryResult{}, m.ReadErr
	}
	if m.ReadHandler != nil {
		return m.ReadHandler(cypher, params)
	}
	return m.next(m.ReadResults, &m.readIdx), nil
}

// Write records the call and returns the configured result.
func (m *MockClient) Write(ctx context.Context, cypher string, params map[string]any) (QueryResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.record("Write", cypher, params)
	if m.WriteErr != nil {
		return QueryResult{}, m.WriteErr
	}
	if m.WriteHandler != nil {
		return m.WriteHandler(cypher, params)
	}
	return m.next(m.WriteResults, &m.writeIdx), nil
}

// ReadGraph records the call and returns the configured subgraph.
func (m *MockClient) ReadGraph(ctx context.Context, cypher string, params map[string]any) (Subgraph, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.record("ReadGraph", cypher, params)
	if m.GraphErr != nil {
		return Subgraph{}, m.GraphErr
	}
	return m.GraphResult, nil
}

// Calls returns a copy of all recorded calls.
func (m *MockClient) Calls() []MockCall {
	m.mu.RLock()
	defer m.mu.RUnlock()

	calls := make([]MockCall, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// CallsTo returns the recorded calls for a specific method.
func (m *MockClient) CallsTo(method string) []MockCall {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []MockCall
	for _, c := range m.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears recorded calls and queued result cursors.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = nil
	m.readIdx = 0
	m.writeIdx = 0
}

func (m *MockClient) record(method, cypher string, params map[string]any) {
	m.calls = append(m.calls, MockCall{
		Method:    method,
		Cypher:    cypher,
		Params:    params,
		Timestamp: time.Now(),
	})
}

func (m *MockClient) next(results []QueryResult, idx *int) QueryResult {
	if len(results) == 0 {
		return QueryResult{}
	}
	i := *idx
	if i >= len(results) {
		i = len(results) - 1
	}
	*idx++
	return results[i]
}
