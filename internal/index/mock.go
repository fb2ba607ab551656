package index

import (
	"context"
	"crypto/sha256"
	"sort"
	"sync"

	"github.com/aurelia-health/emrgraph/internal/types"
)

// MockEmbedder is a deterministic Embedder for tests. Each text maps to a
// fixed pseudo-vector derived from its hash, so identical texts always get
// identical embeddings.
type MockEmbedder struct {
	mu    sync.Mutex
	dims  int
	Texts []string

	EmbedErr error
}

// NewMockEmbedder creates a mock embedder with the given dimensionality.
func NewMockEmbedder(dims int) *MockEmbedder {
	return &MockEmbedder{dims: dims}
}

// Embed generates the deterministic vector for one text.
func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates deterministic vectors and records the texts.
func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.EmbedErr != nil {
		return nil, m.EmbedErr
	}

	m.Texts = append(m.Texts, texts...)
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		vecs[i] = pseudoVector(text, m.dims)
	}
	return vecs, nil
}

// Dimensions returns the configured dimensionality.
func (m *MockEmbedder) Dimensions() int { return m.dims }

// Model returns the mock model name.
func (m *MockEmbedder) Model() string { return "mock-embedding" }

func pseudoVector(text string, dims int) []float32 {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, dims)
	for i := range vec {
		vec[i] = float32(sum[i%len(sum)]) / 255.0
	}
	return vec
}

// MockVectorStore is an in-memory VectorStore for tests. Points are stored
// per collection, keyed by ID, so upserts overwrite.
type MockVectorStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]*Point

	UpsertErr error
	SearchErr error
	HealthErr error
}

// NewMockVectorStore creates an empty in-memory vector store.
func NewMockVectorStore() *MockVectorStore {
	return &MockVectorStore{collections: make(map[string]map[string]*Point)}
}

// EnsureCollection creates the collection if absent.
func (m *MockVectorStore) EnsureCollection(ctx context.Context, name string, vectorSize uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; !ok {
		m.collections[name] = make(map[string]*Point)
	}
	return nil
}

// RecreateCollection drops and recreates the collection.
func (m *MockVectorStore) RecreateCollection(ctx context.Context, name string, vectorSize uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections[name] = make(map[string]*Point)
	return nil
}

// Upsert inserts or overwrites points by ID.
func (m *MockVectorStore) Upsert(ctx context.Context, collection string, points []*Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpsertErr != nil {
		return m.UpsertErr
	}
	coll, ok := m.collections[collection]
	if !ok {
		coll = make(map[string]*Point)
		m.collections[collection] = coll
	}
	for _, p := range points {
		coll[p.ID] = p
	}
	return nil
}

// Search scores every stored point against the query vector by dot product
// and returns the topK best, honoring the filter.
func (m *MockVectorStore) Search(ctx context.Context, collection string, vector []float32, topK uint64, filter *Filter) ([]*ScoredPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}

	var hits []*ScoredPoint
	for _, p := range m.collections[collection] {
		if !matchesFilter(p, filter) {
			continue
		}
		hits = append(hits, &ScoredPoint{
			ID:      p.ID,
			Score:   dot(vector, p.Vector),
			Payload: p.Payload,
		})
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if uint64(len(hits)) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Health reports unhealthy when HealthErr is set.
func (m *MockVectorStore) Health(ctx context.Context) types.HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.HealthErr != nil {
		return types.Unhealthy(m.HealthErr.Error())
	}
	return types.Healthy("mock vector store")
}

// Close is a no-op.
func (m *MockVectorStore) Close() error { return nil }

// Points returns a copy of the stored points for a collection.
func (m *MockVectorStore) Points(collection string) []*Point {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Point
	for _, p := range m.collections[collection] {
		out = append(out, p)
	}
	return out
}

func matchesFilter(p *Point, filter *Filter) bool {
	if filter == nil || len(filter.AnyOf) == 0 {
		return true
	}
	val, _ := p.Payload[filter.Key].(string)
	for _, want := range filter.AnyOf {
		if val == want {
			return true
		}
	}
	return false
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := 0; i < len(a) && i < len(b); i++ {
		sum += a[i] * b[i]
	}
	return sum
}
