package index

import (
	"context"

	"github.com/aurelia-health/emrgraph/internal/types"
)

// Vector store error codes
const (
	ErrCodeVectorConnectionFailed types.ErrorCode = "VECTOR_CONNECTION_FAILED"
	ErrCodeVectorUpsertFailed     types.ErrorCode = "VECTOR_UPSERT_FAILED"
	ErrCodeVectorSearchFailed     types.ErrorCode = "VECTOR_SEARCH_FAILED"
	ErrCodeVectorCollectionFailed types.ErrorCode = "VECTOR_COLLECTION_FAILED"
)

// Point is one vector record: embedding plus payload, keyed by a UUID
// derived from the Value node identifier so upserts overwrite rather than
// duplicate.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// ScoredPoint is a search hit with its similarity score.
type ScoredPoint struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// Filter restricts a search to points whose key matches any of the given
// values (OR semantics, as with the hashed-patient filter).
type Filter struct {
	Key   string
	AnyOf []string
}

// VectorStore provides vector persistence and nearest-neighbor search.
// Implementations must be thread-safe for concurrent access.
type VectorStore interface {
	// EnsureCollection creates the collection if it does not exist, along
	// with the payload index needed for filtered search.
	EnsureCollection(ctx context.Context, name string, vectorSize uint64) error

	// RecreateCollection drops and recreates the collection. Used by full
	// rebuilds; the vector index is always rebuildable from the graph store.
	RecreateCollection(ctx context.Context, name string, vectorSize uint64) error

	// Upsert inserts or overwrites points by ID.
	Upsert(ctx context.Context, collection string, points []*Point) error

	// Search returns the topK nearest points, optionally filtered.
	Search(ctx context.Context, collection string, vector []float32, topK uint64, filter *Filter) ([]*ScoredPoint, error)

	// Health reports whether the store is reachable.
	Health(ctx context.Context) types.HealthStatus

	// Close releases the underlying connection.
	Close() error
}
