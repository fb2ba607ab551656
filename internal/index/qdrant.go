package index

import (
	"context"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/aurelia-health/emrgraph/internal/types"
)

// QdrantStore implements VectorStore using Qdrant's official gRPC client.
type QdrantStore struct {
	client  *qdrant.Client
	timeout time.Duration
}

// QdrantConfig configures the Qdrant gRPC connection.
// Port is the gRPC port (6334), not the HTTP REST port.
type QdrantConfig struct {
	Host   string
	Port   int
	UseTLS bool
	APIKey string

	// RequestTimeout bounds each store call. Zero means no bound.
	RequestTimeout time.Duration
}

// NewQdrantStore connects to Qdrant over gRPC.
func NewQdrantStore(cfg QdrantConfig) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, types.WrapError(ErrCodeVectorConnectionFailed,
			"failed to create qdrant client", err)
	}
	return &QdrantStore{client: client, timeout: cfg.RequestTimeout}, nil
}

// opCtx bounds a store call by the configured timeout.
func (s *QdrantStore) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// EnsureCollection creates the collection and its payload index if absent.
func (s *QdrantStore) EnsureCollection(ctx context.Context, name string, vectorSize uint64) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	exists, err := s.collectionExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.createCollection(ctx, name, vectorSize)
}

// RecreateCollection drops and recreates the collection.
func (s *QdrantStore) RecreateCollection(ctx context.Context, name string, vectorSize uint64) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	exists, err := s.collectionExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		if err := s.client.DeleteCollection(ctx, name); err != nil {
			return types.WrapError(ErrCodeVectorCollectionFailed,
				"failed to delete collection", err)
		}
	}
	return s.createCollection(ctx, name, vectorSize)
}

func (s *QdrantStore) collectionExists(ctx context.Context, name string) (bool, error) {
	info, err := s.client.GetCollectionInfo(ctx, name)
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
			return false, nil
		}
		return false, types.WrapRetryableError(ErrCodeVectorCollectionFailed,
			"failed to inspect collection", err)
	}
	return info != nil, nil
}

func (s *QdrantStore) createCollection(ctx context.Context, name string, vectorSize uint64) error {
	err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     vectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return types.WrapError(ErrCodeVectorCollectionFailed,
			"failed to create collection", err)
	}

	// Keyword index on the hashed patient field for fast filtered search.
	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: name,
		FieldName:      payloadPatientHash,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return types.WrapError(ErrCodeVectorCollectionFailed,
			"failed to create payload index", err)
	}
	return nil
}

// Upsert inserts or overwrites points by ID.
func (s *QdrantStore) Upsert(ctx context.Context, collection string, points []*Point) error {
	if len(points) == 0 {
		return nil
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	qdrantPoints := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		qdrantPoints[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(p.Payload),
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         qdrantPoints,
	})
	if err != nil {
		return types.WrapRetryableError(ErrCodeVectorUpsertFailed,
			"upsert failed", err)
	}
	return nil
}

// Search returns the topK nearest points, optionally filtered.
func (s *QdrantStore) Search(ctx context.Context, collection string, vector []float32, topK uint64, filter *Filter) ([]*ScoredPoint, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var qdrantFilter *qdrant.Filter
	if filter != nil && len(filter.AnyOf) > 0 {
		should := make([]*qdrant.Condition, len(filter.AnyOf))
		for i, v := range filter.AnyOf {
			should[i] = qdrant.NewMatch(filter.Key, v)
		}
		qdrantFilter = &qdrant.Filter{Should: should}
	}

	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(topK),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         qdrantFilter,
	})
	if err != nil {
		return nil, types.WrapRetryableError(ErrCodeVectorSearchFailed,
			"search failed", err)
	}

	hits := make([]*ScoredPoint, len(results))
	for i, r := range results {
		hits[i] = &ScoredPoint{
			ID:      pointIDString(r.Id),
			Score:   r.Score,
			Payload: flattenPayload(r.Payload),
		}
	}
	return hits, nil
}

// Health reports whether the Qdrant service is reachable.
func (s *QdrantStore) Health(ctx context.Context) types.HealthStatus {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if _, err := s.client.HealthCheck(ctx); err != nil {
		return types.Unhealthy(fmt.Sprintf("health check failed: %v", err))
	}
	return types.Healthy("connected to Qdrant")
}

// Close releases the underlying gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func pointIDString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if uuid := id.GetUuid(); uuid != "" {
		return uuid
	}
	return ""
}

// flattenPayload converts qdrant payload values back to plain Go values.
func flattenPayload(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = flattenValue(v)
	}
	return out
}

func flattenValue(v *qdrant.Value) any {
	if v == nil {
		return nil
	}
	switch kind := v.Kind.(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_ListValue:
		items := kind.ListValue.GetValues()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = flattenValue(item)
		}
		return out
	case *qdrant.Value_StructValue:
		return flattenPayload(kind.StructValue.GetFields())
	default:
		return nil
	}
}
