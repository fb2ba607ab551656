// Package engine wires the ingestion, indexing, and retrieval components into
// a single façade over the configured backing services.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/aurelia-health/emrgraph/internal/config"
	"github.com/aurelia-health/emrgraph/internal/emr"
	"github.com/aurelia-health/emrgraph/internal/graph"
	"github.com/aurelia-health/emrgraph/internal/index"
	"github.com/aurelia-health/emrgraph/internal/ingest"
	"github.com/aurelia-health/emrgraph/internal/privacy"
	"github.com/aurelia-health/emrgraph/internal/retrieval"
	"github.com/aurelia-health/emrgraph/internal/types"
	"github.com/aurelia-health/emrgraph/internal/visualize"
)

// QueryMode selects the retrieval strategy for a question.
type QueryMode string

const (
	// ModeHybrid combines vector search, graph context, and synthesis.
	ModeHybrid QueryMode = "hybrid"

	// ModeGraph plans and executes a generated Cypher statement.
	ModeGraph QueryMode = "graph"
)

// QueryRequest is a question against the indexed records.
type QueryRequest struct {
	Question   string    `json:"question"`
	PatientIDs []string  `json:"patient_ids,omitempty"`
	Mode       QueryMode `json:"mode"`

	// Attachment is an optional consultation document included as extra
	// context. Only the hybrid mode uses it; graph mode ignores it.
	Attachment string `json:"attachment,omitempty"`
}

// QueryResponse is the answer to a query in either mode.
type QueryResponse struct {
	Mode        QueryMode            `json:"mode"`
	Answer      string               `json:"answer"`
	ContextJSON string               `json:"context_json,omitempty"`
	EvidenceIDs []string             `json:"value_node_ids,omitempty"`
	Trace       []retrieval.PlanStep `json:"trace,omitempty"`
}

// IndexResult reports the outcome of an index write.
type IndexResult struct {
	Collection string `json:"collection"`
	Upserted   int    `json:"upserted"`
}

// Engine is the top-level façade over ingestion, indexing, and retrieval.
type Engine struct {
	graph    graph.Client
	vectors  index.VectorStore
	syncer   *ingest.Syncer
	indexer  *index.Indexer
	hybrid   *retrieval.HybridRetriever
	planner  *retrieval.GraphQueryPlanner
	renderer *visualize.Renderer
	logger   *slog.Logger
}

// Components bundles the engine's collaborators for direct construction,
// used by tests and callers that inject their own clients.
type Components struct {
	Graph    graph.Client
	Vectors  index.VectorStore
	Syncer   *ingest.Syncer
	Indexer  *index.Indexer
	Hybrid   *retrieval.HybridRetriever
	Planner  *retrieval.GraphQueryPlanner
	Renderer *visualize.Renderer
}

// NewFromComponents assembles an engine from pre-built collaborators.
func NewFromComponents(c Components, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		graph:    c.Graph,
		vectors:  c.Vectors,
		syncer:   c.Syncer,
		indexer:  c.Indexer,
		hybrid:   c.Hybrid,
		planner:  c.Planner,
		renderer: c.Renderer,
		logger:   logger,
	}
}

// New builds an engine from configuration, connecting to the configured graph
// and vector stores. The graph connection is established eagerly so startup
// fails fast when the store is unreachable.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	graphCfg := graph.DefaultClientConfig()
	graphCfg.URI = cfg.Neo4j.URI
	graphCfg.Username = cfg.Neo4j.Username
	graphCfg.Password = cfg.Neo4j.Password
	graphCfg.Database = cfg.Neo4j.Database

	graphClient, err := graph.NewNeo4jClient(graphCfg)
	if err != nil {
		return nil, err
	}
	if err := graphClient.Connect(ctx); err != nil {
		return nil, err
	}

	vectors, err := index.NewQdrantStore(index.QdrantConfig{
		Host:           cfg.Qdrant.Host,
		Port:           cfg.Qdrant.Port,
		UseTLS:         cfg.Qdrant.UseTLS,
		APIKey:         cfg.Qdrant.APIKey,
		RequestTimeout: cfg.Qdrant.RequestTimeout,
	})
	if err != nil {
		return nil, err
	}

	embedder, err := index.NewOpenAIEmbedder(index.OpenAIEmbedderConfig{
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		BaseURL:    cfg.Embedding.BaseURL,
		Timeout:    cfg.Embedding.RequestTimeout,
	})
	if err != nil {
		return nil, err
	}

	chatSynth, err := retrieval.NewOpenAISynthesizer(retrieval.OpenAISynthesizerConfig{
		APIKey:      cfg.Chat.APIKey,
		Model:       cfg.Chat.Model,
		Temperature: cfg.Chat.Temperature,
		BaseURL:     cfg.Chat.BaseURL,
		Timeout:     cfg.Chat.RequestTimeout,
	})
	if err != nil {
		return nil, err
	}
	cypherSynth, err := retrieval.NewOpenAISynthesizer(retrieval.OpenAISynthesizerConfig{
		APIKey:  cfg.Chat.APIKey,
		Model:   cfg.Chat.CypherModel,
		BaseURL: cfg.Chat.BaseURL,
		Timeout: cfg.Chat.RequestTimeout,
	})
	if err != nil {
		return nil, err
	}

	registry := emr.DefaultRegistry()
	hasher := privacy.NewPatientHasher(cfg.Privacy.PatientSalt)
	indexer := index.NewIndexer(graphClient, vectors, embedder, hasher, cfg.Qdrant.Collection, logger)
	loader := ingest.NewGraphLoader(graphClient)
	fingerprints := ingest.NewGraphFingerprintStore(graphClient)
	syncer := ingest.NewSyncer(cfg.Ingest.Directory, registry, loader, indexer, fingerprints, logger)

	return NewFromComponents(Components{
		Graph:    graphClient,
		Vectors:  vectors,
		Syncer:   syncer,
		Indexer:  indexer,
		Hybrid:   retrieval.NewHybridRetriever(graphClient, indexer, chatSynth, logger),
		Planner:  retrieval.NewGraphQueryPlanner(graphClient, cypherSynth, chatSynth, logger),
		Renderer: visualize.NewRenderer(graphClient, registry),
	}, logger), nil
}

// TriggerSync starts a sync pass in the background and returns immediately.
// A pass already in flight makes the new one a no-op; the returned status is
// "queued" either way.
func (e *Engine) TriggerSync(ctx context.Context) string {
	go func() {
		stats, err := e.syncer.SyncOnce(context.WithoutCancel(ctx))
		if err != nil {
			if types.CodeOf(err) == types.SYNC_ALREADY_ACTIVE {
				e.logger.Info("sync already in progress, trigger skipped")
				return
			}
			e.logger.Error("background sync failed", "error", err)
			return
		}
		e.logger.Info("background sync finished",
			"scanned", stats.Scanned, "skipped", stats.Skipped,
			"ingested", stats.Ingested, "failed", stats.Failed)
	}()
	return "queued"
}

// SyncNow runs one synchronous sync pass over the document directory.
func (e *Engine) SyncNow(ctx context.Context) (ingest.SyncStats, error) {
	return e.syncer.SyncOnce(ctx)
}

// RunPeriodicSync blocks, running sync passes at the given interval until
// the context is cancelled.
func (e *Engine) RunPeriodicSync(ctx context.Context, interval time.Duration) {
	e.syncer.RunPeriodic(ctx, interval)
}

// RebuildIndex drops and rebuilds the whole vector collection from the graph.
func (e *Engine) RebuildIndex(ctx context.Context) (IndexResult, error) {
	n, err := e.indexer.RebuildAll(ctx)
	if err != nil {
		return IndexResult{}, err
	}
	return IndexResult{Collection: e.indexer.Collection(), Upserted: n}, nil
}

// UpsertPatients refreshes the index entries for the given patients only.
func (e *Engine) UpsertPatients(ctx context.Context, patientIDs []string) (IndexResult, error) {
	n, err := e.indexer.UpsertPatients(ctx, patientIDs)
	if err != nil {
		return IndexResult{}, err
	}
	return IndexResult{Collection: e.indexer.Collection(), Upserted: n}, nil
}

// Query answers a question in the requested mode. An unrecognized mode
// defaults to hybrid.
func (e *Engine) Query(ctx context.Context, req QueryRequest) (QueryResponse, error) {
	switch req.Mode {
	case ModeGraph:
		answer, err := e.planner.Answer(ctx, req.Question, req.PatientIDs)
		if err != nil {
			return QueryResponse{}, err
		}
		return QueryResponse{Mode: ModeGraph, Answer: answer.Answer, Trace: answer.Trace}, nil
	default:
		answer, err := e.hybrid.Answer(ctx, req.Question, req.PatientIDs, req.Attachment)
		if err != nil {
			return QueryResponse{}, err
		}
		return QueryResponse{
			Mode:        ModeHybrid,
			Answer:      answer.Answer,
			ContextJSON: answer.ContextJSON,
			EvidenceIDs: answer.EvidenceIDs,
		}, nil
	}
}

// PatientGraph renders the styled subgraph for one patient.
func (e *Engine) PatientGraph(ctx context.Context, patientID string) (*visualize.PatientGraph, error) {
	return e.renderer.Render(ctx, patientID)
}

// Health reports the combined state of the backing stores. An unreachable
// graph store makes the engine unhealthy; a reachable graph store with an
// unreachable vector store degrades it, since ingestion and graph-mode
// queries still work without the index.
func (e *Engine) Health(ctx context.Context) types.HealthStatus {
	graphHealth := e.graph.Health(ctx)
	if !graphHealth.IsHealthy() {
		return graphHealth
	}
	if vectorHealth := e.vectors.Health(ctx); !vectorHealth.IsHealthy() {
		return types.Degraded("vector store unreachable: " + vectorHealth.Message)
	}
	return graphHealth
}

// Close releases the graph and vector store connections.
func (e *Engine) Close(ctx context.Context) error {
	var firstErr error
	if e.vectors != nil {
		if err := e.vectors.Close(); err != nil {
			firstErr = err
		}
	}
	if e.graph != nil {
		if err := e.graph.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
