package index

import (
	"context"
	"time"

	"github.com/tmc/langchaingo/llms/openai"

	"github.com/aurelia-health/emrgraph/internal/types"
)

// Embedder generates embedding vectors from text content.
// Implementations must be thread-safe for concurrent access.
type Embedder interface {
	// Embed generates an embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts efficiently.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of embedding vectors.
	Dimensions() int

	// Model returns the name of the embedding model being used.
	Model() string
}

// OpenAIEmbedder generates embeddings through the OpenAI embeddings API.
// Question and fact embeddings must come from the same model, so the hybrid
// retriever shares this instance with the indexer.
type OpenAIEmbedder struct {
	client     embeddingClient
	model      string
	dimensions int
	timeout    time.Duration
}

// embeddingClient is the slice of the langchaingo API the embedder needs.
// Satisfied by *openai.LLM.
type embeddingClient interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// OpenAIEmbedderConfig configures the OpenAI embedder.
type OpenAIEmbedderConfig struct {
	APIKey     string
	Model      string
	Dimensions int
	BaseURL    string

	// Timeout bounds each embedding call. Zero means no bound.
	Timeout time.Duration
}

// NewOpenAIEmbedder creates an embedder for the configured model.
func NewOpenAIEmbedder(cfg OpenAIEmbedderConfig) (*OpenAIEmbedder, error) {
	if cfg.Model == "" {
		return nil, types.NewError(types.CONFIG_VALIDATION_FAILED, "embedding model cannot be empty")
	}
	if cfg.Dimensions <= 0 {
		return nil, types.NewError(types.CONFIG_VALIDATION_FAILED, "embedding dimensions must be positive")
	}

	opts := []openai.Option{
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.APIKey != "" {
		opts = append(opts, openai.WithToken(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	client, err := openai.New(opts...)
	if err != nil {
		return nil, types.WrapError(types.EMBEDDING_FAILED, "failed to create embedding client", err)
	}

	return &OpenAIEmbedder{
		client:     client,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		timeout:    cfg.Timeout,
	}, nil
}

// Embed generates an embedding vector for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one API call,
// bounded by the configured timeout.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	vecs, err := e.client.CreateEmbedding(ctx, texts)
	if err != nil {
		return nil, types.WrapRetryableError(types.EMBEDDING_FAILED,
			"embedding request failed", err)
	}
	if len(vecs) != len(texts) {
		return nil, types.NewError(types.EMBEDDING_FAILED,
			"embedding service returned wrong number of vectors")
	}
	return vecs, nil
}

// Dimensions returns the dimensionality of embedding vectors.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

// Model returns the name of the embedding model being used.
func (e *OpenAIEmbedder) Model() string {
	return e.model
}
