package config

import (
	"time"

	"github.com/aurelia-health/emrgraph/internal/types"
)

// Config is the root configuration for the engine.
type Config struct {
	Neo4j     Neo4jConfig     `mapstructure:"neo4j" yaml:"neo4j"`
	Qdrant    QdrantConfig    `mapstructure:"qdrant" yaml:"qdrant"`
	Embedding EmbeddingConfig `mapstructure:"embedding" yaml:"embedding"`
	Chat      ChatConfig      `mapstructure:"chat" yaml:"chat"`
	Ingest    IngestConfig    `mapstructure:"ingest" yaml:"ingest"`
	Privacy   PrivacyConfig   `mapstructure:"privacy" yaml:"privacy"`
}

// Neo4jConfig configures the graph store connection.
type Neo4jConfig struct {
	URI      string `mapstructure:"uri" yaml:"uri"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	Database string `mapstructure:"database" yaml:"database"`
}

// QdrantConfig configures the vector store connection.
type QdrantConfig struct {
	Host       string `mapstructure:"host" yaml:"host"`
	Port       int    `mapstructure:"port" yaml:"port"`
	UseTLS     bool   `mapstructure:"use_tls" yaml:"use_tls"`
	APIKey     string `mapstructure:"api_key" yaml:"api_key"`
	Collection string `mapstructure:"collection" yaml:"collection"`

	// RequestTimeout bounds each vector store call.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// EmbeddingConfig configures the embedding service.
type EmbeddingConfig struct {
	APIKey     string `mapstructure:"api_key" yaml:"api_key"`
	Model      string `mapstructure:"model" yaml:"model"`
	Dimensions int    `mapstructure:"dimensions" yaml:"dimensions"`
	BaseURL    string `mapstructure:"base_url" yaml:"base_url"`

	// RequestTimeout bounds each embedding call.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// ChatConfig configures the answer-synthesis language model.
type ChatConfig struct {
	APIKey      string  `mapstructure:"api_key" yaml:"api_key"`
	Model       string  `mapstructure:"model" yaml:"model"`
	CypherModel string  `mapstructure:"cypher_model" yaml:"cypher_model"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`
	BaseURL     string  `mapstructure:"base_url" yaml:"base_url"`

	// RequestTimeout bounds each chat completion call.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// IngestConfig configures the document sync loop.
type IngestConfig struct {
	// Directory holds the structured EMR documents (*.json).
	Directory string `mapstructure:"directory" yaml:"directory"`

	// Interval between periodic sync passes.
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// PrivacyConfig holds the secret salt used to hash patient identifiers
// before they are stored in the vector index.
type PrivacyConfig struct {
	PatientSalt string `mapstructure:"patient_salt" yaml:"patient_salt"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() *Config {
	return &Config{
		Neo4j: Neo4jConfig{
			URI:      "bolt://localhost:7687",
			Username: "neo4j",
		},
		Qdrant: QdrantConfig{
			Host:           "localhost",
			Port:           6334,
			Collection:     "patient_transcript",
			RequestTimeout: 30 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Model:          "text-embedding-3-small",
			Dimensions:     1536,
			RequestTimeout: 30 * time.Second,
		},
		Chat: ChatConfig{
			Model:          "gpt-5-mini",
			CypherModel:    "gpt-5",
			Temperature:    0.2,
			RequestTimeout: 120 * time.Second,
		},
		Ingest: IngestConfig{
			Directory: "data",
			Interval:  60 * time.Second,
		},
		Privacy: PrivacyConfig{
			PatientSalt: "AIEMR",
		},
	}
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Neo4j.URI == "" {
		return types.NewError(types.CONFIG_VALIDATION_FAILED, "neo4j.uri is required")
	}
	if c.Neo4j.Username == "" {
		return types.NewError(types.CONFIG_VALIDATION_FAILED, "neo4j.username is required")
	}
	if c.Qdrant.Host == "" {
		return types.NewError(types.CONFIG_VALIDATION_FAILED, "qdrant.host is required")
	}
	if c.Qdrant.Port <= 0 || c.Qdrant.Port > 65535 {
		return types.NewError(types.CONFIG_VALIDATION_FAILED, "qdrant.port must be between 1 and 65535")
	}
	if c.Qdrant.Collection == "" {
		return types.NewError(types.CONFIG_VALIDATION_FAILED, "qdrant.collection is required")
	}
	if c.Qdrant.RequestTimeout <= 0 {
		return types.NewError(types.CONFIG_VALIDATION_FAILED, "qdrant.request_timeout must be positive")
	}
	if c.Embedding.Model == "" {
		return types.NewError(types.CONFIG_VALIDATION_FAILED, "embedding.model is required")
	}
	if c.Embedding.Dimensions <= 0 {
		return types.NewError(types.CONFIG_VALIDATION_FAILED, "embedding.dimensions must be positive")
	}
	if c.Embedding.RequestTimeout <= 0 {
		return types.NewError(types.CONFIG_VALIDATION_FAILED, "embedding.request_timeout must be positive")
	}
	if c.Chat.Model == "" {
		return types.NewError(types.CONFIG_VALIDATION_FAILED, "chat.model is required")
	}
	if c.Chat.RequestTimeout <= 0 {
		return types.NewError(types.CONFIG_VALIDATION_FAILED, "chat.request_timeout must be positive")
	}
	if c.Ingest.Directory == "" {
		return types.NewError(types.CONFIG_VALIDATION_FAILED, "ingest.directory is required")
	}
	if c.Ingest.Interval <= 0 {
		return types.NewError(types.CONFIG_VALIDATION_FAILED, "ingest.interval must be positive")
	}
	if c.Privacy.PatientSalt == "" {
		return types.NewError(types.CONFIG_VALIDATION_FAILED, "privacy.patient_salt is required")
	}
	return nil
}
