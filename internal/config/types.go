// Package config provides configuration loading for knowledged.
package config

import (
	"fmt"
	"time"

	"github.com/brokerkit/knowledged/internal/telemetry"
)

// Recognized ingestion type values.
const (
	// IngestionTypeGeneral marks tenant-wide knowledge documents.
	IngestionTypeGeneral = "general"
	// IngestionTypeScoped marks documents bound to a sub-resource, e.g. a
	// property listing.
	IngestionTypeScoped = "scoped"
)

// Config is the root configuration for the knowledged daemon.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Ingest      IngestConfig      `koanf:"ingest"`
	Relevance   RelevanceConfig   `koanf:"relevance"`
	Telemetry   telemetry.Config  `koanf:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`
	// Format is json or console.
	Format string `koanf:"format"`
}

// EmbeddingsConfig holds embedding provider settings.
type EmbeddingsConfig struct {
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
	// Dimension is the embedding vector size. It is the single source of
	// truth shared by the embedder and the vector store; a mismatch against
	// an existing collection is a fatal startup error.
	Dimension    int           `koanf:"dimension"`
	Timeout      time.Duration `koanf:"timeout"`
	MaxRetries   int           `koanf:"max_retries"`
	RetryBackoff time.Duration `koanf:"retry_backoff"`
}

// VectorStoreConfig holds vector store settings.
type VectorStoreConfig struct {
	// Provider is qdrant or chromem.
	Provider string `koanf:"provider"`
	// TopK is the default number of matches per query.
	TopK    int           `koanf:"top_k"`
	Qdrant  QdrantConfig  `koanf:"qdrant"`
	Chromem ChromemConfig `koanf:"chromem"`
}

// QdrantConfig holds Qdrant connection settings.
type QdrantConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	Collection string `koanf:"collection"`
	UseTLS     bool   `koanf:"use_tls"`
}

// ChromemConfig holds embedded chromem-go settings.
type ChromemConfig struct {
	Path       string `koanf:"path"`
	Compress   bool   `koanf:"compress"`
	Collection string `koanf:"collection"`
}

// IngestConfig holds ingestion pipeline settings.
type IngestConfig struct {
	// MaxChunkSize bounds chunk length in characters.
	MaxChunkSize int `koanf:"max_chunk_size"`
	// AllowedIngestionTypes lists the recognized ingestionType values.
	// Documents with any other value are skipped with a validation error.
	AllowedIngestionTypes []string `koanf:"allowed_ingestion_types"`
	// MaxConcurrency bounds parallel document processing. 1 means serial.
	MaxConcurrency int `koanf:"max_concurrency"`
	// MetadataFields maps caller-supplied metadata field names onto stored
	// payload field names.
	MetadataFields map[string]string `koanf:"metadata_fields"`
}

// RelevanceConfig holds relevance gate settings. The keyword stage always
// runs; it is local and costs nothing. Empty keyword lists fall back to the
// gate's built-in defaults.
type RelevanceConfig struct {
	// OffTopicKeywords reject a query when matched, unless an on-topic
	// keyword also matches.
	OffTopicKeywords []string `koanf:"off_topic_keywords"`
	// OnTopicKeywords mark a query as in-domain.
	OnTopicKeywords []string         `koanf:"on_topic_keywords"`
	Classifier      ClassifierConfig `koanf:"classifier"`
}

// ClassifierConfig holds stage-two LLM classifier settings. The classifier
// is wired but disabled by default to control cost.
type ClassifierConfig struct {
	Enabled bool          `koanf:"enabled"`
	BaseURL string        `koanf:"base_url"`
	Model   string        `koanf:"model"`
	APIKey  string        `koanf:"api_key"`
	Timeout time.Duration `koanf:"timeout"`
}

// Validate checks cross-field constraints after defaults are applied.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	if c.Embeddings.BaseURL == "" {
		return fmt.Errorf("embeddings.base_url is required")
	}
	if c.Embeddings.Dimension <= 0 {
		return fmt.Errorf("embeddings.dimension must be positive, got %d", c.Embeddings.Dimension)
	}
	switch c.VectorStore.Provider {
	case "qdrant", "chromem":
	default:
		return fmt.Errorf("vectorstore.provider must be qdrant or chromem, got %q", c.VectorStore.Provider)
	}
	if c.Ingest.MaxChunkSize <= 0 {
		return fmt.Errorf("ingest.max_chunk_size must be positive, got %d", c.Ingest.MaxChunkSize)
	}
	if len(c.Ingest.AllowedIngestionTypes) == 0 {
		return fmt.Errorf("ingest.allowed_ingestion_types must not be empty")
	}
	if c.Ingest.MaxConcurrency <= 0 {
		return fmt.Errorf("ingest.max_concurrency must be positive, got %d", c.Ingest.MaxConcurrency)
	}
	if c.Relevance.Classifier.Enabled && c.Relevance.Classifier.BaseURL == "" {
		return fmt.Errorf("relevance.classifier.base_url is required when the classifier is enabled")
	}
	if err := c.Telemetry.Validate(); err != nil {
		return err
	}
	return nil
}
