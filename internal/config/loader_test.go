package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 384, cfg.Embeddings.Dimension)
	assert.Equal(t, "BAAI/bge-small-en-v1.5", cfg.Embeddings.Model)
	assert.Equal(t, "chromem", cfg.VectorStore.Provider)
	assert.Equal(t, 5, cfg.VectorStore.TopK)
	assert.Equal(t, 1000, cfg.Ingest.MaxChunkSize)
	assert.Equal(t, []string{IngestionTypeGeneral, IngestionTypeScoped}, cfg.Ingest.AllowedIngestionTypes)
	assert.Equal(t, 1, cfg.Ingest.MaxConcurrency)
	assert.False(t, cfg.Relevance.Classifier.Enabled)
}

func TestLoadYAMLFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 9100
embeddings:
  dimension: 768
  model: BAAI/bge-base-en-v1.5
vectorstore:
  provider: qdrant
  qdrant:
    host: qdrant.internal
    collection: knowledge_prod
ingest:
  max_concurrency: 4
  metadata_fields:
    author: doc_author
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 768, cfg.Embeddings.Dimension)
	assert.Equal(t, "qdrant", cfg.VectorStore.Provider)
	assert.Equal(t, "qdrant.internal", cfg.VectorStore.Qdrant.Host)
	assert.Equal(t, "knowledge_prod", cfg.VectorStore.Qdrant.Collection)
	assert.Equal(t, 4, cfg.Ingest.MaxConcurrency)
	assert.Equal(t, map[string]string{"author": "doc_author"}, cfg.Ingest.MetadataFields)

	// Unset fields keep defaults.
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 1000, cfg.Ingest.MaxChunkSize)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfigFile(t, `
server:
  prot: 9100
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownKey)
	assert.Contains(t, err.Error(), "server.prot")
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("KNOWLEDGED_SERVER_PORT", "9200")
	t.Setenv("KNOWLEDGED_EMBEDDINGS_BASE_URL", "http://tei.internal:8080")
	t.Setenv("KNOWLEDGED_VECTORSTORE_QDRANT_HOST", "qdrant.internal")
	t.Setenv("KNOWLEDGED_UNRELATED_SETTING", "ignored")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, "http://tei.internal:8080", cfg.Embeddings.BaseURL)
	assert.Equal(t, "qdrant.internal", cfg.VectorStore.Qdrant.Host)
}

func TestLoadEnvBeatsFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 9100
`)
	t.Setenv("KNOWLEDGED_SERVER_PORT", "9300")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9300, cfg.Server.Port)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"bad level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"bad format", func(c *Config) { c.Logging.Format = "text" }, "logging.format"},
		{"missing base url", func(c *Config) { c.Embeddings.BaseURL = "" }, "embeddings.base_url"},
		{"bad dimension", func(c *Config) { c.Embeddings.Dimension = -1 }, "embeddings.dimension"},
		{"bad provider", func(c *Config) { c.VectorStore.Provider = "pinecone" }, "vectorstore.provider"},
		{"bad chunk size", func(c *Config) { c.Ingest.MaxChunkSize = 0 }, "max_chunk_size"},
		{"no ingestion types", func(c *Config) { c.Ingest.AllowedIngestionTypes = nil }, "allowed_ingestion_types"},
		{"classifier without url", func(c *Config) { c.Relevance.Classifier.Enabled = true }, "classifier.base_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEnvToKey(t *testing.T) {
	assert.Equal(t, "server.port", envToKey("KNOWLEDGED_SERVER_PORT"))
	assert.Equal(t, "embeddings.base_url", envToKey("KNOWLEDGED_EMBEDDINGS_BASE_URL"))
	assert.Equal(t, "vectorstore.qdrant.use_tls", envToKey("KNOWLEDGED_VECTORSTORE_QDRANT_USE_TLS"))
	assert.Equal(t, "relevance.classifier.api_key", envToKey("KNOWLEDGED_RELEVANCE_CLASSIFIER_API_KEY"))
	assert.Equal(t, "ingest.metadata_fields.author", envToKey("KNOWLEDGED_INGEST_METADATA_FIELDS_AUTHOR"))
	assert.Equal(t, "ingest.metadata_fields.display_name", envToKey("KNOWLEDGED_INGEST_METADATA_FIELDS_DISPLAY_NAME"))
	assert.Equal(t, "", envToKey("KNOWLEDGED_INGEST_METADATA_FIELDS"))
	assert.Equal(t, "", envToKey("KNOWLEDGED_NOT_A_KEY"))
}

func TestEnvMetadataFields(t *testing.T) {
	t.Setenv("KNOWLEDGED_INGEST_METADATA_FIELDS_AUTHOR", "doc_author")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "doc_author", cfg.Ingest.MetadataFields["author"])
}
