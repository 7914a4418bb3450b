package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// envPrefix namespaces environment overrides, e.g. KNOWLEDGED_SERVER_PORT.
const envPrefix = "KNOWLEDGED_"

const maxConfigFileSize = 1024 * 1024 // 1MB

// ErrUnknownKey is returned when the YAML config contains an unrecognized
// option. Unknown keys are rejected at load time, not silently ignored.
var ErrUnknownKey = errors.New("unknown configuration key")

// knownKeys lists every recognized leaf key path. Keys under open-ended map
// sections are matched by prefix.
var knownKeys = map[string]bool{
	"server.host":                    true,
	"server.port":                    true,
	"server.shutdown_timeout":        true,
	"logging.level":                  true,
	"logging.format":                 true,
	"embeddings.base_url":            true,
	"embeddings.model":               true,
	"embeddings.dimension":           true,
	"embeddings.timeout":             true,
	"embeddings.max_retries":         true,
	"embeddings.retry_backoff":       true,
	"vectorstore.provider":           true,
	"vectorstore.top_k":              true,
	"vectorstore.qdrant.host":        true,
	"vectorstore.qdrant.port":        true,
	"vectorstore.qdrant.collection":  true,
	"vectorstore.qdrant.use_tls":     true,
	"vectorstore.chromem.path":       true,
	"vectorstore.chromem.compress":   true,
	"vectorstore.chromem.collection": true,
	"ingest.max_chunk_size":          true,
	"ingest.allowed_ingestion_types": true,
	"ingest.max_concurrency":         true,
	"relevance.off_topic_keywords":   true,
	"relevance.on_topic_keywords":    true,
	"relevance.classifier.enabled":   true,
	"relevance.classifier.base_url":  true,
	"relevance.classifier.model":     true,
	"relevance.classifier.api_key":   true,
	"relevance.classifier.timeout":   true,
	"telemetry.enabled":              true,
	"telemetry.endpoint":             true,
	"telemetry.insecure":             true,
	"telemetry.sample_rate":          true,
}

// knownKeyPrefixes covers map-valued sections whose sub-keys are free-form.
var knownKeyPrefixes = []string{
	"ingest.metadata_fields.",
}

// Load loads configuration from an optional YAML file, then overrides with
// KNOWLEDGED_* environment variables.
//
// Precedence (highest first): environment, YAML file, defaults. Unknown YAML
// keys fail the load with ErrUnknownKey so a typo in an option name is caught
// at startup instead of silently using a default.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", configPath, err)
		}
		if err := rejectUnknownKeys(k.Keys()); err != nil {
			return nil, fmt.Errorf("config file %s: %w", configPath, err)
		}
	}

	// Environment overrides: KNOWLEDGED_SERVER_PORT -> server.port,
	// KNOWLEDGED_VECTORSTORE_QDRANT_HOST -> vectorstore.qdrant.host.
	if err := k.Load(env.Provider(envPrefix, ".", envToKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// readConfigFile reads the config file, enforcing the size limit.
func readConfigFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return content, nil
}

// envToKey maps an environment variable name to a config key path by
// matching the longest known key.
//
//	KNOWLEDGED_SERVER_PORT               -> server.port
//	KNOWLEDGED_EMBEDDINGS_BASE_URL       -> embeddings.base_url
//	KNOWLEDGED_VECTORSTORE_QDRANT_HOST   -> vectorstore.qdrant.host
func envToKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	candidate := strings.ReplaceAll(lower, "_", ".")

	// Underscores are ambiguous between separators and field-name characters
	// (base_url vs server.port). Resolve against the known key list.
	for key := range knownKeys {
		if strings.ReplaceAll(key, "_", ".") == candidate {
			return key
		}
	}
	// Free-form sections keep the remainder as a single sub-key, with its
	// dots restored to underscores:
	//
	//	KNOWLEDGED_INGEST_METADATA_FIELDS_DISPLAY_NAME -> ingest.metadata_fields.display_name
	for _, prefix := range knownKeyPrefixes {
		normalized := strings.ReplaceAll(prefix, "_", ".")
		if rest, ok := strings.CutPrefix(candidate, normalized); ok && rest != "" {
			return prefix + strings.ReplaceAll(rest, ".", "_")
		}
	}
	// Unrecognized variables are dropped rather than misattributed.
	return ""
}

// rejectUnknownKeys fails if any loaded key path is not recognized.
func rejectUnknownKeys(keys []string) error {
	var unknown []string
outer:
	for _, key := range keys {
		if knownKeys[key] {
			continue
		}
		for _, prefix := range knownKeyPrefixes {
			if strings.HasPrefix(key, prefix) {
				continue outer
			}
		}
		unknown = append(unknown, key)
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return fmt.Errorf("%w: %s", ErrUnknownKey, strings.Join(unknown, ", "))
}

// applyDefaults fills in defaults for unset fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8080"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embeddings.Dimension == 0 {
		cfg.Embeddings.Dimension = 384
	}
	if cfg.Embeddings.Timeout == 0 {
		cfg.Embeddings.Timeout = 30 * time.Second
	}
	if cfg.Embeddings.MaxRetries == 0 {
		cfg.Embeddings.MaxRetries = 3
	}
	if cfg.Embeddings.RetryBackoff == 0 {
		cfg.Embeddings.RetryBackoff = time.Second
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "chromem"
	}
	if cfg.VectorStore.TopK == 0 {
		cfg.VectorStore.TopK = 5
	}
	if cfg.VectorStore.Qdrant.Host == "" {
		cfg.VectorStore.Qdrant.Host = "localhost"
	}
	if cfg.VectorStore.Qdrant.Port == 0 {
		cfg.VectorStore.Qdrant.Port = 6334
	}
	if cfg.VectorStore.Qdrant.Collection == "" {
		cfg.VectorStore.Qdrant.Collection = "knowledge_default"
	}
	if cfg.VectorStore.Chromem.Path == "" {
		cfg.VectorStore.Chromem.Path = "~/.config/knowledged/vectorstore"
	}
	if cfg.VectorStore.Chromem.Collection == "" {
		cfg.VectorStore.Chromem.Collection = "knowledge_default"
	}

	if cfg.Ingest.MaxChunkSize == 0 {
		cfg.Ingest.MaxChunkSize = 1000
	}
	if len(cfg.Ingest.AllowedIngestionTypes) == 0 {
		cfg.Ingest.AllowedIngestionTypes = []string{IngestionTypeGeneral, IngestionTypeScoped}
	}
	if cfg.Ingest.MaxConcurrency == 0 {
		cfg.Ingest.MaxConcurrency = 1
	}

	if cfg.Relevance.Classifier.Timeout == 0 {
		cfg.Relevance.Classifier.Timeout = 15 * time.Second
	}

	cfg.Telemetry.ApplyDefaults()
}
