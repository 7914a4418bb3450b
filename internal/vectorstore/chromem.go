package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// chromemTracer for OpenTelemetry instrumentation.
var chromemTracer = otel.Tracer("knowledged.vectorstore.chromem")

// ChromemConfig holds configuration for the embedded chromem-go backend.
type ChromemConfig struct {
	// Path is the directory for persistent storage. Empty means in-memory
	// only, which is what tests use.
	Path string

	// Compress enables gzip compression for persisted data.
	Compress bool

	// Collection is the collection name. Default: "knowledge_default".
	Collection string

	// VectorSize is the embedding dimension. Must match the embedder.
	VectorSize int
}

// ApplyDefaults sets defaults for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "knowledge_default"
	}
}

// Validate validates the configuration.
func (c ChromemConfig) Validate() error {
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	if !collectionNamePattern.MatchString(c.Collection) {
		return fmt.Errorf("%w: collection must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidConfig, c.Collection)
	}
	return nil
}

// ChromemStore is a Store backed by the embedded chromem-go database.
//
// It requires no external service, persists to gob files when a path is
// configured, and enforces the same payload isolation as QdrantStore. Used
// for local mode and end-to-end tests.
type ChromemStore struct {
	db     *chromem.DB
	config ChromemConfig
	logger *zap.Logger

	mu         sync.Mutex
	collection *chromem.Collection
}

// NewChromemStore creates a ChromemStore, opening persistent storage when a
// path is configured.
func NewChromemStore(config ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var db *chromem.DB
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := expandHome(config.Path)
		if err != nil {
			return nil, err
		}
		db, err = chromem.NewPersistentDB(path, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("opening chromem db at %s: %w", path, err)
		}
	}

	s := &ChromemStore{db: db, config: config, logger: logger}
	if _, err := s.getCollection(); err != nil {
		return nil, err
	}
	return s, nil
}

// expandHome expands a leading ~ to the user's home directory.
func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expanding path %s: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// getCollection returns the configured collection, creating it on first use.
func (s *ChromemStore) getCollection() (*chromem.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.collection != nil {
		return s.collection, nil
	}

	// Records always carry precomputed embeddings, so the embedding func
	// must never run.
	coll, err := s.db.GetOrCreateCollection(s.config.Collection, nil,
		func(ctx context.Context, text string) ([]float32, error) {
			return nil, fmt.Errorf("chromem store received text without embedding")
		})
	if err != nil {
		return nil, fmt.Errorf("creating collection %s: %w", s.config.Collection, err)
	}
	s.collection = coll
	return coll, nil
}

// VectorSize returns the configured embedding dimension.
func (s *ChromemStore) VectorSize() int {
	return s.config.VectorSize
}

// Close is a no-op; chromem persists on write.
func (s *ChromemStore) Close() error {
	return nil
}

// Upsert writes records in one batch, idempotent by ID.
func (s *ChromemStore) Upsert(ctx context.Context, records []Record) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Upsert")
	defer span.End()

	span.SetAttributes(
		attribute.Int("record_count", len(records)),
		attribute.String("collection", s.config.Collection),
	)

	if len(records) == 0 {
		return ErrEmptyRecords
	}
	if err := InjectTenantMetadata(ctx, records); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("injecting tenant metadata: %w", err)
	}

	coll, err := s.getCollection()
	if err != nil {
		span.RecordError(err)
		return err
	}

	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		if len(r.Vector) != s.config.VectorSize {
			err := fmt.Errorf("%w: record %s has %d dims, store expects %d",
				ErrDimensionMismatch, r.ID, len(r.Vector), s.config.VectorSize)
			span.RecordError(err)
			return err
		}
		docs[i] = chromem.Document{
			ID:        r.ID,
			Content:   r.Content,
			Embedding: r.Vector,
			Metadata:  metadataToStrings(r.Metadata),
		}
	}

	if err := coll.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		RecordUpsert(len(records), err)
		return fmt.Errorf("adding documents: %w", err)
	}

	RecordUpsert(len(records), nil)
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Query returns up to topK matches for the embedding, filtered to the
// context tenant.
func (s *ChromemStore) Query(ctx context.Context, vector []float32, topK int, filters map[string]interface{}) ([]Match, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Query")
	defer span.End()

	topK = ClampTopK(topK)
	span.SetAttributes(
		attribute.String("collection", s.config.Collection),
		attribute.Int("top_k", topK),
	)

	if len(vector) != s.config.VectorSize {
		return nil, fmt.Errorf("%w: query vector has %d dims, store expects %d",
			ErrDimensionMismatch, len(vector), s.config.VectorSize)
	}

	merged, err := InjectTenantFilter(ctx, filters)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("injecting tenant filter: %w", err)
	}

	coll, err := s.getCollection()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	// chromem rejects nResults greater than the number of stored documents.
	if count := coll.Count(); topK > count {
		topK = count
	}
	if topK == 0 {
		return nil, nil
	}

	results, err := coll.QueryEmbedding(ctx, vector, topK, metadataToStrings(merged), nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		RecordQuery(0, err)
		return nil, fmt.Errorf("querying collection %s: %w", s.config.Collection, err)
	}

	matches := make([]Match, len(results))
	for i, res := range results {
		matches[i] = Match{
			ID:       res.ID,
			Content:  res.Content,
			Score:    res.Similarity,
			Metadata: metadataFromStrings(res.Metadata),
		}
	}

	RecordQuery(len(matches), nil)
	span.SetAttributes(attribute.Int("match_count", len(matches)))
	span.SetStatus(codes.Ok, "success")
	return matches, nil
}

// DeleteBySource deletes the context tenant's records for one document.
func (s *ChromemStore) DeleteBySource(ctx context.Context, source string) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.DeleteBySource")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", s.config.Collection),
		attribute.String("source", source),
	)

	tenant, err := TenantFromContext(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if err := tenant.Validate(); err != nil {
		span.RecordError(err)
		return err
	}

	coll, err := s.getCollection()
	if err != nil {
		span.RecordError(err)
		return err
	}

	where := map[string]string{
		MetaClientID: tenant.ClientID,
		MetaSource:   source,
	}
	if tenant.ScopeID != "" {
		where[MetaScopeID] = tenant.ScopeID
	}

	if err := coll.Delete(ctx, where, nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting source %s: %w", source, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Stats reports the collection's record count and vector size.
func (s *ChromemStore) Stats(ctx context.Context) (*Stats, error) {
	_, span := chromemTracer.Start(ctx, "ChromemStore.Stats")
	defer span.End()

	coll, err := s.getCollection()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	return &Stats{
		Collection:  s.config.Collection,
		RecordCount: coll.Count(),
		VectorSize:  s.config.VectorSize,
	}, nil
}

// metadataToStrings converts metadata values to chromem's string-only
// metadata representation.
func metadataToStrings(metadata map[string]interface{}) map[string]string {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		switch val := v.(type) {
		case string:
			out[k] = val
		case int:
			out[k] = strconv.Itoa(val)
		case int64:
			out[k] = strconv.FormatInt(val, 10)
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(val)
		default:
			out[k] = fmt.Sprintf("%v", val)
		}
	}
	return out
}

// metadataFromStrings restores typed values for known numeric fields; other
// values stay strings.
func metadataFromStrings(metadata map[string]string) map[string]interface{} {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		if k == MetaChunkIndex {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				out[k] = n
				continue
			}
		}
		out[k] = v
	}
	return out
}

// Ensure ChromemStore implements Store.
var _ Store = (*ChromemStore)(nil)
