// Package ingest turns tenant documents into vector records: chunk, embed,
// upsert, with per-document failure isolation.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/brokerkit/knowledged/internal/chunker"
	"github.com/brokerkit/knowledged/internal/embeddings"
	"github.com/brokerkit/knowledged/internal/vectorstore"
)

var tracer = otel.Tracer("knowledged.ingest")

// recordNamespace is the fixed UUID namespace for deriving record ids.
// Changing it would orphan every previously ingested record.
var recordNamespace = uuid.MustParse("7b9505d3-0d5e-49e9-8b4c-dd4b83a72f1d")

// Pipeline errors.
var (
	// ErrInvalidIngestionType marks a document whose ingestionType is not in
	// the configured allow list. The document is skipped; the batch
	// continues.
	ErrInvalidIngestionType = errors.New("invalid ingestion type")

	// ErrEmptySource marks a document without a source identifier.
	ErrEmptySource = errors.New("document source is required")

	// ErrMissingScope marks a scoped document without a scope id.
	ErrMissingScope = errors.New("scoped document requires a scope id")

	// ErrIngestionFailed wraps provider or store failures after retries.
	ErrIngestionFailed = errors.New("ingestion failed")
)

// State is a document's position in the ingestion state machine.
//
// Transitions are strictly sequential per document:
// Discovered -> Chunked -> Embedded -> Upserted, with Failed absorbing from
// any step.
type State string

const (
	StateDiscovered State = "discovered"
	StateChunked    State = "chunked"
	StateEmbedded   State = "embedded"
	StateUpserted   State = "upserted"
	StateFailed     State = "failed"
)

// Document is one ingestion request item.
type Document struct {
	// Source names the document, e.g. a filename. Record ids derive from it.
	Source string `json:"source"`

	// Content is the raw document text.
	Content string `json:"content"`

	// IngestionType is general (tenant-wide) or scoped (bound to a
	// sub-resource). Validated against the configured allow list.
	IngestionType string `json:"ingestion_type"`

	// ScopeID binds a scoped document to a sub-resource, e.g. a listing.
	ScopeID string `json:"scope_id,omitempty"`

	// ScopeURL is the public URL of the scoped sub-resource.
	ScopeURL string `json:"scope_url,omitempty"`

	// Metadata carries extra caller fields, stored under the names given by
	// the configured field map. Unmapped fields are dropped.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Result reports the outcome of one document's ingestion.
type Result struct {
	// Source identifies the document.
	Source string `json:"source"`

	// State is the final state reached.
	State State `json:"state"`

	// Chunks is the number of chunks produced.
	Chunks int `json:"chunks,omitempty"`

	// Err is the failure that halted this document, nil on success.
	Err error `json:"-"`
}

// Config holds pipeline settings.
type Config struct {
	// MaxChunkSize bounds chunk length in characters.
	MaxChunkSize int

	// AllowedTypes lists recognized ingestionType values.
	AllowedTypes []string

	// MaxConcurrency bounds parallel document processing. 1 means serial,
	// matching the historical behavior.
	MaxConcurrency int

	// MetadataFields maps caller metadata field names onto stored payload
	// field names.
	MetadataFields map[string]string
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.MaxChunkSize <= 0 {
		return fmt.Errorf("max chunk size must be positive, got %d", c.MaxChunkSize)
	}
	if len(c.AllowedTypes) == 0 {
		return fmt.Errorf("allowed ingestion types must not be empty")
	}
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("max concurrency must be positive, got %d", c.MaxConcurrency)
	}
	return nil
}

// Pipeline orchestrates chunking, embedding and upserting per document.
//
// All of a document's records are written in one batched upsert, so a
// provider failure mid-document leaves the store untouched rather than
// holding a partial chunk set. Concurrent ingestion of the same source is
// serialized per document so interleaved writes cannot mix two versions.
type Pipeline struct {
	chunker  *chunker.Chunker
	embedder embeddings.Provider
	store    vectorstore.Store
	config   Config
	logger   *zap.Logger

	// sourceLocks serializes upserts per (tenant, source). Entries are
	// reference counted and removed when the last holder releases, so the
	// table stays proportional to in-flight documents.
	locksMu     sync.Mutex
	sourceLocks map[string]*sourceLock
}

type sourceLock struct {
	mu   sync.Mutex
	refs int
}

// NewPipeline creates a Pipeline. The embedder's dimension must match the
// store's vector size; a mismatch is a fatal configuration error caught
// here, at startup, not per call.
func NewPipeline(cfg Config, embedder embeddings.Provider, store vectorstore.Store, logger *zap.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if embedder.Dimension() != store.VectorSize() {
		return nil, fmt.Errorf("embedding dimension %d does not match vector store size %d",
			embedder.Dimension(), store.VectorSize())
	}

	ch, err := chunker.New(cfg.MaxChunkSize)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		chunker:     ch,
		embedder:    embedder,
		store:       store,
		config:      cfg,
		logger:      logger,
		sourceLocks: make(map[string]*sourceLock),
	}, nil
}

// RecordID deterministically derives a record id from the tenant, source and
// chunk index. Re-ingesting an unchanged document yields the same ids, so
// upserts overwrite instead of duplicating. The tenant is part of the name
// so equal filenames from different tenants never collide.
func RecordID(clientID, source string, chunkIndex int) string {
	name := clientID + "/" + source + "#" + strconv.Itoa(chunkIndex)
	return uuid.NewSHA1(recordNamespace, []byte(name)).String()
}

// IngestBatch processes documents for one tenant with bounded concurrency.
// Failure isolation is per document: one bad document is reported and
// skipped, the rest of the batch continues.
func (p *Pipeline) IngestBatch(ctx context.Context, clientID string, docs []Document) []Result {
	ctx, span := tracer.Start(ctx, "Pipeline.IngestBatch")
	defer span.End()

	span.SetAttributes(
		attribute.Int("document_count", len(docs)),
		attribute.String("client_id", clientID),
	)

	results := make([]Result, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.MaxConcurrency)

	for i, doc := range docs {
		g.Go(func() error {
			results[i] = p.Ingest(gctx, clientID, doc)
			// Document failures stay in the result; they never abort
			// sibling documents.
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	span.SetAttributes(attribute.Int("failed_count", failed))
	return results
}

// Ingest processes one document through the full state machine.
func (p *Pipeline) Ingest(ctx context.Context, clientID string, doc Document) Result {
	ctx, span := tracer.Start(ctx, "Pipeline.Ingest")
	defer span.End()

	span.SetAttributes(
		attribute.String("source", doc.Source),
		attribute.String("ingestion_type", doc.IngestionType),
	)

	start := time.Now()
	result := Result{Source: doc.Source, State: StateDiscovered}

	fail := func(err error) Result {
		result.State = StateFailed
		result.Err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		recordDocument(string(StateFailed), time.Since(start))
		p.logger.Warn("document ingestion failed",
			zap.String("client_id", clientID),
			zap.String("source", doc.Source),
			zap.Error(err))
		return result
	}

	if err := p.validate(doc); err != nil {
		return fail(err)
	}

	chunks := p.chunker.Chunk(doc.Content)
	result.State = StateChunked
	result.Chunks = len(chunks)
	span.SetAttributes(attribute.Int("chunk_count", len(chunks)))

	vectors, err := p.embedder.EmbedDocuments(ctx, chunks)
	if err != nil {
		return fail(fmt.Errorf("%w: embedding %s: %v", ErrIngestionFailed, doc.Source, err))
	}
	result.State = StateEmbedded

	records := make([]vectorstore.Record, len(chunks))
	for i, chunk := range chunks {
		records[i] = vectorstore.Record{
			ID:       RecordID(clientID, doc.Source, i),
			Content:  chunk,
			Vector:   vectors[i],
			Metadata: p.recordMetadata(doc, i),
		}
	}

	tenantCtx := vectorstore.ContextWithTenant(ctx, &vectorstore.TenantInfo{
		ClientID: clientID,
		ScopeID:  doc.ScopeID,
	})

	// One batched upsert per document: either all chunks commit or none do.
	unlock := p.lockSource(clientID, doc.Source)
	err = p.store.Upsert(tenantCtx, records)
	unlock()
	if err != nil {
		return fail(fmt.Errorf("%w: upserting %s: %v", ErrIngestionFailed, doc.Source, err))
	}

	result.State = StateUpserted
	recordDocument(string(StateUpserted), time.Since(start))
	recordChunks(len(chunks))
	span.SetStatus(codes.Ok, "success")

	p.logger.Info("document ingested",
		zap.String("client_id", clientID),
		zap.String("source", doc.Source),
		zap.Int("chunks", len(chunks)))
	return result
}

// DeleteSource removes a tenant's records for one document. Deletion is
// always explicit; ingestion never prunes records on its own, so a document
// that shrank keeps its stale tail chunks until this is called.
func (p *Pipeline) DeleteSource(ctx context.Context, clientID, source string) error {
	if clientID == "" {
		return vectorstore.ErrInvalidTenant
	}
	if source == "" {
		return ErrEmptySource
	}
	tenantCtx := vectorstore.ContextWithTenant(ctx, &vectorstore.TenantInfo{ClientID: clientID})
	return p.store.DeleteBySource(tenantCtx, source)
}

// validate checks the document before any work is spent on it.
func (p *Pipeline) validate(doc Document) error {
	if doc.Source == "" {
		return ErrEmptySource
	}
	allowed := false
	for _, t := range p.config.AllowedTypes {
		if doc.IngestionType == t {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %q (allowed: %v)", ErrInvalidIngestionType, doc.IngestionType, p.config.AllowedTypes)
	}
	if doc.IngestionType == "scoped" && doc.ScopeID == "" {
		return ErrMissingScope
	}
	return nil
}

// recordMetadata builds the stored payload for one chunk. Tenant fields are
// injected later by the store; they are never taken from the document.
func (p *Pipeline) recordMetadata(doc Document, chunkIndex int) map[string]interface{} {
	meta := map[string]interface{}{
		vectorstore.MetaSource:        doc.Source,
		vectorstore.MetaChunkIndex:    chunkIndex,
		vectorstore.MetaIngestionType: doc.IngestionType,
	}
	if doc.ScopeURL != "" {
		meta[vectorstore.MetaScopeURL] = doc.ScopeURL
	}
	for field, stored := range p.config.MetadataFields {
		if v, ok := doc.Metadata[field]; ok {
			meta[stored] = v
		}
	}
	return meta
}

// lockSource serializes upserts for one (tenant, source) pair. The returned
// release func drops the lock and evicts the table entry once no other
// ingest holds or awaits it.
func (p *Pipeline) lockSource(clientID, source string) func() {
	key := clientID + "/" + source

	p.locksMu.Lock()
	l, ok := p.sourceLocks[key]
	if !ok {
		l = &sourceLock{}
		p.sourceLocks[key] = l
	}
	l.refs++
	p.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		p.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.sourceLocks, key)
		}
		p.locksMu.Unlock()
	}
}
