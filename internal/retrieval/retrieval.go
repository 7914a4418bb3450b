// Package retrieval answers tenant queries: relevance gate first, then
// embed and search the vector store.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/brokerkit/knowledged/internal/embeddings"
	"github.com/brokerkit/knowledged/internal/relevance"
	"github.com/brokerkit/knowledged/internal/vectorstore"
)

var tracer = otel.Tracer("knowledged.retrieval")

// ErrRetrievalUnavailable wraps embedding or store failures. Callers map it
// to a retryable upstream error.
var ErrRetrievalUnavailable = errors.New("retrieval unavailable")

// Request is one retrieval query.
type Request struct {
	// Query is the user's question.
	Query string `json:"query"`

	// TopK is the number of matches wanted. Zero means the configured
	// default; values above the cap are clamped.
	TopK int `json:"top_k,omitempty"`

	// ScopeID restricts the search to one sub-resource. Empty searches the
	// tenant's general documents.
	ScopeID string `json:"scope_id,omitempty"`
}

// Response is the outcome of a retrieval query.
type Response struct {
	// Relevant reports the gate's verdict. When false, Matches is empty and
	// Reason and SuggestedResponse explain the rejection.
	Relevant bool `json:"is_relevant"`

	// Reason explains a rejection.
	Reason string `json:"reason,omitempty"`

	// SuggestedResponse is a polite redirect for rejected queries.
	SuggestedResponse string `json:"suggested_response,omitempty"`

	// Matches are the ranked results, verbatim from the store.
	Matches []vectorstore.Match `json:"matches"`
}

// Config holds orchestrator settings.
type Config struct {
	// TopK is the default result count when the request leaves it unset.
	TopK int
}

// Orchestrator wires the gate, the embedder and the store into one query
// path.
//
// Ordering is fixed: the gate runs before any embedding call, so off-topic
// queries consume no provider quota and touch no vectors.
type Orchestrator struct {
	gate     *relevance.Gate
	embedder embeddings.Provider
	store    vectorstore.Store
	config   Config
	logger   *zap.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(cfg Config, gate *relevance.Gate, embedder embeddings.Provider, store vectorstore.Store, logger *zap.Logger) (*Orchestrator, error) {
	if gate == nil {
		return nil, fmt.Errorf("gate is required")
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
	if cfg.TopK <= 0 {
		cfg.TopK = vectorstore.DefaultTopK
	}

	return &Orchestrator{
		gate:     gate,
		embedder: embedder,
		store:    store,
		config:   cfg,
		logger:   logger,
	}, nil
}

// Retrieve answers one query for the tenant carried by ctx.
func (o *Orchestrator) Retrieve(ctx context.Context, clientID, tenantName string, req Request) (*Response, error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.Retrieve")
	defer span.End()

	span.SetAttributes(
		attribute.String("client_id", clientID),
		attribute.Int("top_k", req.TopK),
	)

	start := time.Now()

	verdict := o.gate.Check(ctx, req.Query, tenantName)
	if !verdict.IsRelevant {
		span.SetAttributes(attribute.Bool("rejected", true))
		recordQuery("rejected", time.Since(start))
		o.logger.Info("query rejected by relevance gate",
			zap.String("client_id", clientID),
			zap.String("reason", verdict.Reason))
		return &Response{
			Relevant:          false,
			Reason:            verdict.Reason,
			SuggestedResponse: verdict.SuggestedResponse,
			Matches:           []vectorstore.Match{},
		}, nil
	}

	vector, err := o.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		recordQuery("embed_error", time.Since(start))
		return nil, fmt.Errorf("%w: embedding query: %v", ErrRetrievalUnavailable, err)
	}

	topK := req.TopK
	if topK <= 0 {
		topK = o.config.TopK
	}
	topK = vectorstore.ClampTopK(topK)

	tenantCtx := vectorstore.ContextWithTenant(ctx, &vectorstore.TenantInfo{
		ClientID: clientID,
		ScopeID:  req.ScopeID,
	})

	matches, err := o.store.Query(tenantCtx, vector, topK, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		recordQuery("store_error", time.Since(start))
		return nil, fmt.Errorf("%w: searching store: %v", ErrRetrievalUnavailable, err)
	}
	if matches == nil {
		matches = []vectorstore.Match{}
	}

	span.SetAttributes(attribute.Int("match_count", len(matches)))
	span.SetStatus(codes.Ok, "success")
	recordQuery("ok", time.Since(start))

	return &Response{
		Relevant: true,
		Matches:  matches,
	}, nil
}
