// Package embeddings generates fixed-dimension vectors from text via an
// external embedding provider.
package embeddings

import (
	"context"
	"errors"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrProviderUnavailable is returned after bounded retries against the
	// provider are exhausted. Callers map it to a per-document or per-query
	// failure; it never crashes the process.
	ErrProviderUnavailable = errors.New("embedding provider unavailable")
)

// Provider maps text to fixed-dimension embedding vectors.
//
// The dimension is fixed per deployment and must match the vector store's
// configured size; callers verify the match once at startup.
type Provider interface {
	// EmbedDocuments embeds a batch of texts, one vector per input.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery embeds a single query string.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the embedding vector size.
	Dimension() int

	// Close releases provider resources.
	Close() error
}
