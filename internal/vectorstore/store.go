// Package vectorstore provides tenant-isolated vector storage backends.
package vectorstore

import (
	"context"
	"errors"
)

// Sentinel errors for vector store operations.
var (
	// ErrInvalidConfig indicates invalid store configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyRecords indicates an upsert with no records.
	ErrEmptyRecords = errors.New("empty or nil records")

	// ErrDimensionMismatch indicates a vector whose length does not match the
	// store's configured vector size. Detected at startup or upsert time,
	// never silently at query time.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrConnectionFailed indicates the store backend is unreachable.
	ErrConnectionFailed = errors.New("failed to connect to vector store")

	// ErrInvalidFilter indicates a query filter value of a type the backend
	// cannot match on.
	ErrInvalidFilter = errors.New("invalid filter value")

	// ErrStoreUnavailable is returned after retries against the backend are
	// exhausted.
	ErrStoreUnavailable = errors.New("vector store unavailable")
)

// Default and maximum bounds for similarity queries. Callers may not request
// unbounded results.
const (
	DefaultTopK = 5
	MaxTopK     = 100
)

// ClampTopK applies the default and the upper bound to a requested topK.
func ClampTopK(k int) int {
	if k <= 0 {
		return DefaultTopK
	}
	if k > MaxTopK {
		return MaxTopK
	}
	return k
}

// Store is the interface to an external vector similarity service.
//
// Tenant isolation is enforced by exactly one mechanism on every
// implementation: payload filtering. All records live in a single collection;
// each record carries client_id (and scope_id when present) in its payload,
// and every query has the tenant filter injected from the context. The same
// mechanism is applied on the write and the read path, fail-closed: a missing
// tenant context is an error, never an unfiltered operation.
//
// Callers must provide tenant context on every operation:
//
//	ctx = vectorstore.ContextWithTenant(ctx, &vectorstore.TenantInfo{ClientID: "acme"})
//
// Implementations:
//   - QdrantStore: external Qdrant via gRPC
//   - ChromemStore: embedded chromem-go (local mode, tests)
type Store interface {
	// Upsert writes records in a single batched call. Upserts are idempotent
	// by record ID: an existing ID is fully replaced. Tenant metadata is
	// injected into every record before the write.
	Upsert(ctx context.Context, records []Record) error

	// Query returns up to topK matches for the given embedding, ordered by
	// descending similarity score. The tenant filter is injected into the
	// given metadata filters; ties are broken by the backend's native
	// ordering.
	Query(ctx context.Context, vector []float32, topK int, filters map[string]interface{}) ([]Match, error)

	// DeleteBySource removes all of the tenant's records that originated from
	// the named document. Deletion is always explicit; records are never
	// removed implicitly.
	DeleteBySource(ctx context.Context, source string) error

	// Stats reports the collection's record count and vector size.
	Stats(ctx context.Context) (*Stats, error)

	// VectorSize returns the configured embedding dimension. Used at startup
	// to verify the embedder matches the store.
	VectorSize() int

	// Close releases backend resources.
	Close() error
}
