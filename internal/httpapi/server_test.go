package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/brokerkit/knowledged/internal/ingest"
	"github.com/brokerkit/knowledged/internal/relevance"
	"github.com/brokerkit/knowledged/internal/retrieval"
	"github.com/brokerkit/knowledged/internal/vectorstore"
)

type fakeEmbedder struct {
	dim int
	err error
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = make([]float32, f.dim)
	}
	return vectors, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vs, err := f.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

func (f *fakeEmbedder) Dimension() int { return f.dim }
func (f *fakeEmbedder) Close() error   { return nil }

type fakeStore struct {
	mu       sync.Mutex
	dim      int
	statsErr error
	queryErr error
	matches  []vectorstore.Match
	records  map[string]vectorstore.Record
	deleted  []string
}

func newFakeStore(dim int) *fakeStore {
	return &fakeStore{dim: dim, records: make(map[string]vectorstore.Record)}
}

func (f *fakeStore) Upsert(ctx context.Context, records []vectorstore.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := vectorstore.InjectTenantMetadata(ctx, records); err != nil {
		return err
	}
	for _, r := range records {
		f.records[r.ID] = r
	}
	return nil
}

func (f *fakeStore) Query(ctx context.Context, _ []float32, _ int, _ map[string]interface{}) ([]vectorstore.Match, error) {
	if _, err := vectorstore.TenantFromContext(ctx); err != nil {
		return nil, err
	}
	return f.matches, f.queryErr
}

func (f *fakeStore) DeleteBySource(_ context.Context, source string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, source)
	return nil
}

func (f *fakeStore) Stats(context.Context) (*vectorstore.Stats, error) {
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	return &vectorstore.Stats{RecordCount: len(f.records)}, nil
}

func (f *fakeStore) VectorSize() int { return f.dim }
func (f *fakeStore) Close() error    { return nil }

func setupTestServer(t *testing.T, store *fakeStore, embedder *fakeEmbedder) *Server {
	t.Helper()

	pipeline, err := ingest.NewPipeline(ingest.Config{
		MaxChunkSize:   100,
		AllowedTypes:   []string{"general", "scoped"},
		MaxConcurrency: 1,
	}, embedder, store, zap.NewNop())
	require.NoError(t, err)

	orchestrator, err := retrieval.NewOrchestrator(retrieval.Config{TopK: 5},
		relevance.NewGate(zap.NewNop()), embedder, store, zap.NewNop())
	require.NoError(t, err)

	server, err := NewServer(pipeline, orchestrator, store, zap.NewNop(), nil)
	require.NoError(t, err)
	return server
}

func postJSON(t *testing.T, server *Server, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	server.echo.ServeHTTP(rec, req)
	return rec
}

func TestNewServerValidation(t *testing.T) {
	store := newFakeStore(4)
	server := setupTestServer(t, store, &fakeEmbedder{dim: 4})
	assert.Equal(t, "localhost", server.config.Host)
	assert.Equal(t, 8090, server.config.Port)

	_, err := NewServer(nil, nil, nil, zap.NewNop(), nil)
	assert.Error(t, err)
}

func TestHandleHealth(t *testing.T) {
	server := setupTestServer(t, newFakeStore(4), &fakeEmbedder{dim: 4})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	server.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestHandleHealthDegraded(t *testing.T) {
	store := newFakeStore(4)
	store.statsErr = errors.New("store down")
	server := setupTestServer(t, store, &fakeEmbedder{dim: 4})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	server.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleIngest(t *testing.T) {
	store := newFakeStore(4)
	server := setupTestServer(t, store, &fakeEmbedder{dim: 4})

	rec := postJSON(t, server, "/api/v1/ingest", IngestRequest{
		ClientID: "tenant-a",
		Documents: []ingest.Document{
			{Source: "about-us.txt", Content: "we sell houses", IngestionType: "general"},
			{Source: "bad.txt", Content: "whatever", IngestionType: "bogus"},
		},
	})

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp IngestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "upserted", resp.Results[0].State)
	assert.Equal(t, "failed", resp.Results[1].State)
	assert.Contains(t, resp.Results[1].Error, "invalid ingestion type")
	assert.Equal(t, 1, resp.Failed)
	assert.NotEmpty(t, store.records)
}

func TestHandleIngestValidation(t *testing.T) {
	server := setupTestServer(t, newFakeStore(4), &fakeEmbedder{dim: 4})

	rec := postJSON(t, server, "/api/v1/ingest", IngestRequest{ClientID: "tenant-a"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, server, "/api/v1/ingest", IngestRequest{
		Documents: []ingest.Document{{Source: "x", Content: "y", IngestionType: "general"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleQuery(t *testing.T) {
	store := newFakeStore(4)
	store.matches = []vectorstore.Match{{ID: "a", Content: "we sell houses", Score: 0.9}}
	server := setupTestServer(t, store, &fakeEmbedder{dim: 4})

	rec := postJSON(t, server, "/api/v1/query", QueryRequest{
		ClientID:   "tenant-a",
		TenantName: "Acme Estates",
		Query:      "what houses do you sell",
	})

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp retrieval.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Relevant)
	require.Len(t, resp.Matches, 1)
	assert.Equal(t, "a", resp.Matches[0].ID)
}

func TestHandleQueryRejected(t *testing.T) {
	server := setupTestServer(t, newFakeStore(4), &fakeEmbedder{dim: 4})

	rec := postJSON(t, server, "/api/v1/query", QueryRequest{
		ClientID:   "tenant-a",
		TenantName: "Acme Estates",
		Query:      "give me a recipe for bread",
	})

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp retrieval.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Relevant)
	assert.NotEmpty(t, resp.SuggestedResponse)
	assert.Empty(t, resp.Matches)
}

func TestHandleQueryUnavailable(t *testing.T) {
	server := setupTestServer(t, newFakeStore(4), &fakeEmbedder{dim: 4, err: errors.New("provider down")})

	rec := postJSON(t, server, "/api/v1/query", QueryRequest{
		ClientID: "tenant-a",
		Query:    "what houses do you sell",
	})

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleQueryValidation(t *testing.T) {
	server := setupTestServer(t, newFakeStore(4), &fakeEmbedder{dim: 4})

	rec := postJSON(t, server, "/api/v1/query", QueryRequest{Query: "hi"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, server, "/api/v1/query", QueryRequest{ClientID: "tenant-a"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDeleteDocuments(t *testing.T) {
	store := newFakeStore(4)
	server := setupTestServer(t, store, &fakeEmbedder{dim: 4})

	payload, err := json.Marshal(DeleteRequest{ClientID: "tenant-a", Source: "about-us.txt"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/documents", bytes.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	server.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"about-us.txt"}, store.deleted)
}
