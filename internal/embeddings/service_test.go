package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func embedServer(t *testing.T, dim int, failFirst int32, failStatus int) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/embed", r.URL.Path)

		if n <= failFirst {
			w.WriteHeader(failStatus)
			return
		}

		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		count := 1
		if texts, ok := req.Inputs.([]interface{}); ok {
			count = len(texts)
		}
		vectors := make([][]float32, count)
		for i := range vectors {
			vectors[i] = make([]float32, dim)
			vectors[i][0] = float32(i + 1)
		}
		json.NewEncoder(w).Encode(vectors)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func testService(t *testing.T, baseURL string, dim int) *Service {
	t.Helper()
	svc, err := NewService(Config{
		BaseURL:      baseURL,
		Dimension:    dim,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)
	return svc
}

func TestNewServiceValidation(t *testing.T) {
	_, err := NewService(Config{Dimension: 384}, zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewService(Config{BaseURL: "http://localhost:8080"}, zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestEmbedDocuments(t *testing.T) {
	srv, _ := embedServer(t, 4, 0, 0)
	svc := testService(t, srv.URL, 4)

	vectors, err := svc.EmbedDocuments(context.Background(), []string{"one", "two", "three"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	for _, v := range vectors {
		assert.Len(t, v, 4)
	}
}

func TestEmbedDocumentsEmptyInput(t *testing.T) {
	srv, _ := embedServer(t, 4, 0, 0)
	svc := testService(t, srv.URL, 4)

	_, err := svc.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestEmbedQuery(t *testing.T) {
	srv, _ := embedServer(t, 4, 0, 0)
	svc := testService(t, srv.URL, 4)

	vector, err := svc.EmbedQuery(context.Background(), "what are your office hours")
	require.NoError(t, err)
	assert.Len(t, vector, 4)

	_, err = svc.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestEmbedRetriesThenSucceeds(t *testing.T) {
	srv, calls := embedServer(t, 4, 1, http.StatusServiceUnavailable)
	svc := testService(t, srv.URL, 4)

	vectors, err := svc.EmbedDocuments(context.Background(), []string{"one"})
	require.NoError(t, err)
	assert.Len(t, vectors, 1)
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
}

func TestEmbedRetriesExhausted(t *testing.T) {
	srv, calls := embedServer(t, 4, 100, http.StatusServiceUnavailable)
	svc := testService(t, srv.URL, 4)

	_, err := svc.EmbedDocuments(context.Background(), []string{"one"})
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	// Initial attempt plus MaxRetries.
	assert.Equal(t, int32(3), atomic.LoadInt32(calls))
}

func TestEmbedClientErrorNotRetried(t *testing.T) {
	srv, calls := embedServer(t, 4, 100, http.StatusBadRequest)
	svc := testService(t, srv.URL, 4)

	_, err := svc.EmbedDocuments(context.Background(), []string{"one"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrProviderUnavailable)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestEmbedDimensionMismatch(t *testing.T) {
	srv, _ := embedServer(t, 8, 0, 0)
	svc := testService(t, srv.URL, 4)

	_, err := svc.EmbedDocuments(context.Background(), []string{"one"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dims")
}
