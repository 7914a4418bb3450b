package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestChromemStore(t *testing.T) *ChromemStore {
	t.Helper()
	store, err := NewChromemStore(ChromemConfig{VectorSize: 4}, zap.NewNop())
	require.NoError(t, err)
	return store
}

func tenantCtx(clientID string) context.Context {
	return ContextWithTenant(context.Background(), &TenantInfo{ClientID: clientID})
}

func vec(x, y, z, w float32) []float32 {
	return []float32{x, y, z, w}
}

func record(id, source string, chunkIndex int, v []float32, content string) Record {
	return Record{
		ID:      id,
		Content: content,
		Vector:  v,
		Metadata: map[string]interface{}{
			MetaSource:     source,
			MetaChunkIndex: chunkIndex,
		},
	}
}

func TestChromemUpsertAndQuery(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := tenantCtx("tenant-a")

	err := store.Upsert(ctx, []Record{
		record("r1", "about-us.txt", 0, vec(1, 0, 0, 0), "we are a family business"),
		record("r2", "about-us.txt", 1, vec(0, 1, 0, 0), "founded in 1998"),
	})
	require.NoError(t, err)

	matches, err := store.Query(ctx, vec(1, 0, 0, 0), 5, nil)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	assert.Equal(t, "r1", matches[0].ID)
	assert.Equal(t, "we are a family business", matches[0].Content)
	assert.InDelta(t, 1.0, matches[0].Score, 0.001)
	assert.Greater(t, matches[0].Score, matches[1].Score)

	// chunk_index survives chromem's string-only metadata.
	assert.Equal(t, int64(0), matches[0].Metadata[MetaChunkIndex])
	assert.Equal(t, "about-us.txt", matches[0].Metadata[MetaSource])
}

func TestChromemTenantIsolation(t *testing.T) {
	store := newTestChromemStore(t)

	require.NoError(t, store.Upsert(tenantCtx("tenant-a"), []Record{
		record("a1", "about-us.txt", 0, vec(1, 0, 0, 0), "tenant a content"),
	}))
	require.NoError(t, store.Upsert(tenantCtx("tenant-b"), []Record{
		record("b1", "about-us.txt", 0, vec(1, 0, 0, 0), "tenant b content"),
	}))

	matchesA, err := store.Query(tenantCtx("tenant-a"), vec(1, 0, 0, 0), 10, nil)
	require.NoError(t, err)
	require.Len(t, matchesA, 1)
	assert.Equal(t, "tenant a content", matchesA[0].Content)

	// A tenant with no records sees nothing, despite perfect vector
	// similarity of another tenant's records.
	matchesC, err := store.Query(tenantCtx("tenant-c"), vec(1, 0, 0, 0), 10, nil)
	require.NoError(t, err)
	assert.Empty(t, matchesC)
}

func TestChromemScopeFilter(t *testing.T) {
	store := newTestChromemStore(t)

	scopedCtx := ContextWithTenant(context.Background(), &TenantInfo{
		ClientID: "tenant-a",
		ScopeID:  "listing-42",
	})

	require.NoError(t, store.Upsert(tenantCtx("tenant-a"), []Record{
		record("g1", "about-us.txt", 0, vec(1, 0, 0, 0), "general content"),
	}))
	require.NoError(t, store.Upsert(scopedCtx, []Record{
		record("s1", "listing.txt", 0, vec(1, 0, 0, 0), "scoped content"),
	}))

	matches, err := store.Query(scopedCtx, vec(1, 0, 0, 0), 10, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "scoped content", matches[0].Content)
}

func TestChromemFailsClosedWithoutTenant(t *testing.T) {
	store := newTestChromemStore(t)

	err := store.Upsert(context.Background(), []Record{
		record("r1", "doc.txt", 0, vec(1, 0, 0, 0), "content"),
	})
	assert.ErrorIs(t, err, ErrMissingTenant)

	_, err = store.Query(context.Background(), vec(1, 0, 0, 0), 5, nil)
	assert.ErrorIs(t, err, ErrMissingTenant)

	err = store.DeleteBySource(context.Background(), "doc.txt")
	assert.ErrorIs(t, err, ErrMissingTenant)
}

func TestChromemUpsertValidation(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := tenantCtx("tenant-a")

	assert.ErrorIs(t, store.Upsert(ctx, nil), ErrEmptyRecords)

	err := store.Upsert(ctx, []Record{
		{ID: "r1", Content: "content", Vector: []float32{1, 0}},
	})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestChromemQueryDimensionMismatch(t *testing.T) {
	store := newTestChromemStore(t)

	_, err := store.Query(tenantCtx("tenant-a"), []float32{1, 0}, 5, nil)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestChromemQueryEmptyCollection(t *testing.T) {
	store := newTestChromemStore(t)

	matches, err := store.Query(tenantCtx("tenant-a"), vec(1, 0, 0, 0), 5, nil)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestChromemUpsertOverwritesByID(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := tenantCtx("tenant-a")

	require.NoError(t, store.Upsert(ctx, []Record{
		record("r1", "doc.txt", 0, vec(1, 0, 0, 0), "old content"),
	}))
	require.NoError(t, store.Upsert(ctx, []Record{
		record("r1", "doc.txt", 0, vec(1, 0, 0, 0), "new content"),
	}))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RecordCount)

	matches, err := store.Query(ctx, vec(1, 0, 0, 0), 5, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "new content", matches[0].Content)
}

func TestChromemDeleteBySource(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := tenantCtx("tenant-a")

	require.NoError(t, store.Upsert(ctx, []Record{
		record("r1", "about-us.txt", 0, vec(1, 0, 0, 0), "about content"),
		record("r2", "faq.txt", 0, vec(0, 1, 0, 0), "faq content"),
	}))
	require.NoError(t, store.Upsert(tenantCtx("tenant-b"), []Record{
		record("b1", "about-us.txt", 0, vec(1, 0, 0, 0), "other tenant"),
	}))

	require.NoError(t, store.DeleteBySource(ctx, "about-us.txt"))

	matches, err := store.Query(ctx, vec(1, 0, 0, 0), 5, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "faq content", matches[0].Content)

	// The other tenant's records under the same source name survive.
	matchesB, err := store.Query(tenantCtx("tenant-b"), vec(1, 0, 0, 0), 5, nil)
	require.NoError(t, err)
	assert.Len(t, matchesB, 1)
}

func TestChromemPersistence(t *testing.T) {
	dir := t.TempDir()
	cfg := ChromemConfig{Path: dir, VectorSize: 4}

	store, err := NewChromemStore(cfg, zap.NewNop())
	require.NoError(t, err)

	ctx := tenantCtx("tenant-a")
	require.NoError(t, store.Upsert(ctx, []Record{
		record("r1", "doc.txt", 0, vec(1, 0, 0, 0), "persisted content"),
	}))
	require.NoError(t, store.Close())

	reopened, err := NewChromemStore(cfg, zap.NewNop())
	require.NoError(t, err)

	matches, err := reopened.Query(ctx, vec(1, 0, 0, 0), 5, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "persisted content", matches[0].Content)
}

func TestChromemConfigValidate(t *testing.T) {
	err := ChromemConfig{}.Validate()
	assert.ErrorIs(t, err, ErrInvalidConfig)

	err = ChromemConfig{VectorSize: 4, Collection: "Bad-Name"}.Validate()
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg := ChromemConfig{VectorSize: 4}
	cfg.ApplyDefaults()
	assert.NoError(t, cfg.Validate())
}
