package vectorstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbeddingClient 按预置映射返回确定性向量。
type fakeEmbeddingClient struct {
	vectors map[string][]float32
	err     error
}

func (f *fakeEmbeddingClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbeddingClient) Model() string {
	return "fake-embedding-v1"
}

func newTestStore() (*MemoryStore, *fakeEmbeddingClient) {
	client := &fakeEmbeddingClient{vectors: map[string][]float32{
		"query":    {1, 0, 0},
		"close":    {0.9, 0.1, 0},
		"mid":      {0.5, 0.5, 0},
		"far":      {0, 0, 1},
		"opposite": {-1, 0, 0},
	}}
	return NewMemoryStore(client), client
}

func TestMemoryStore_QueryOrdering(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, CollectionDeals, "d1", "far", nil))
	require.NoError(t, store.Upsert(ctx, CollectionDeals, "d2", "close", nil))
	require.NoError(t, store.Upsert(ctx, CollectionDeals, "d3", "mid", nil))

	results, err := store.Query(ctx, CollectionDeals, "query", 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)

	// 按相似度从高到低排序
	assert.Equal(t, "d2", results[0].ID)
	assert.Equal(t, "d3", results[1].ID)
	assert.Equal(t, "d1", results[2].ID)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Similarity, 0.0)
		assert.LessOrEqual(t, r.Similarity, 1.0)
		assert.InDelta(t, 1-r.Similarity, r.Distance, 1e-9)
	}
}

func TestMemoryStore_SimilarityRange(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	// 反向向量的余弦为 -1，映射后相似度应收敛到 0 而不是负数
	require.NoError(t, store.Upsert(ctx, CollectionDeals, "d1", "opposite", nil))

	results, err := store.Query(ctx, CollectionDeals, "query", 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.0, results[0].Similarity, 1e-9)
	assert.InDelta(t, 1.0, results[0].Distance, 1e-9)
}

func TestMemoryStore_TopKTruncation(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, CollectionDeals, "d1", "far", nil))
	require.NoError(t, store.Upsert(ctx, CollectionDeals, "d2", "close", nil))
	require.NoError(t, store.Upsert(ctx, CollectionDeals, "d3", "mid", nil))

	results, err := store.Query(ctx, CollectionDeals, "query", 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "d2", results[0].ID)
	assert.Equal(t, "d3", results[1].ID)
}

func TestMemoryStore_UpsertIdempotence(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, CollectionObjections, "o1", "close", map[string]interface{}{"category": "price"}))
	require.NoError(t, store.Upsert(ctx, CollectionObjections, "o1", "mid", map[string]interface{}{"category": "timing"}))

	stats, err := store.Stats(ctx, CollectionObjections)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Count)

	results, err := store.Query(ctx, CollectionObjections, "query", 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "mid", results[0].Document)
	assert.Equal(t, "timing", results[0].Metadata["category"])
}

func TestMemoryStore_MetadataFilter(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, CollectionDeals, "d1", "close", map[string]interface{}{"industry": "saas", "outcome": "won"}))
	require.NoError(t, store.Upsert(ctx, CollectionDeals, "d2", "mid", map[string]interface{}{"industry": "retail", "outcome": "won"}))
	require.NoError(t, store.Upsert(ctx, CollectionDeals, "d3", "far", nil))

	results, err := store.Query(ctx, CollectionDeals, "query", 10, map[string]interface{}{"industry": "saas"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "d1", results[0].ID)

	// 多字段过滤取交集
	results, err = store.Query(ctx, CollectionDeals, "query", 10, map[string]interface{}{"industry": "retail", "outcome": "won"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "d2", results[0].ID)

	// 无 metadata 的记录不匹配任何过滤条件
	results, err = store.Query(ctx, CollectionDeals, "query", 10, map[string]interface{}{"industry": "saas", "outcome": "lost"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMemoryStore_Delete(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, CollectionPersonas, "p1", "close", nil))
	require.NoError(t, store.Delete(ctx, CollectionPersonas, "p1"))
	// 删除不存在的 id 是空操作
	require.NoError(t, store.Delete(ctx, CollectionPersonas, "p1"))

	stats, err := store.Stats(ctx, CollectionPersonas)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Count)
}

func TestMemoryStore_InvalidCollection(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	assert.Error(t, store.Upsert(ctx, Collection("users"), "u1", "doc", nil))
	_, err := store.Query(ctx, Collection("users"), "query", 5, nil)
	assert.Error(t, err)
}

func TestMemoryStore_EmbeddingFailure(t *testing.T) {
	store, client := newTestStore()
	ctx := context.Background()

	client.err = errors.New("embedding service down")
	assert.Error(t, store.Upsert(ctx, CollectionDeals, "d1", "close", nil))
	_, err := store.Query(ctx, CollectionDeals, "query", 5, nil)
	assert.Error(t, err)
}
