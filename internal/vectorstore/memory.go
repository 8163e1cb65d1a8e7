package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"

	"crm-copilot-go/pkg/embedding"
)

type memoryRecord struct {
	id       string
	document string
	metadata map[string]interface{}
	vector   []float32
}

// MemoryStore 是 Store 的进程内暴力检索实现，用于测试与本地开发。
type MemoryStore struct {
	mu              sync.RWMutex
	embeddingClient embedding.Client
	collections     map[Collection]map[string]memoryRecord
}

// NewMemoryStore 创建一个进程内向量存储实例。
func NewMemoryStore(embeddingClient embedding.Client) *MemoryStore {
	collections := make(map[Collection]map[string]memoryRecord, len(AllCollections))
	for _, c := range AllCollections {
		collections[c] = make(map[string]memoryRecord)
	}
	return &MemoryStore{
		embeddingClient: embeddingClient,
		collections:     collections,
	}
}

// Upsert 向量化后按 id 覆盖写入。
func (s *MemoryStore) Upsert(ctx context.Context, collection Collection, id, document string, metadata map[string]interface{}) error {
	if err := collection.Validate(); err != nil {
		return err
	}
	vector, err := s.embeddingClient.CreateEmbedding(ctx, document)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.collections[collection][id] = memoryRecord{
		id:       id,
		document: document,
		metadata: metadata,
		vector:   vector,
	}
	s.mu.Unlock()
	return nil
}

// Query 对集合内全部记录做余弦相似度暴力检索。
func (s *MemoryStore) Query(ctx context.Context, collection Collection, text string, topK int, filter map[string]interface{}) ([]SimilarityResult, error) {
	if err := collection.Validate(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 5
	}
	queryVector, err := s.embeddingClient.CreateEmbedding(ctx, text)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]SimilarityResult, 0, len(s.collections[collection]))
	for _, record := range s.collections[collection] {
		if !matchesFilter(record.metadata, filter) {
			continue
		}
		similarity := cosineSimilarity(queryVector, record.vector)
		results = append(results, SimilarityResult{
			ID:         record.id,
			Document:   record.document,
			Metadata:   record.metadata,
			Similarity: similarity,
			Distance:   1 - similarity,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Delete 删除指定 id 的记录，不存在时为空操作。
func (s *MemoryStore) Delete(ctx context.Context, collection Collection, id string) error {
	if err := collection.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.collections[collection], id)
	s.mu.Unlock()
	return nil
}

// Stats 返回集合内的记录数。
func (s *MemoryStore) Stats(ctx context.Context, collection Collection) (*CollectionStats, error) {
	if err := collection.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &CollectionStats{Collection: collection, Count: int64(len(s.collections[collection]))}, nil
}

func matchesFilter(metadata, filter map[string]interface{}) bool {
	for key, want := range filter {
		if metadata == nil || metadata[key] != want {
			return false
		}
	}
	return true
}

// cosineSimilarity 返回映射到 [0,1] 的余弦相似度，与 ES cosine 打分对齐。
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i] * b[i])
		normA += float64(a[i] * a[i])
		normB += float64(b[i] * b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return clamp01((1 + cos) / 2)
}
