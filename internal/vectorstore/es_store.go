package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"crm-copilot-go/internal/config"
	"crm-copilot-go/internal/model"
	"crm-copilot-go/pkg/embedding"
	"crm-copilot-go/pkg/es"
	"crm-copilot-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
)

type esStore struct {
	esClient        *elasticsearch.Client
	embeddingClient embedding.Client
	esCfg           config.ElasticsearchConfig
}

// NewESStore 创建一个基于 Elasticsearch 的向量存储实例。
func NewESStore(esClient *elasticsearch.Client, embeddingClient embedding.Client, esCfg config.ElasticsearchConfig) Store {
	return &esStore{
		esClient:        esClient,
		embeddingClient: embeddingClient,
		esCfg:           esCfg,
	}
}

// Upsert 先向量化文本再写入集合索引，文档 ID 即实体 ID，重复写入整体覆盖。
func (s *esStore) Upsert(ctx context.Context, collection Collection, id, document string, metadata map[string]interface{}) error {
	if err := collection.Validate(); err != nil {
		return err
	}

	vector, err := s.embeddingClient.CreateEmbedding(ctx, document)
	if err != nil {
		return fmt.Errorf("failed to embed document for upsert: %w", err)
	}

	doc := model.EmbeddingDocument{
		EntityID:     id,
		Document:     document,
		Vector:       vector,
		ModelVersion: s.embeddingClient.Model(),
		Metadata:     metadata,
		IndexedAt:    time.Now(),
	}

	indexName := es.IndexName(s.esCfg.IndexPrefix, string(collection))
	if err := es.IndexDocument(ctx, indexName, doc); err != nil {
		return fmt.Errorf("failed to index document %s into %s: %w", id, collection, err)
	}
	return nil
}

// Query 向量化查询文本并执行 knn 检索。
// 结果按相似度从高到低返回，过滤掉与当前 embedding 模型版本不一致的记录。
func (s *esStore) Query(ctx context.Context, collection Collection, text string, topK int, filter map[string]interface{}) ([]SimilarityResult, error) {
	if err := collection.Validate(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 5
	}

	queryVector, err := s.embeddingClient.CreateEmbedding(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to create query embedding: %w", err)
	}

	// 构建 knn 查询，metadata 等值过滤 + embedding 模型版本校验
	filters := []map[string]interface{}{
		{"term": map[string]interface{}{"model_version": s.embeddingClient.Model()}},
	}
	for key, value := range filter {
		filters = append(filters, map[string]interface{}{
			"term": map[string]interface{}{"metadata." + key: value},
		})
	}

	esQuery := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   queryVector,
			"k":              topK,
			"num_candidates": topK * 10,
			"filter": map[string]interface{}{
				"bool": map[string]interface{}{
					"must": filters,
				},
			},
		},
		"size": topK,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	indexName := es.IndexName(s.esCfg.IndexPrefix, string(collection))
	res, err := s.esClient.Search(
		s.esClient.Search.WithContext(ctx),
		s.esClient.Search.WithIndex(indexName),
		s.esClient.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		log.Errorf("[VectorStore] Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(bodyBytes))
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.String())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.EmbeddingDocument `json:"_source"`
				Score  float64                 `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	results := make([]SimilarityResult, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		// cosine 空间下 ES 的 _score 已归一化到 [0,1]
		similarity := clamp01(hit.Score)
		results = append(results, SimilarityResult{
			ID:         hit.Source.EntityID,
			Document:   hit.Source.Document,
			Metadata:   hit.Source.Metadata,
			Similarity: similarity,
			Distance:   1 - similarity,
		})
	}
	return results, nil
}

// Delete 从集合中删除指定实体的记录，记录不存在不视为错误。
func (s *esStore) Delete(ctx context.Context, collection Collection, id string) error {
	if err := collection.Validate(); err != nil {
		return err
	}
	indexName := es.IndexName(s.esCfg.IndexPrefix, string(collection))
	return es.DeleteDocument(ctx, indexName, id)
}

// Stats 返回集合的文档总数。
func (s *esStore) Stats(ctx context.Context, collection Collection) (*CollectionStats, error) {
	if err := collection.Validate(); err != nil {
		return nil, err
	}
	indexName := es.IndexName(s.esCfg.IndexPrefix, string(collection))
	count, err := es.CountDocuments(ctx, indexName)
	if err != nil {
		return nil, err
	}
	return &CollectionStats{Collection: collection, Count: count}, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
