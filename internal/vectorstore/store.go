// Package vectorstore 提供按命名集合组织的向量存储抽象。
// 调用方只传文本，向量化由实现内部完成，索引与查询因此天然使用同一个
// embedding 模型，模型标识会写入每条记录并在查询时校验。
package vectorstore

import (
	"context"
	"fmt"
)

// Collection 是向量库中的一个命名集合。集合是封闭的：只有四个。
type Collection string

const (
	CollectionDeals        Collection = "deals"
	CollectionObjections   Collection = "objections"
	CollectionInteractions Collection = "interactions"
	CollectionPersonas     Collection = "personas"
)

// AllCollections 列出全部集合。
var AllCollections = []Collection{
	CollectionDeals,
	CollectionObjections,
	CollectionInteractions,
	CollectionPersonas,
}

// Validate 校验集合名是否合法。
func (c Collection) Validate() error {
	switch c {
	case CollectionDeals, CollectionObjections, CollectionInteractions, CollectionPersonas:
		return nil
	}
	return fmt.Errorf("未知的向量集合: %q", c)
}

// SimilarityResult 是一次相似度查询的单条结果。
// Similarity ∈ [0,1]，Distance = 1 - Similarity（cosine 相似度空间）。
type SimilarityResult struct {
	ID         string                 `json:"id"`
	Document   string                 `json:"document"`
	Metadata   map[string]interface{} `json:"metadata"`
	Similarity float64                `json:"similarity"`
	Distance   float64                `json:"distance"`
}

// CollectionStats 是一个集合的统计信息。
type CollectionStats struct {
	Collection Collection `json:"collection"`
	Count      int64      `json:"count"`
}

// Store 定义了向量存储的操作接口。
type Store interface {
	// Upsert 向集合写入一条记录；同一 id 重复写入整体覆盖旧记录（幂等）。
	Upsert(ctx context.Context, collection Collection, id, document string, metadata map[string]interface{}) error
	// Query 向集合发起相似度查询，结果按相似度从高到低排序并截断到 topK。
	// filter 对 metadata 字段做等值过滤（如按行业筛选候选）。
	Query(ctx context.Context, collection Collection, text string, topK int, filter map[string]interface{}) ([]SimilarityResult, error)
	Delete(ctx context.Context, collection Collection, id string) error
	Stats(ctx context.Context, collection Collection) (*CollectionStats, error)
}
