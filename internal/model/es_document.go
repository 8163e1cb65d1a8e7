package model

import "time"

// EmbeddingDocument 代表存储在 Elasticsearch 向量索引中的文档结构。
// 文档 ID 即源实体 ID，重复 upsert 同一 ID 会整体覆盖旧记录（幂等重索引）。
type EmbeddingDocument struct {
	EntityID     string                 `json:"entity_id"`
	Document     string                 `json:"document"` // 展平后的文本上下文
	Vector       []float32              `json:"vector"`   // 文本内容的向量表示
	ModelVersion string                 `json:"model_version"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	IndexedAt    time.Time              `json:"indexed_at"`
}
