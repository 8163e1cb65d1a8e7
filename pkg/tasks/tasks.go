// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// 可被定向重索引的实体类型。
const (
	EntityTypeDeal        = "deal"
	EntityTypeObjection   = "objection"
	EntityTypeInteraction = "interaction"
	EntityTypePersona     = "persona"
)

// EntityChangeEvent represents a CRM entity change that may require re-indexing.
// 事件只携带实体标识；是否仍然“符合索引条件”由管道按实体当前状态判定。
type EntityChangeEvent struct {
	EntityType string `json:"entity_type"`
	EntityID   uint   `json:"entity_id"`
}
