package handler

import (
	"context"
	"net/http"
	"time"

	"crm-copilot-go/internal/pipeline"
	"crm-copilot-go/internal/vectorstore"
	"crm-copilot-go/pkg/kafka"
	"crm-copilot-go/pkg/log"
	"crm-copilot-go/pkg/tasks"

	"github.com/gin-gonic/gin"
)

// IndexHandler 结构体定义了索引管道相关的处理器。
type IndexHandler struct {
	indexer *pipeline.Indexer
	store   vectorstore.Store
}

// NewIndexHandler 创建一个新的 IndexHandler 实例。
func NewIndexHandler(indexer *pipeline.Indexer, store vectorstore.Store) *IndexHandler {
	return &IndexHandler{
		indexer: indexer,
		store:   store,
	}
}

// FullIndex 触发一次异步全量索引。全量索引可能耗时数分钟，
// 接口立即返回，进度通过日志与 stats 接口观察。
func (h *IndexHandler) FullIndex(c *gin.Context) {
	log.Info("[IndexHandler] 收到全量索引请求")
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		report, err := h.indexer.IndexAll(ctx)
		if err != nil {
			log.Errorf("[IndexHandler] 全量索引执行失败: %v", err)
			return
		}
		log.Infof("[IndexHandler] 全量索引执行完成, 成功: %d, 失败: %d", report.Indexed, report.Failed)
	}()
	c.JSON(http.StatusAccepted, gin.H{"code": 202, "data": nil, "message": "全量索引已开始"})
}

// reindexRequest 是定向重索引的请求体。
type reindexRequest struct {
	EntityType string `json:"entityType" binding:"required"`
	EntityID   uint   `json:"entityId" binding:"required"`
}

// Reindex 把单个实体的变更事件投递到 Kafka，由消费者异步执行定向重索引。
func (h *IndexHandler) Reindex(c *gin.Context) {
	var req reindexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数"})
		return
	}

	switch req.EntityType {
	case tasks.EntityTypeDeal, tasks.EntityTypeObjection, tasks.EntityTypeInteraction, tasks.EntityTypePersona:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "未知的实体类型: " + req.EntityType})
		return
	}

	event := tasks.EntityChangeEvent{EntityType: req.EntityType, EntityID: req.EntityID}
	if err := kafka.ProduceEntityChange(event); err != nil {
		log.Errorf("[IndexHandler] 投递实体变更事件失败: type=%s, id=%d: %v", req.EntityType, req.EntityID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "投递重索引事件失败"})
		return
	}

	log.Infof("[IndexHandler] 已投递重索引事件: type=%s, id=%d", req.EntityType, req.EntityID)
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": event, "message": "success"})
}

// Stats 返回各向量集合的记录数。
func (h *IndexHandler) Stats(c *gin.Context) {
	stats := make([]*vectorstore.CollectionStats, 0, len(vectorstore.AllCollections))
	for _, collection := range vectorstore.AllCollections {
		s, err := h.store.Stats(c.Request.Context(), collection)
		if err != nil {
			log.Errorf("[IndexHandler] 读取集合 %s 统计失败: %v", collection, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "读取集合统计失败"})
			return
		}
		stats = append(stats, s)
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": stats, "message": "success"})
}
