// Package handler 存放 Gin 框架的请求处理器。
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"crm-copilot-go/internal/cache"
	"crm-copilot-go/internal/model"
	"crm-copilot-go/internal/repository"
	"crm-copilot-go/internal/service"
	"crm-copilot-go/internal/vectorstore"
	"crm-copilot-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// AIHandler 结构体定义了 AI 生成相关的处理器。
type AIHandler struct {
	aiService     service.AIService
	store         vectorstore.Store
	responseCache cache.ResponseCache
	auditRepo     repository.AuditLogRepository
}

// NewAIHandler 创建一个新的 AIHandler 实例。
func NewAIHandler(aiService service.AIService, store vectorstore.Store,
	responseCache cache.ResponseCache, auditRepo repository.AuditLogRepository) *AIHandler {
	return &AIHandler{
		aiService:     aiService,
		store:         store,
		responseCache: responseCache,
		auditRepo:     auditRepo,
	}
}

// generateRequest 是生成接口的请求体。
type generateRequest struct {
	Feature      string `json:"feature" binding:"required"`
	SystemPrompt string `json:"systemPrompt" binding:"required"`
	UserPrompt   string `json:"userPrompt" binding:"required"`
	Options      struct {
		EntityID       string   `json:"entityId"`
		Temperature    *float64 `json:"temperature"`
		MaxTokens      *int     `json:"maxTokens"`
		SkipCache      bool     `json:"skipCache"`
		FilterResponse bool     `json:"filterResponse"`
		// RetrieveTopK > 0 时，先用 userPrompt 在功能对应的集合里检索相似案例
		RetrieveTopK   int                    `json:"retrieveTopK"`
		RetrieveFilter map[string]interface{} `json:"retrieveFilter"`
	} `json:"options"`
}

// Generate 是处理 AI 生成请求的 Gin 处理函数。
func (h *AIHandler) Generate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("[AIHandler] 生成请求参数无效: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数"})
		return
	}

	feature, err := model.ParseFeature(req.Feature)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := parseUserID(c)
	log.Infof("[AIHandler] 收到生成请求, feature: %s, userID: %d", feature, userID)

	opts := &service.GenerateOptions{
		UserID:         userID,
		EntityID:       req.Options.EntityID,
		Temperature:    req.Options.Temperature,
		MaxTokens:      req.Options.MaxTokens,
		SkipCache:      req.Options.SkipCache,
		FilterResponse: req.Options.FilterResponse,
	}

	// 可选的检索增强：按功能映射到对应集合查相似案例
	if req.Options.RetrieveTopK > 0 {
		results, retrieveErr := h.store.Query(c.Request.Context(), collectionForFeature(feature),
			req.UserPrompt, req.Options.RetrieveTopK, req.Options.RetrieveFilter)
		if retrieveErr != nil {
			// 检索失败不阻断生成，只是没有上下文增强
			log.Warnf("[AIHandler] 检索相似案例失败: %v", retrieveErr)
		} else {
			opts.RAGContext = results
		}
	}

	resp, err := h.aiService.GenerateResponse(c.Request.Context(), feature, req.SystemPrompt, req.UserPrompt, opts)
	if err != nil {
		if errors.Is(err, service.ErrQuotaExceeded) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "今日 AI 请求配额已用尽"})
			return
		}
		log.Errorf("[AIHandler] 生成服务返回错误: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "生成失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": 200, "data": resp, "message": "success"})
}

// clearCacheRequest 是缓存失效接口的请求体。
type clearCacheRequest struct {
	Feature string `json:"feature" binding:"required"`
}

// ClearCache 清除某个功能下的全部缓存响应，提示词模板调整后调用。
func (h *AIHandler) ClearCache(c *gin.Context) {
	var req clearCacheRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数"})
		return
	}

	feature, err := model.ParseFeature(req.Feature)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.responseCache.Clear(c.Request.Context(), feature); err != nil {
		log.Errorf("[AIHandler] 清除功能 %s 缓存失败: %v", feature, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "清除缓存失败"})
		return
	}

	log.Infof("[AIHandler] 已清除功能 %s 的响应缓存", feature)
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": nil, "message": "success"})
}

// History 返回当前用户最近的 AI 请求记录。
func (h *AIHandler) History(c *gin.Context) {
	userID := parseUserID(c)
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		limit = 20
	}

	entries, err := h.auditRepo.FindByUser(c.Request.Context(), userID, limit)
	if err != nil {
		log.Errorf("[AIHandler] 查询用户 %d 请求记录失败: %v", userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询请求记录失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": 200, "data": entries, "message": "success"})
}

// collectionForFeature 把功能映射到检索集合。
func collectionForFeature(feature model.Feature) vectorstore.Collection {
	switch feature {
	case model.FeatureDealCoaching:
		return vectorstore.CollectionDeals
	case model.FeaturePersonaBuilder:
		return vectorstore.CollectionPersonas
	case model.FeatureObjectionHandling:
		return vectorstore.CollectionObjections
	case model.FeatureWinLossAnalysis:
		return vectorstore.CollectionDeals
	}
	return vectorstore.CollectionDeals
}

// parseUserID 从请求头解析用户 ID。认证由外层网关完成，这里只取透传的标识。
func parseUserID(c *gin.Context) uint {
	idStr := c.GetHeader("X-User-ID")
	if idStr == "" {
		return 0
	}
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return 0
	}
	return uint(id)
}
