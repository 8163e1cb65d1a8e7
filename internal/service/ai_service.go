package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"crm-copilot-go/internal/cache"
	"crm-copilot-go/internal/config"
	"crm-copilot-go/internal/model"
	"crm-copilot-go/internal/repository"
	"crm-copilot-go/internal/safety"
	"crm-copilot-go/internal/vectorstore"
	"crm-copilot-go/pkg/llm"
	"crm-copilot-go/pkg/log"

	"github.com/google/uuid"
)

// ErrQuotaExceeded 表示用户当日配额已用尽。
// 它是唯一穿透编排器边界的错误，调用方需要把它与内容拦截区分开。
var ErrQuotaExceeded = errors.New("daily ai request quota exceeded")

// GenerateOptions 是 GenerateResponse 的可选参数。
type GenerateOptions struct {
	UserID      uint
	EntityID    string // 功能作用的领域实体（商机/联系人）ID，参与缓存键
	Temperature *float64
	MaxTokens   *int
	SkipCache   bool // 强制刷新：跳过缓存读取，但仍写回
	// EnableContentFiltering 为 nil 时默认开启输入过滤。
	EnableContentFiltering *bool
	// FilterResponse 开启后生成内容本身也会过一遍安全过滤。
	FilterResponse bool
	// RAGContext 是调用方预先检索到的相似案例，参与提示词组装与置信度计算。
	RAGContext []vectorstore.SimilarityResult
}

func (o *GenerateOptions) contentFilteringEnabled() bool {
	return o.EnableContentFiltering == nil || *o.EnableContentFiltering
}

// AIService 定义了 AI 请求编排的接口。
type AIService interface {
	// GenerateResponse 执行完整的请求管道：过滤 → 配额 → 缓存 → LLM →
	// 响应过滤 → 置信度 → 缓存写回 → 审计。除配额用尽外，任何失败都被
	// 归一化为 schema 兼容的降级响应，调用方不会看到原始异常。
	GenerateResponse(ctx context.Context, feature model.Feature, systemPrompt, userPrompt string, opts *GenerateOptions) (*model.AIResponse, error)
}

type aiService struct {
	filter        safety.Filter
	quotaService  QuotaService
	responseCache cache.ResponseCache
	llmClient     llm.Client
	auditRepo     repository.AuditLogRepository
	costCfg       config.CostConfig
	now           func() time.Time
}

// NewAIService 创建一个新的 AIService 实例。
func NewAIService(
	filter safety.Filter,
	quotaService QuotaService,
	responseCache cache.ResponseCache,
	llmClient llm.Client,
	auditRepo repository.AuditLogRepository,
	costCfg config.CostConfig,
) AIService {
	return &aiService{
		filter:        filter,
		quotaService:  quotaService,
		responseCache: responseCache,
		llmClient:     llmClient,
		auditRepo:     auditRepo,
		costCfg:       costCfg,
		now:           time.Now,
	}
}

// GenerateResponse 协调完整的 AI 请求管道。
func (s *aiService) GenerateResponse(ctx context.Context, feature model.Feature, systemPrompt, userPrompt string, opts *GenerateOptions) (*model.AIResponse, error) {
	if opts == nil {
		opts = &GenerateOptions{}
	}
	start := s.now()
	requestID := uuid.NewString()
	log.Infof("[AIService] 开始处理请求, requestID: %s, feature: %s, userID: %d", requestID, feature, opts.UserID)

	// 步骤1: 输入内容安全过滤。被拦截的文本绝不会到达 LLM。
	if opts.contentFilteringEnabled() {
		verdict := s.filter.Check(ctx, userPrompt)
		if !verdict.Allowed {
			log.Warnf("[AIService] 输入被安全过滤器拦截, requestID: %s, reason: %s, severity: %s", requestID, verdict.Reason, verdict.Severity)
			resp := newFallbackResponse(feature, false, s.now())
			s.writeAudit(ctx, requestID, feature, opts, userPrompt, resp.Content,
				model.AuditStatusRejected, start, fmt.Sprintf("%s (severity=%s, source=%s)", verdict.Reason, verdict.Severity, verdict.Source), 0)
			return resp, nil
		}
	}

	// 步骤2: 配额检查。计数查询出错按拒绝处理（fail-closed）。
	allowed, err := s.quotaService.CheckLimit(ctx, opts.UserID)
	if err != nil || !allowed {
		errMsg := "quota exceeded"
		if err != nil {
			errMsg = fmt.Sprintf("quota check failed: %v", err)
		}
		s.writeAudit(ctx, requestID, feature, opts, userPrompt, "",
			model.AuditStatusFailed, start, errMsg, 0)
		return nil, ErrQuotaExceeded
	}

	// 步骤3: 缓存查找。命中同样产生完整的审计记录并递增用量，
	// 持久化计数与权威的审计口径保持一致。
	key := cache.Key(feature, systemPrompt, userPrompt, opts.EntityID)
	if !opts.SkipCache {
		cached, hit, cacheErr := s.responseCache.Get(ctx, key)
		if cacheErr != nil {
			log.Warnf("[AIService] 读取响应缓存失败, requestID: %s: %v", requestID, cacheErr)
		} else if hit {
			log.Infof("[AIService] 缓存命中, requestID: %s, key: %s", requestID, key)
			s.writeAudit(ctx, requestID, feature, opts, userPrompt, cached.Content,
				model.AuditStatusCompleted, start, "", 0)
			if usageErr := s.quotaService.RecordUsage(ctx, opts.UserID); usageErr != nil {
				log.Warnf("[AIService] 递增用户 %d 用量计数失败: %v", opts.UserID, usageErr)
			}
			return cached, nil
		}
	}

	// 步骤4: 调用 LLM。
	messages := s.composeMessages(systemPrompt, userPrompt, opts.RAGContext)
	completion, err := s.llmClient.Complete(ctx, messages, s.buildGenerationParams(opts))
	if err != nil {
		// 上游失败在编排器边界归一化为降级响应，不向调用方抛原始异常
		log.Errorf("[AIService] LLM 调用失败, requestID: %s: %v", requestID, err)
		resp := newFallbackResponse(feature, false, s.now())
		s.writeAudit(ctx, requestID, feature, opts, userPrompt, resp.Content,
			model.AuditStatusFailed, start, err.Error(), 0)
		return resp, nil
	}

	content := completion.Content
	filtered := false

	// 步骤5: 可选的响应侧过滤。
	if opts.FilterResponse {
		verdict := s.filter.Check(ctx, content)
		if !verdict.Allowed {
			log.Warnf("[AIService] 生成内容被响应过滤拦截, requestID: %s, reason: %s", requestID, verdict.Reason)
			content = fallbackContent(feature)
			filtered = true
		}
	}

	// 步骤6: 置信度评分。
	confidence := computeConfidence(content, completion.Usage.CompletionTokens, opts.RAGContext)

	resp := &model.AIResponse{
		Content: content,
		Model:   completion.Model,
		Usage: model.TokenUsage{
			PromptTokens:     completion.Usage.PromptTokens,
			CompletionTokens: completion.Usage.CompletionTokens,
		},
		Confidence: confidence,
		Timestamp:  s.now(),
		Filtered:   filtered,
		Fallback:   filtered,
	}

	// 步骤7: 写回缓存。失败只记录日志，不影响响应。
	if cacheErr := s.responseCache.Set(ctx, key, resp); cacheErr != nil {
		log.Warnf("[AIService] 写入响应缓存失败, requestID: %s: %v", requestID, cacheErr)
	}

	// 步骤8: 审计与持久化用量递增。
	cost := s.estimateCost(systemPrompt+userPrompt, content)
	s.writeAudit(ctx, requestID, feature, opts, userPrompt, content,
		model.AuditStatusCompleted, start, "", cost)
	if usageErr := s.quotaService.RecordUsage(ctx, opts.UserID); usageErr != nil {
		log.Warnf("[AIService] 递增用户 %d 用量计数失败: %v", opts.UserID, usageErr)
	}

	log.Infof("[AIService] 请求处理完成, requestID: %s, confidence: %d, filtered: %v", requestID, confidence, filtered)
	return resp, nil
}

// composeMessages 组装 system/user 消息；有检索上下文时包裹进 system 提示词。
func (s *aiService) composeMessages(systemPrompt, userPrompt string, ragContext []vectorstore.SimilarityResult) []llm.Message {
	system := systemPrompt
	if len(ragContext) > 0 {
		var b strings.Builder
		b.WriteString(systemPrompt)
		b.WriteString("\n\nRelevant past examples:\n<<REF>>\n")
		for i, r := range ragContext {
			fmt.Fprintf(&b, "[%d] %s\n", i+1, r.Document)
		}
		b.WriteString("<<END>>")
		system = b.String()
	}
	return []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: userPrompt},
	}
}

func (s *aiService) buildGenerationParams(opts *GenerateOptions) *llm.GenerationParams {
	if opts.Temperature == nil && opts.MaxTokens == nil {
		return nil
	}
	return &llm.GenerationParams{
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
}

// computeConfidence 计算响应置信度：基础 50 分，检索上下文的平均相似度
// 最多加 30 分，响应长度与补全 token 数各自加分，最终收敛到 [0,100]。
func computeConfidence(content string, completionTokens int, ragContext []vectorstore.SimilarityResult) int {
	score := 50.0
	if len(ragContext) > 0 {
		var sum float64
		for _, r := range ragContext {
			sum += r.Similarity
		}
		score += 30 * (sum / float64(len(ragContext)))
	}
	if len(content) > 200 {
		score += 10
	}
	if len(content) > 500 {
		score += 10
	}
	if completionTokens > 50 {
		score += 10
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return int(score)
}

// estimateCost 用 字符数/4 的粗略启发式估算 token 数并折算成本。
func (s *aiService) estimateCost(promptText, outputText string) float64 {
	promptTokens := float64(len(promptText)) / 4
	completionTokens := float64(len(outputText)) / 4
	return promptTokens/1000*s.costCfg.PromptPer1K + completionTokens/1000*s.costCfg.CompletionPer1K
}

// writeAudit 追加一条审计记录。每次调用写且仅写一条；写入失败只记录日志。
func (s *aiService) writeAudit(ctx context.Context, requestID string, feature model.Feature, opts *GenerateOptions,
	input, output, status string, start time.Time, errMsg string, cost float64) {
	end := s.now()
	entry := &model.AIRequestLog{
		RequestID:      requestID,
		Feature:        feature.String(),
		RequestType:    "generate",
		UserID:         opts.UserID,
		InputSummary:   summarize(input),
		OutputSummary:  summarize(output),
		Status:         status,
		StartTime:      start,
		EndTime:        end,
		ResponseTimeMs: end.Sub(start).Milliseconds(),
		ErrorMessage:   summarize(errMsg),
		EstimatedCost:  cost,
	}
	if err := s.auditRepo.Create(ctx, entry); err != nil {
		log.Errorf("[AIService] 写入审计日志失败, requestID: %s: %v", requestID, err)
	}
}

// summarize 截断长文本，审计记录只保留摘要。
func summarize(text string) string {
	const maxLen = 500
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen-1]) + "…"
}
