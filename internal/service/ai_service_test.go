package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"crm-copilot-go/internal/cache"
	"crm-copilot-go/internal/config"
	"crm-copilot-go/internal/model"
	"crm-copilot-go/internal/safety"
	"crm-copilot-go/internal/vectorstore"
	"crm-copilot-go/pkg/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFilter 按子串匹配拦截，模拟多阶段过滤器的判定结果。
type fakeFilter struct {
	blockSubstring string
	calls          int
}

func (f *fakeFilter) Check(ctx context.Context, text string) *safety.Verdict {
	f.calls++
	if f.blockSubstring != "" && strings.Contains(text, f.blockSubstring) {
		return &safety.Verdict{
			Allowed:  false,
			Reason:   "violence/threat",
			Severity: safety.SeverityHigh,
			Source:   safety.SourcePattern,
		}
	}
	return &safety.Verdict{Allowed: true}
}

type fakeQuotaService struct {
	allowed   bool
	checkErr  error
	recorded  int
	recordErr error
}

func (f *fakeQuotaService) CheckLimit(ctx context.Context, userID uint) (bool, error) {
	return f.allowed, f.checkErr
}

func (f *fakeQuotaService) RecordUsage(ctx context.Context, userID uint) error {
	f.recorded++
	return f.recordErr
}

type fakeLLMClient struct {
	completion *llm.Completion
	err        error
	calls      int
}

func (f *fakeLLMClient) Complete(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams) (*llm.Completion, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.completion, nil
}

type fakeAuditRepo struct {
	entries   []*model.AIRequestLog
	createErr error
	count     int64
	countErr  error
}

func (f *fakeAuditRepo) Create(ctx context.Context, entry *model.AIRequestLog) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAuditRepo) CountForUserSince(ctx context.Context, userID uint, since time.Time, statuses []string) (int64, error) {
	return f.count, f.countErr
}

func (f *fakeAuditRepo) FindByUser(ctx context.Context, userID uint, limit int) ([]*model.AIRequestLog, error) {
	return f.entries, nil
}

type serviceFixture struct {
	filter  *fakeFilter
	quota   *fakeQuotaService
	cache   *cache.MemoryResponseCache
	llm     *fakeLLMClient
	audit   *fakeAuditRepo
	service AIService
}

func newServiceFixture() *serviceFixture {
	f := &serviceFixture{
		filter: &fakeFilter{blockSubstring: "FORBIDDEN"},
		quota:  &fakeQuotaService{allowed: true},
		cache:  cache.NewMemoryResponseCache(10 * time.Minute),
		llm: &fakeLLMClient{completion: &llm.Completion{
			Content: "Focus your next call on the security review blocker.",
			Model:   "test-model",
			Usage:   llm.Usage{PromptTokens: 120, CompletionTokens: 60},
		}},
		audit: &fakeAuditRepo{},
	}
	costCfg := config.CostConfig{PromptPer1K: 0.0005, CompletionPer1K: 0.0015}
	f.service = NewAIService(f.filter, f.quota, f.cache, f.llm, f.audit, costCfg)
	return f
}

func TestGenerateResponse_BlockedInput(t *testing.T) {
	f := newServiceFixture()

	resp, err := f.service.GenerateResponse(context.Background(), model.FeatureDealCoaching,
		"system", "FORBIDDEN text", &GenerateOptions{UserID: 1})

	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.True(t, resp.Fallback)
	assert.Equal(t, "fallback", resp.Model)
	assert.Equal(t, fallbackConfidence, resp.Confidence)

	// 被拦截的文本绝不会到达 LLM
	assert.Equal(t, 0, f.llm.calls)
	assert.Equal(t, 0, f.quota.recorded)

	require.Len(t, f.audit.entries, 1)
	entry := f.audit.entries[0]
	assert.Equal(t, model.AuditStatusRejected, entry.Status)
	assert.Contains(t, entry.ErrorMessage, "violence/threat")
	assert.Contains(t, entry.ErrorMessage, "severity=high")
	assert.NotEmpty(t, entry.RequestID)
}

func TestGenerateResponse_QuotaExceeded(t *testing.T) {
	f := newServiceFixture()
	f.quota.allowed = false

	resp, err := f.service.GenerateResponse(context.Background(), model.FeatureDealCoaching,
		"system", "clean prompt", &GenerateOptions{UserID: 1})

	require.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Nil(t, resp)
	assert.Equal(t, 0, f.llm.calls)

	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, model.AuditStatusFailed, f.audit.entries[0].Status)
	assert.Equal(t, "quota exceeded", f.audit.entries[0].ErrorMessage)
}

func TestGenerateResponse_QuotaCheckFailure(t *testing.T) {
	f := newServiceFixture()
	f.quota.checkErr = errors.New("db down")

	// 计数查询失败按超额处理（fail-closed）
	resp, err := f.service.GenerateResponse(context.Background(), model.FeatureDealCoaching,
		"system", "clean prompt", &GenerateOptions{UserID: 1})

	require.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Nil(t, resp)
	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, model.AuditStatusFailed, f.audit.entries[0].Status)
	assert.Contains(t, f.audit.entries[0].ErrorMessage, "quota check failed")
}

func TestGenerateResponse_CacheHit(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()

	// 第一次调用落入缓存
	first, err := f.service.GenerateResponse(ctx, model.FeatureDealCoaching,
		"system", "clean prompt", &GenerateOptions{UserID: 1})
	require.NoError(t, err)
	require.Equal(t, 1, f.llm.calls)

	// 第二次相同请求直接命中缓存
	second, err := f.service.GenerateResponse(ctx, model.FeatureDealCoaching,
		"system", "clean prompt", &GenerateOptions{UserID: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, f.llm.calls)
	assert.Equal(t, first.Content, second.Content)

	// 缓存命中同样产生审计记录并递增持久化用量，与审计计数口径一致
	require.Len(t, f.audit.entries, 2)
	assert.Equal(t, model.AuditStatusCompleted, f.audit.entries[1].Status)
	assert.Equal(t, 2, f.quota.recorded)
}

func TestGenerateResponse_SkipCache(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()

	_, err := f.service.GenerateResponse(ctx, model.FeatureDealCoaching,
		"system", "clean prompt", &GenerateOptions{UserID: 1})
	require.NoError(t, err)

	// SkipCache 跳过读取但仍写回
	f.llm.completion.Content = "refreshed advice"
	_, err = f.service.GenerateResponse(ctx, model.FeatureDealCoaching,
		"system", "clean prompt", &GenerateOptions{UserID: 1, SkipCache: true})
	require.NoError(t, err)
	assert.Equal(t, 2, f.llm.calls)

	key := cache.Key(model.FeatureDealCoaching, "system", "clean prompt", "")
	cached, hit, err := f.cache.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, "refreshed advice", cached.Content)
}

func TestGenerateResponse_LLMFailure(t *testing.T) {
	f := newServiceFixture()
	f.llm.err = errors.New("upstream timeout")

	// 上游失败归一化为降级响应，调用方不会看到原始异常
	resp, err := f.service.GenerateResponse(context.Background(), model.FeatureObjectionHandling,
		"system", "clean prompt", &GenerateOptions{UserID: 1})

	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.True(t, resp.Fallback)
	assert.Equal(t, "fallback", resp.Model)

	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, model.AuditStatusFailed, f.audit.entries[0].Status)
	assert.Contains(t, f.audit.entries[0].ErrorMessage, "upstream timeout")
	assert.Equal(t, 0, f.quota.recorded)
}

func TestGenerateResponse_ResponseFiltering(t *testing.T) {
	f := newServiceFixture()
	f.llm.completion.Content = "some FORBIDDEN generated text"

	resp, err := f.service.GenerateResponse(context.Background(), model.FeatureDealCoaching,
		"system", "clean prompt", &GenerateOptions{UserID: 1, FilterResponse: true})

	require.NoError(t, err)
	assert.True(t, resp.Filtered)
	assert.True(t, resp.Fallback)
	assert.Equal(t, fallbackContent(model.FeatureDealCoaching), resp.Content)
	// 输入与输出各过滤一次
	assert.Equal(t, 2, f.filter.calls)

	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, model.AuditStatusCompleted, f.audit.entries[0].Status)
}

func TestGenerateResponse_FilteringDisabled(t *testing.T) {
	f := newServiceFixture()
	disabled := false

	resp, err := f.service.GenerateResponse(context.Background(), model.FeatureDealCoaching,
		"system", "FORBIDDEN text", &GenerateOptions{UserID: 1, EnableContentFiltering: &disabled})

	require.NoError(t, err)
	assert.False(t, resp.Fallback)
	assert.Equal(t, 0, f.filter.calls)
	assert.Equal(t, 1, f.llm.calls)
}

func TestGenerateResponse_Success(t *testing.T) {
	f := newServiceFixture()

	resp, err := f.service.GenerateResponse(context.Background(), model.FeatureWinLossAnalysis,
		"system", "why did we lose the Acme deal", &GenerateOptions{UserID: 7})

	require.NoError(t, err)
	assert.Equal(t, "Focus your next call on the security review blocker.", resp.Content)
	assert.Equal(t, "test-model", resp.Model)
	assert.Equal(t, 120, resp.Usage.PromptTokens)
	assert.Equal(t, 60, resp.Usage.CompletionTokens)
	assert.False(t, resp.Fallback)
	assert.False(t, resp.Filtered)

	// 每次调用写且仅写一条审计记录，成功后递增用量
	require.Len(t, f.audit.entries, 1)
	entry := f.audit.entries[0]
	assert.Equal(t, model.AuditStatusCompleted, entry.Status)
	assert.Equal(t, "generate", entry.RequestType)
	assert.Equal(t, uint(7), entry.UserID)
	assert.Greater(t, entry.EstimatedCost, 0.0)
	assert.Equal(t, 1, f.quota.recorded)
}

func TestGenerateResponse_RAGContextBoostsConfidence(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()

	base, err := f.service.GenerateResponse(ctx, model.FeatureDealCoaching,
		"system", "clean prompt", &GenerateOptions{UserID: 1, SkipCache: true})
	require.NoError(t, err)

	ragCtx := []vectorstore.SimilarityResult{
		{Document: "won deal with similar objection", Similarity: 0.9},
		{Document: "lost deal on pricing", Similarity: 0.7},
	}
	boosted, err := f.service.GenerateResponse(ctx, model.FeatureDealCoaching,
		"system", "clean prompt", &GenerateOptions{UserID: 1, SkipCache: true, RAGContext: ragCtx})
	require.NoError(t, err)

	assert.Greater(t, boosted.Confidence, base.Confidence)
	assert.LessOrEqual(t, boosted.Confidence, 100)
}

func TestComputeConfidence(t *testing.T) {
	tests := []struct {
		name             string
		content          string
		completionTokens int
		ragContext       []vectorstore.SimilarityResult
		want             int
	}{
		{"短响应无上下文", "short", 10, nil, 50},
		{"长响应加分", strings.Repeat("a", 201), 10, nil, 60},
		{"超长响应加分", strings.Repeat("a", 501), 10, nil, 70},
		{"补全 token 加分", "short", 51, nil, 60},
		{
			"满相似度上下文",
			"short", 10,
			[]vectorstore.SimilarityResult{{Similarity: 1.0}},
			80,
		},
		{
			"全部加分项收敛到 100",
			strings.Repeat("a", 501), 51,
			[]vectorstore.SimilarityResult{{Similarity: 1.0}},
			100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := computeConfidence(tt.content, tt.completionTokens, tt.ragContext)
			assert.Equal(t, tt.want, got)
			assert.GreaterOrEqual(t, got, 0)
			assert.LessOrEqual(t, got, 100)
		})
	}
}

func TestGenerateResponse_AuditWriteFailureDoesNotBlock(t *testing.T) {
	f := newServiceFixture()
	f.audit.createErr = errors.New("insert failed")

	resp, err := f.service.GenerateResponse(context.Background(), model.FeatureDealCoaching,
		"system", "clean prompt", &GenerateOptions{UserID: 1})

	// 审计写入失败只记录日志，响应正常返回
	require.NoError(t, err)
	assert.Equal(t, "test-model", resp.Model)
}
