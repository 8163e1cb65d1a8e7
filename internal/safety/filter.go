// Package safety 实现了多阶段的内容安全过滤器。
// 阶段按固定顺序执行，命中拦截即短路；被拦截的文本绝不会到达 LLM。
package safety

import (
	"context"
	"strings"
	"unicode/utf8"

	"crm-copilot-go/internal/config"
	"crm-copilot-go/pkg/log"
	"crm-copilot-go/pkg/moderation"
)

// Severity 表示拦截的严重级别。
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Source 标识产生判定的阶段。
type Source string

const (
	SourcePattern    Source = "pattern"
	SourceBusiness   Source = "business-context"
	SourceModeration Source = "external-moderation"
)

// Verdict 是对一段文本的允许/拦截判定，仅在请求内有效，不单独持久化。
type Verdict struct {
	Allowed  bool
	Reason   string
	Severity Severity
	Source   Source
}

// Filter 定义了内容安全过滤器的接口。
type Filter interface {
	Check(ctx context.Context, text string) *Verdict
}

type contentFilter struct {
	cfg              config.SafetyConfig
	moderationClient moderation.Client
	moderationOn     bool
}

// NewFilter 创建一个内容安全过滤器。moderationClient 可为 nil（关闭外部审核阶段）。
func NewFilter(cfg config.SafetyConfig, moderationClient moderation.Client, moderationEnabled bool) Filter {
	return &contentFilter{
		cfg:              cfg,
		moderationClient: moderationClient,
		moderationOn:     moderationEnabled && moderationClient != nil,
	}
}

var allowedVerdict = Verdict{Allowed: true}

// Check 依次执行四个阶段：基础校验 → 拒绝模式 → 业务白名单改判 → 外部审核。
// 返回第一个拦截阶段的判定；全部通过则返回 allowed。
func (f *contentFilter) Check(ctx context.Context, text string) *Verdict {
	// 阶段1: 基础校验
	if v := f.validate(text); v != nil {
		return v
	}

	// 阶段2: 拒绝类别模式匹配
	if category := matchDenyCategory(text); category != nil {
		// 阶段3: 业务场景改判，直白但专业的异议/批评不拦截
		if category.Reclassable && matchBusinessContext(text) {
			log.Infof("[SafetyFilter] 命中拒绝类别 '%s' 但强匹配业务表述，改判为允许", category.Reason)
			return &Verdict{Allowed: true, Source: SourceBusiness}
		}
		log.Warnf("[SafetyFilter] 输入被拒绝类别 '%s' 拦截, severity: %s", category.Reason, category.Severity)
		return &Verdict{
			Allowed:  false,
			Reason:   category.Reason,
			Severity: category.Severity,
			Source:   SourcePattern,
		}
	}

	// 阶段4: 外部审核（仅在前三阶段未拦截时咨询）
	if f.moderationOn {
		if v := f.consultModeration(ctx, text); v != nil {
			return v
		}
	}

	v := allowedVerdict
	return &v
}

// validate 做非空、长度与注入模式校验。
func (f *contentFilter) validate(text string) *Verdict {
	if strings.TrimSpace(text) == "" {
		return &Verdict{Allowed: false, Reason: "empty_input", Severity: SeverityLow, Source: SourcePattern}
	}
	if utf8.RuneCountInString(text) > f.cfg.MaxInputLength {
		return &Verdict{Allowed: false, Reason: "input_too_long", Severity: SeverityLow, Source: SourcePattern}
	}
	if matchInjection(text) {
		return &Verdict{Allowed: false, Reason: "script_injection", Severity: SeverityHigh, Source: SourcePattern}
	}
	return nil
}

// consultModeration 调用外部审核服务。服务自身出错时按配置的失败模式处理：
// fail-open 沿用前序阶段的通过结果，fail-closed 直接拒绝。
func (f *contentFilter) consultModeration(ctx context.Context, text string) *Verdict {
	result, err := f.moderationClient.Check(ctx, text)
	if err != nil {
		if f.cfg.ModerationFailMode == "closed" {
			log.Errorf("[SafetyFilter] 外部审核调用失败且配置为 fail-closed，拒绝请求: %v", err)
			return &Verdict{
				Allowed:  false,
				Reason:   "moderation_unavailable",
				Severity: SeverityMedium,
				Source:   SourceModeration,
			}
		}
		log.Warnf("[SafetyFilter] 外部审核调用失败，按 fail-open 沿用模式阶段结果: %v", err)
		return nil
	}
	if result.Flagged {
		reason := "external_moderation"
		if len(result.Categories) > 0 {
			reason = reason + ":" + strings.Join(result.Categories, ",")
		}
		log.Warnf("[SafetyFilter] 外部审核拦截输入, categories: %v", result.Categories)
		return &Verdict{
			Allowed:  false,
			Reason:   reason,
			Severity: SeverityHigh,
			Source:   SourceModeration,
		}
	}
	return nil
}
