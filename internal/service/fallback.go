// Package service 包含了 AI 子系统的业务逻辑层。
package service

import (
	"time"

	"crm-copilot-go/internal/model"
)

// 降级响应的置信度：内容被拦截或上游失败时给出保守分值。
const fallbackConfidence = 25

// fallbackContent 按功能返回预置的降级文案。
// Feature 是封闭枚举，新增功能时必须在这里补充分支。
func fallbackContent(feature model.Feature) string {
	switch feature {
	case model.FeatureDealCoaching:
		return "I can't generate coaching advice for this deal right now. " +
			"Review the deal stage, recent interactions and open objections, " +
			"and focus your next touchpoint on the customer's stated priorities."
	case model.FeaturePersonaBuilder:
		return "I can't build a persona profile right now. " +
			"Use the contact's industry, role and interaction history to sketch " +
			"their goals, pain points and preferred communication style."
	case model.FeatureObjectionHandling:
		return "I can't suggest a tailored objection response right now. " +
			"Acknowledge the customer's concern, ask a clarifying question, " +
			"and anchor your answer on the value delivered rather than price."
	case model.FeatureWinLossAnalysis:
		return "I can't produce a win/loss explanation right now. " +
			"Compare this deal's duration, objections and engagement level " +
			"against similar closed deals to identify the deciding factors."
	}
	// ParseFeature 保证不会走到这里
	return "The AI assistant is temporarily unavailable. Please try again later."
}

// newFallbackResponse 构造与成功响应 schema 兼容的降级响应。
func newFallbackResponse(feature model.Feature, filtered bool, now time.Time) *model.AIResponse {
	return &model.AIResponse{
		Content:    fallbackContent(feature),
		Model:      "fallback",
		Usage:      model.TokenUsage{},
		Confidence: fallbackConfidence,
		Timestamp:  now,
		Filtered:   filtered,
		Fallback:   true,
	}
}
