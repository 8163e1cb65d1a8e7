// Package model 定义了与数据库表对应的 Go 结构体以及 AI 子系统的领域类型。
package model

import (
	"fmt"
	"time"
)

// Feature 表示一个面向用户的 AI 功能。
// 使用封闭枚举而不是裸字符串，新增功能时编译器会在 switch 分发处强制穷举。
type Feature string

const (
	FeatureDealCoaching      Feature = "deal_coaching"
	FeaturePersonaBuilder    Feature = "persona_builder"
	FeatureObjectionHandling Feature = "objection_handling"
	FeatureWinLossAnalysis   Feature = "win_loss_analysis"
)

// AllFeatures 列出全部已注册的功能。
var AllFeatures = []Feature{
	FeatureDealCoaching,
	FeaturePersonaBuilder,
	FeatureObjectionHandling,
	FeatureWinLossAnalysis,
}

// ParseFeature 将外部传入的字符串解析为 Feature 枚举。
func ParseFeature(s string) (Feature, error) {
	switch Feature(s) {
	case FeatureDealCoaching, FeaturePersonaBuilder, FeatureObjectionHandling, FeatureWinLossAnalysis:
		return Feature(s), nil
	}
	return "", fmt.Errorf("未知的 AI 功能: %q", s)
}

// String 返回功能的字符串标识。
func (f Feature) String() string {
	return string(f)
}

// TokenUsage 记录一次 LLM 调用的 token 用量。
type TokenUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
}

// AIResponse 是 GenerateResponse 返回给调用方的统一响应结构。
// 无论成功、缓存命中还是降级，调用方拿到的永远是这个结构。
type AIResponse struct {
	Content    string     `json:"content"`
	Model      string     `json:"model"`
	Usage      TokenUsage `json:"usage"`
	Confidence int        `json:"confidence"` // 0~100
	Timestamp  time.Time  `json:"timestamp"`
	Filtered   bool       `json:"filtered"` // 生成内容被响应侧过滤替换
	Fallback   bool       `json:"fallback"` // 走了降级路径
}
