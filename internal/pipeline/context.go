// Package pipeline 实现了 RAG 索引管道：把符合条件的 CRM 记录
// 展平为可嵌入的文本上下文，并保持向量库与 CRM 状态同步。
package pipeline

import (
	"fmt"
	"strings"

	"crm-copilot-go/internal/model"
)

// BuildDealContext 将商机展平为固定字段的文本模板，并返回用于检索后过滤的元数据。
func BuildDealContext(deal *model.Deal) (string, map[string]interface{}) {
	var b strings.Builder
	fmt.Fprintf(&b, "Company: %s\n", deal.CompanyName)
	fmt.Fprintf(&b, "Industry: %s\n", deal.Industry)
	fmt.Fprintf(&b, "Deal value: %.0f\n", deal.Value)
	fmt.Fprintf(&b, "Stage: %s\n", deal.Stage)
	fmt.Fprintf(&b, "Outcome: %s\n", deal.Outcome())
	fmt.Fprintf(&b, "Duration: %d days\n", deal.DurationDays())
	if deal.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", deal.Notes)
	}
	if len(deal.Objections) > 0 {
		b.WriteString("Objections raised:\n")
		for _, o := range deal.Objections {
			fmt.Fprintf(&b, "- [%s] %s", o.Category, o.Text)
			if o.Response != "" {
				fmt.Fprintf(&b, " (handled: %s)", o.Response)
			}
			b.WriteString("\n")
		}
	}
	if len(deal.Interactions) > 0 {
		b.WriteString("Interactions:\n")
		for _, it := range deal.Interactions {
			if it.Notes == "" {
				continue
			}
			fmt.Fprintf(&b, "- %s: %s\n", it.Type, it.Notes)
		}
	}

	metadata := map[string]interface{}{
		"company":    deal.CompanyName,
		"industry":   deal.Industry,
		"stage":      deal.Stage,
		"outcome":    deal.Outcome(),
		"value_band": valueBand(deal.Value),
	}
	return b.String(), metadata
}

// BuildObjectionContext 将已解决的异议展平为文本模板。
func BuildObjectionContext(objection *model.Objection) (string, map[string]interface{}) {
	var b strings.Builder
	fmt.Fprintf(&b, "Objection category: %s\n", objection.Category)
	fmt.Fprintf(&b, "Customer said: %s\n", objection.Text)
	if objection.Response != "" {
		fmt.Fprintf(&b, "Successful response: %s\n", objection.Response)
	}

	metadata := map[string]interface{}{
		"category": objection.Category,
		"deal_id":  fmt.Sprintf("%d", objection.DealID),
	}
	return b.String(), metadata
}

// BuildInteractionContext 将带纪要的沟通记录展平为文本模板。
func BuildInteractionContext(interaction *model.Interaction) (string, map[string]interface{}) {
	var b strings.Builder
	fmt.Fprintf(&b, "Interaction type: %s\n", interaction.Type)
	fmt.Fprintf(&b, "Date: %s\n", interaction.OccurredAt.Format("2006-01-02"))
	fmt.Fprintf(&b, "Notes: %s\n", interaction.Notes)

	metadata := map[string]interface{}{
		"type":    interaction.Type,
		"deal_id": fmt.Sprintf("%d", interaction.DealID),
	}
	return b.String(), metadata
}

// BuildPersonaContext 将买家画像展平为文本模板。
func BuildPersonaContext(persona *model.Persona) (string, map[string]interface{}) {
	var b strings.Builder
	fmt.Fprintf(&b, "Persona: %s\n", persona.Title)
	fmt.Fprintf(&b, "Industry: %s\n", persona.Industry)
	fmt.Fprintf(&b, "Summary: %s\n", persona.Summary)

	metadata := map[string]interface{}{
		"industry":   persona.Industry,
		"contact_id": fmt.Sprintf("%d", persona.ContactID),
	}
	return b.String(), metadata
}

// valueBand 把商机金额离散成档位，便于检索后按量级过滤。
func valueBand(value float64) string {
	switch {
	case value < 10000:
		return "small"
	case value < 100000:
		return "medium"
	default:
		return "large"
	}
}
