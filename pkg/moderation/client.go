// Package moderation provides a client for an external content moderation service.
package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"crm-copilot-go/internal/config"
	"crm-copilot-go/pkg/log"
)

// Result 是外部审核服务对一段文本的判定结果。
type Result struct {
	Flagged    bool
	Categories []string
}

// Client defines the interface for a moderation client.
type Client interface {
	Check(ctx context.Context, text string) (*Result, error)
}

type openAICompatibleClient struct {
	cfg    config.ModerationConfig
	client *http.Client
}

// NewClient creates a new moderation client based on the provider in the config.
func NewClient(cfg config.ModerationConfig) Client {
	return &openAICompatibleClient{
		cfg:    cfg,
		client: &http.Client{},
	}
}

type moderationRequest struct {
	Model string `json:"model,omitempty"`
	Input string `json:"input"`
}

type moderationResponse struct {
	Results []struct {
		Flagged    bool            `json:"flagged"`
		Categories map[string]bool `json:"categories"`
	} `json:"results"`
}

// Check calls the OpenAI-compatible moderation API for the given text.
func (c *openAICompatibleClient) Check(ctx context.Context, text string) (*Result, error) {
	reqBody := moderationRequest{
		Model: c.cfg.Model,
		Input: text,
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal moderation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/moderations", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create moderation request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		log.Errorf("[ModerationClient] 调用 Moderation API 失败, error: %v", err)
		return nil, fmt.Errorf("failed to call moderation api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Errorf("[ModerationClient] Moderation API 返回非 200 状态码: %s", resp.Status)
		return nil, fmt.Errorf("moderation api returned non-200 status: %s", resp.Status)
	}

	var modResp moderationResponse
	if err := json.NewDecoder(resp.Body).Decode(&modResp); err != nil {
		return nil, fmt.Errorf("failed to decode moderation response: %w", err)
	}

	if len(modResp.Results) == 0 {
		return nil, fmt.Errorf("moderation api returned no results")
	}

	result := &Result{Flagged: modResp.Results[0].Flagged}
	for category, hit := range modResp.Results[0].Categories {
		if hit {
			result.Categories = append(result.Categories, category)
		}
	}
	return result, nil
}
