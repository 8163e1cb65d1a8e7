// Package cache 提供了 AI 响应的短 TTL 缓存。
// 缓存作为显式抽象注入编排器，生产实现基于 Redis（按键 TTL 淘汰，
// 不存在进程内无界增长的问题）。
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"crm-copilot-go/internal/model"

	"github.com/go-redis/redis/v8"
)

// ResponseCache 定义了响应缓存的操作接口。
type ResponseCache interface {
	Get(ctx context.Context, key string) (*model.AIResponse, bool, error)
	Set(ctx context.Context, key string, resp *model.AIResponse) error
	// Clear 删除某个功能下的全部缓存条目，提示词模板调整后用它主动失效。
	Clear(ctx context.Context, feature model.Feature) error
}

// Key 根据功能、提示词指纹与可选的实体 ID 派生确定性的缓存键。
// 带实体 ID 的键优先按实体划分命名空间：两个不同商机即使提示词相似也不会串台。
func Key(feature model.Feature, systemPrompt, userPrompt, entityID string) string {
	promptHash := hash(systemPrompt + "\x00" + userPrompt)
	if entityID != "" {
		return fmt.Sprintf("ai:resp:%s:entity:%s:%s", feature, entityID, promptHash[:16])
	}
	// 通用回退键：对完整参数集做 base64 截断哈希
	return fmt.Sprintf("ai:resp:%s:%s", feature, promptHash[:24])
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// featurePrefix 是某个功能全部缓存键的公共前缀，实体键与通用键都落在它下面。
func featurePrefix(feature model.Feature) string {
	return fmt.Sprintf("ai:resp:%s:", feature)
}

type redisResponseCache struct {
	redisClient *redis.Client
	ttl         time.Duration
}

// NewRedisResponseCache 创建一个基于 Redis 的 ResponseCache 实例。
func NewRedisResponseCache(redisClient *redis.Client, ttl time.Duration) ResponseCache {
	return &redisResponseCache{redisClient: redisClient, ttl: ttl}
}

// Get 查找缓存条目，过期或不存在时返回未命中。
func (c *redisResponseCache) Get(ctx context.Context, key string) (*model.AIResponse, bool, error) {
	jsonData, err := c.redisClient.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cached response: %w", err)
	}
	var resp model.AIResponse
	if err := json.Unmarshal([]byte(jsonData), &resp); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached response: %w", err)
	}
	return &resp, true, nil
}

// Set 写入缓存条目并附带 TTL。
func (c *redisResponseCache) Set(ctx context.Context, key string, resp *model.AIResponse) error {
	jsonData, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal response for cache: %w", err)
	}
	if err := c.redisClient.Set(ctx, key, jsonData, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cached response: %w", err)
	}
	return nil
}

// Clear 按前缀扫描并删除该功能下的全部缓存键。
func (c *redisResponseCache) Clear(ctx context.Context, feature model.Feature) error {
	pattern := featurePrefix(feature) + "*"
	iter := c.redisClient.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := c.redisClient.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete cached response %s: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys for %s: %w", feature, err)
	}
	return nil
}
