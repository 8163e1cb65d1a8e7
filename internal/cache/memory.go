package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"crm-copilot-go/internal/model"
)

type memoryEntry struct {
	resp      model.AIResponse
	createdAt time.Time
}

// MemoryResponseCache 是 ResponseCache 的进程内实现，主要用于测试与本地开发。
// 过期条目在下一次查找时惰性清除。
type MemoryResponseCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryResponseCache 创建一个进程内 ResponseCache 实例。
func NewMemoryResponseCache(ttl time.Duration) *MemoryResponseCache {
	return &MemoryResponseCache{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get 查找缓存条目，超过 TTL 的条目视为不存在并被清除。
func (c *MemoryResponseCache) Get(ctx context.Context, key string) (*model.AIResponse, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if c.now().Sub(entry.createdAt) > c.ttl {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false, nil
	}
	resp := entry.resp
	return &resp, true, nil
}

// Set 写入缓存条目。
func (c *MemoryResponseCache) Set(ctx context.Context, key string, resp *model.AIResponse) error {
	c.mu.Lock()
	c.entries[key] = memoryEntry{resp: *resp, createdAt: c.now()}
	c.mu.Unlock()
	return nil
}

// Clear 删除该功能前缀下的全部条目。
func (c *MemoryResponseCache) Clear(ctx context.Context, feature model.Feature) error {
	prefix := featurePrefix(feature)
	c.mu.Lock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
	return nil
}

// SetClock 注入时钟，便于测试 TTL 行为。
func (c *MemoryResponseCache) SetClock(now func() time.Time) {
	c.now = now
}

// Len 返回当前缓存条目数。
func (c *MemoryResponseCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
