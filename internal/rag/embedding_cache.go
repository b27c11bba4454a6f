package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// EmbeddingCache 向量缓存服务 (本地 L1 + Redis L2)
// redis 客户端为 nil 时退化为纯本地缓存
type EmbeddingCache struct {
	redis        *redis.Client
	localCache   sync.Map
	prefix       string
	ttl          time.Duration
	maxLocalSize int
	localCount   int64
	mu           sync.Mutex
}

// cachedEmbedding 缓存的向量
type cachedEmbedding struct {
	Vector    []float32 `json:"vector"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewEmbeddingCache 创建向量缓存
func NewEmbeddingCache(redisClient *redis.Client, prefix string, ttl time.Duration) *EmbeddingCache {
	if prefix == "" {
		prefix = "litnav:emb:"
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour // 默认 7 天
	}
	return &EmbeddingCache{
		redis:        redisClient,
		prefix:       prefix,
		ttl:          ttl,
		maxLocalSize: 10000, // 本地最多缓存 1 万条
	}
}

// Get 获取缓存的向量
func (c *EmbeddingCache) Get(ctx context.Context, text, model string) ([]float32, bool) {
	key := c.makeKey(text, model)

	// 先查本地缓存
	if val, ok := c.localCache.Load(key); ok {
		return val.(*cachedEmbedding).Vector, true
	}

	// 再查 Redis
	if c.redis != nil {
		data, err := c.redis.Get(ctx, key).Bytes()
		if err == nil {
			var cached cachedEmbedding
			if json.Unmarshal(data, &cached) == nil {
				c.setLocal(key, &cached)
				return cached.Vector, true
			}
		}
	}

	return nil, false
}

// Set 设置缓存
func (c *EmbeddingCache) Set(ctx context.Context, text, model string, vector []float32) error {
	key := c.makeKey(text, model)
	cached := &cachedEmbedding{
		Vector:    vector,
		Model:     model,
		CreatedAt: time.Now(),
	}

	c.setLocal(key, cached)

	if c.redis != nil {
		data, err := json.Marshal(cached)
		if err != nil {
			return err
		}
		return c.redis.Set(ctx, key, data, c.ttl).Err()
	}

	return nil
}

// GetBatch 批量获取缓存, 返回命中映射与未命中文本列表
func (c *EmbeddingCache) GetBatch(ctx context.Context, texts []string, model string) (map[string][]float32, []string) {
	results := make(map[string][]float32)
	var missing []string

	for _, text := range texts {
		if vec, ok := c.Get(ctx, text, model); ok {
			results[text] = vec
		} else {
			missing = append(missing, text)
		}
	}

	return results, missing
}

// makeKey 生成缓存键 (文本内容 SHA256 哈希)
func (c *EmbeddingCache) makeKey(text, model string) string {
	hash := sha256.Sum256([]byte(text))
	return c.prefix + model + ":" + hex.EncodeToString(hash[:16])
}

// setLocal 设置本地缓存; 覆盖已有键不计入容量
func (c *EmbeddingCache) setLocal(key string, cached *cachedEmbedding) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.localCache.Load(key); exists {
		c.localCache.Store(key, cached)
		return
	}

	if c.localCount >= int64(c.maxLocalSize) {
		c.evictLocal()
	}

	c.localCache.Store(key, cached)
	c.localCount++
}

// evictLocal 清理一半本地缓存
func (c *EmbeddingCache) evictLocal() {
	count := 0
	c.localCache.Range(func(key, value interface{}) bool {
		if count < c.maxLocalSize/2 {
			c.localCache.Delete(key)
			count++
			return true
		}
		return false
	})
	c.localCount -= int64(count)
}

// CachedEmbeddingProvider 带缓存的 Embedding 提供者包装器
type CachedEmbeddingProvider struct {
	provider EmbeddingProvider
	cache    *EmbeddingCache
}

// NewCachedEmbeddingProvider 创建带缓存的 Embedding 提供者
func NewCachedEmbeddingProvider(provider EmbeddingProvider, cache *EmbeddingCache) *CachedEmbeddingProvider {
	return &CachedEmbeddingProvider{
		provider: provider,
		cache:    cache,
	}
}

// Embed 单条向量化 (带缓存)
func (p *CachedEmbeddingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	model := p.provider.GetModel()

	if vec, ok := p.cache.Get(ctx, text, model); ok {
		return vec, nil
	}

	vec, err := p.provider.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	_ = p.cache.Set(ctx, text, model, vec)
	return vec, nil
}

// EmbedBatch 批量向量化 (带缓存)
func (p *CachedEmbeddingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	model := p.provider.GetModel()

	cached, missing := p.cache.GetBatch(ctx, texts, model)

	// 全部命中时直接返回
	if len(missing) == 0 {
		result := make([][]float32, len(texts))
		for i, text := range texts {
			result[i] = cached[text]
		}
		return result, nil
	}

	missingVectors, err := p.provider.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}

	missingMap := make(map[string][]float32, len(missing))
	for i, text := range missing {
		missingMap[text] = missingVectors[i]
		_ = p.cache.Set(ctx, text, model, missingVectors[i])
	}

	result := make([][]float32, len(texts))
	for i, text := range texts {
		if vec, ok := cached[text]; ok {
			result[i] = vec
		} else {
			result[i] = missingMap[text]
		}
	}

	return result, nil
}

// GetDimension 获取向量维度
func (p *CachedEmbeddingProvider) GetDimension() int {
	return p.provider.GetDimension()
}

// GetModel 获取模型名称
func (p *CachedEmbeddingProvider) GetModel() string {
	return p.provider.GetModel()
}

// GetProviderName 获取提供者名称
func (p *CachedEmbeddingProvider) GetProviderName() string {
	return p.provider.GetProviderName()
}
