package rag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIEmbeddingProvider OpenAI向量化服务提供者
type OpenAIEmbeddingProvider struct {
	client     *openai.Client
	model      string // 默认使用 text-embedding-3-small
	maxRetries int
	timeout    time.Duration
}

// NewOpenAIEmbeddingProvider 创建OpenAI向量化提供者
func NewOpenAIEmbeddingProvider(apiKey, baseURL, model string, maxRetries int, timeout time.Duration) *OpenAIEmbeddingProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	if model == "" {
		model = string(openai.SmallEmbedding3) // text-embedding-3-small
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &OpenAIEmbeddingProvider{
		client:     openai.NewClientWithConfig(cfg),
		model:      model,
		maxRetries: maxRetries,
		timeout:    timeout,
	}
}

// Embed 将文本转换为向量
func (p *OpenAIEmbeddingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("文本不能为空")
	}

	embeddings, err := p.embedWithRetry(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch 批量向量化文本
// OpenAI API 限制每次请求最多2048个输入, 超过限制时分批处理
func (p *OpenAIEmbeddingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	const batchSize = 2048
	allEmbeddings := make([][]float32, 0, len(texts))

	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}

		embeddings, err := p.embedWithRetry(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("批量向量化失败(batch %d-%d): %w", i, end, err)
		}
		allEmbeddings = append(allEmbeddings, embeddings...)
	}

	return allEmbeddings, nil
}

// embedWithRetry 调用 Embeddings API, 可重试错误使用有界指数退避
func (p *OpenAIEmbeddingProvider) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		embeddings, err := p.embedOnce(ctx, texts)
		if err == nil {
			return embeddings, nil
		}
		lastErr = err

		if !isRetryableError(err) || ctx.Err() != nil {
			break
		}
		if attempt < p.maxRetries {
			backoff := time.Duration(1<<uint(attempt)) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, fmt.Errorf("调用OpenAI Embeddings API失败: %w", lastErr)
}

// embedOnce 单次 API 调用, 受超时约束
func (p *OpenAIEmbeddingProvider) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("OpenAI API返回向量数量不匹配: 期望%d, 实际%d", len(texts), len(resp.Data))
	}

	embeddings := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		embeddings[i] = data.Embedding
	}
	return embeddings, nil
}

// GetDimension 获取向量维度
func (p *OpenAIEmbeddingProvider) GetDimension() int {
	// text-embedding-3-small: 1536维
	// text-embedding-3-large: 3072维
	// text-embedding-ada-002: 1536维
	switch p.model {
	case string(openai.LargeEmbedding3):
		return 3072
	case string(openai.SmallEmbedding3), string(openai.AdaEmbeddingV2):
		return 1536
	default:
		return 1536 // 默认维度
	}
}

// GetModel 获取当前使用的模型
func (p *OpenAIEmbeddingProvider) GetModel() string {
	return p.model
}

// GetProviderName 获取提供商名称
func (p *OpenAIEmbeddingProvider) GetProviderName() string {
	return "openai"
}

// isRetryableError 判断错误是否可重试 (限流与服务端错误)
func isRetryableError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	// 网络错误与单次调用超时按可重试处理, 调用方取消不重试
	return !errors.Is(err, context.Canceled)
}
