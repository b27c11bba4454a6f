package rag

import (
	"context"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAICompletionProvider OpenAI答案生成服务提供者
type OpenAICompletionProvider struct {
	client      *openai.Client
	model       string // 默认使用 gpt-4o-mini
	maxTokens   int
	temperature float32
	maxRetries  int
	timeout     time.Duration
}

// NewOpenAICompletionProvider 创建OpenAI答案生成提供者
func NewOpenAICompletionProvider(apiKey, baseURL, model string, maxTokens int, temperature float64, maxRetries int, timeout time.Duration) *OpenAICompletionProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	if model == "" {
		model = openai.GPT4oMini
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &OpenAICompletionProvider{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		maxTokens:   maxTokens,
		temperature: float32(temperature),
		maxRetries:  maxRetries,
		timeout:     timeout,
	}
}

// Complete 生成回答, 可重试错误使用有界指数退避
func (p *OpenAICompletionProvider) Complete(ctx context.Context, prompt string) (string, error) {
	if prompt == "" {
		return "", fmt.Errorf("提示词不能为空")
	}

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		answer, err := p.completeOnce(ctx, prompt)
		if err == nil {
			return answer, nil
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
				return "", ctx.Err()
			}
		}
	}

	return "", fmt.Errorf("调用OpenAI Chat API失败: %w", lastErr)
}

// completeOnce 单次 API 调用, 受超时约束
func (p *OpenAICompletionProvider) completeOnce(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
	})
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("OpenAI API返回空回答")
	}
	return resp.Choices[0].Message.Content, nil
}

// GetModel 获取当前使用的模型
func (p *OpenAICompletionProvider) GetModel() string {
	return p.model
}
