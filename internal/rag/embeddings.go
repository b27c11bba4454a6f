package rag

import "context"

// EmbeddingProvider 抽象不同向量模型/服务的统一接口。
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	GetDimension() int
	GetModel() string
	GetProviderName() string
}

// CompletionProvider 抽象答案生成后端。
// 不假设结构化输出: 引用由已知证据集合推导, 不从生成文本解析。
type CompletionProvider interface {
	Complete(ctx context.Context, prompt string) (string, error)
	GetModel() string
}
