package rag

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"litnav/internal/logger"
	"litnav/internal/metrics"
)

// Pipeline 分块与向量化流水线
// process(论文) → 带向量的有序分块列表
type Pipeline struct {
	chunker   *SectionChunker
	provider  EmbeddingProvider
	batchSize int
}

// NewPipeline 创建流水线
func NewPipeline(chunker *SectionChunker, provider EmbeddingProvider, batchSize int) *Pipeline {
	if batchSize <= 0 {
		batchSize = 64
	}
	return &Pipeline{
		chunker:   chunker,
		provider:  provider,
		batchSize: batchSize,
	}
}

// Process 处理一篇论文: 分块 + 批量向量化
// 单个分块向量化失败重试一次后丢弃并记录日志, 其余分块继续 (容忍部分失败)
// 输出保证: 每个返回的分块都携带集合统一维度的非空向量
func (p *Pipeline) Process(ctx context.Context, paper *Paper) ([]*Chunk, error) {
	chunks, err := p.chunker.ChunkPaper(paper)
	if err != nil {
		return nil, &ExtractionError{PaperID: paper.ID, Err: err}
	}
	if len(chunks) == 0 {
		logger.WithContext(ctx).Warn("论文无有效文本, 跳过向量化", zap.String("paper_id", paper.ID))
		return nil, nil
	}

	dim := p.provider.GetDimension()
	embedded := make([]*Chunk, 0, len(chunks))

	for start := 0; start < len(chunks); start += p.batchSize {
		end := start + p.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, chunk := range batch {
			texts[i] = chunk.Content
		}

		embeddings, err := p.provider.EmbedBatch(ctx, texts)
		if err != nil {
			// 整批失败时降级为逐条向量化, 隔离坏分块
			embedded = append(embedded, p.embedOneByOne(ctx, batch, dim)...)
			continue
		}

		for i, chunk := range batch {
			if len(embeddings[i]) != dim {
				p.dropChunk(ctx, chunk, fmt.Errorf("向量维度不符: 期望%d, 实际%d", dim, len(embeddings[i])))
				continue
			}
			chunk.Embedding = embeddings[i]
			embedded = append(embedded, chunk)
		}
	}

	return embedded, nil
}

// embedOneByOne 逐条向量化, 每条失败重试一次后丢弃
func (p *Pipeline) embedOneByOne(ctx context.Context, batch []*Chunk, dim int) []*Chunk {
	kept := make([]*Chunk, 0, len(batch))

	for _, chunk := range batch {
		vec, err := p.provider.Embed(ctx, chunk.Content)
		if err != nil {
			// 重试一次
			vec, err = p.provider.Embed(ctx, chunk.Content)
		}
		if err != nil {
			p.dropChunk(ctx, chunk, &EmbeddingError{ChunkID: chunk.ID, Err: err})
			continue
		}
		if len(vec) != dim {
			p.dropChunk(ctx, chunk, fmt.Errorf("向量维度不符: 期望%d, 实际%d", dim, len(vec)))
			continue
		}
		chunk.Embedding = vec
		kept = append(kept, chunk)
	}

	return kept
}

// dropChunk 丢弃分块并记录
func (p *Pipeline) dropChunk(ctx context.Context, chunk *Chunk, err error) {
	metrics.IngestChunksDropped.Inc()
	logger.WithContext(ctx).Warn("分块被丢弃",
		zap.String("chunk_id", chunk.ID),
		zap.String("paper_id", chunk.PaperID),
		zap.Error(err),
	)
}
