package rag

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"litnav/internal/config"
	"litnav/internal/logger"
	"litnav/internal/metrics"
)

// Navigator 文献导航服务门面
// 组合入库流水线、向量存储、检索器、答案生成器与去重检测器
type Navigator struct {
	store     VectorStore
	pipeline  *Pipeline
	retriever *Retriever
	generator *AnswerGenerator
	detector  *DuplicateDetector
	workers   int
}

// NewNavigator 创建导航服务
func NewNavigator(store VectorStore, embedding EmbeddingProvider, completion CompletionProvider, cfg *config.Config) *Navigator {
	chunker := NewSectionChunker(cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap)
	retriever := NewRetriever(store, embedding, cfg.Retrieval)
	workers := cfg.Ingest.Workers
	if workers <= 0 {
		workers = 4
	}

	return &Navigator{
		store:     store,
		pipeline:  NewPipeline(chunker, embedding, cfg.Chunking.EmbedBatch),
		retriever: retriever,
		generator: NewAnswerGenerator(retriever, completion, cfg.Answer.ConfidenceScale),
		detector:  NewDuplicateDetector(store, cfg.Dedup),
		workers:   workers,
	}
}

// IngestReport 单篇论文入库结果
type IngestReport struct {
	PaperID      string `json:"paper_id"`
	ChunksStored int    `json:"chunks_stored"`
	Err          error  `json:"-"`
}

// Ingest 入库一篇论文: 分块 → 向量化 → 覆盖写入
// 同一论文重新入库时先删除旧记录再整体替换, 多次入库等价于一次
// 维度不符的记录拒绝写入但不中断入库 (记录警告日志)
func (n *Navigator) Ingest(ctx context.Context, paper *Paper) (*IngestReport, error) {
	start := time.Now()

	if paper.ID == "" {
		paper.ID = uuid.New().String()
	}

	chunks, err := n.pipeline.Process(ctx, paper)
	if err != nil {
		metrics.IngestTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	records := make([]*EmbeddingRecord, 0, len(chunks))
	for _, chunk := range chunks {
		records = append(records, &EmbeddingRecord{
			ChunkID:    chunk.ID,
			PaperID:    chunk.PaperID,
			Title:      paper.Metadata.Title,
			Section:    chunk.Section,
			Position:   chunk.Position,
			Content:    chunk.Content,
			TokenCount: chunk.TokenCount,
			Embedding:  chunk.Embedding,
		})
	}

	// 先删后写, 保证分块边界变化后不残留旧记录
	if err := n.store.DeleteByDocument(ctx, paper.ID); err != nil {
		metrics.IngestTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	stored := len(records)
	if err := n.store.Upsert(ctx, records); err != nil {
		var mismatch *SchemaMismatchError
		if errors.As(err, &mismatch) {
			stored -= len(mismatch.RejectedIDs)
			logger.WithContext(ctx).Warn("部分分块因维度不符被拒绝",
				zap.String("paper_id", paper.ID),
				zap.Int("rejected", len(mismatch.RejectedIDs)),
			)
		} else {
			metrics.IngestTotal.WithLabelValues("error").Inc()
			return nil, err
		}
	}

	metrics.IngestTotal.WithLabelValues("success").Inc()
	metrics.IngestDuration.Observe(time.Since(start).Seconds())
	logger.WithContext(ctx).Info("论文入库完成",
		zap.String("paper_id", paper.ID),
		zap.String("title", paper.Metadata.Title),
		zap.Int("chunks", stored),
		zap.Duration("elapsed", time.Since(start)),
	)

	return &IngestReport{PaperID: paper.ID, ChunksStored: stored}, nil
}

// IngestAll 并行入库多篇论文, 并行度受 workers 限制
// 单篇失败不影响其他论文, 失败记录在返回报告的 Err 字段中
// 报告顺序与输入顺序一致
func (n *Navigator) IngestAll(ctx context.Context, papers []*Paper) []*IngestReport {
	reports := make([]*IngestReport, len(papers))

	var wg sync.WaitGroup
	sem := make(chan struct{}, n.workers)

	for i, paper := range papers {
		// 先占坑再起协程, 在途协程数不超过 workers
		sem <- struct{}{}
		wg.Add(1)
		go func(i int, paper *Paper) {
			defer wg.Done()
			defer func() { <-sem }()

			report, err := n.Ingest(ctx, paper)
			if err != nil {
				logger.WithContext(ctx).Error("论文入库失败",
					zap.String("paper_id", paper.ID),
					zap.Error(err),
				)
				report = &IngestReport{PaperID: paper.ID, Err: err}
			}
			reports[i] = report
		}(i, paper)
	}

	wg.Wait()
	return reports
}

// Retrieve 章节感知检索
func (n *Navigator) Retrieve(ctx context.Context, query string, topK int) ([]*RetrievalResult, error) {
	return n.retriever.Retrieve(ctx, query, topK)
}

// Ask 检索并生成带引用的答案
func (n *Navigator) Ask(ctx context.Context, query string, topK int, evidenceGrounding bool) (*AnswerResult, error) {
	return n.generator.Generate(ctx, query, topK, evidenceGrounding)
}

// CollectionStats 集合统计
func (n *Navigator) CollectionStats(ctx context.Context) (*StoreStats, error) {
	return n.store.Stats(ctx)
}

// DuplicateClusters 全量扫描近重复分块簇
func (n *Navigator) DuplicateClusters(ctx context.Context) ([]*DuplicateCluster, error) {
	return n.detector.FindClusters(ctx)
}

// DuplicateStats 去重检测统计
func (n *Navigator) DuplicateStats(ctx context.Context) (*DuplicateStats, error) {
	return n.detector.Statistics(ctx)
}
