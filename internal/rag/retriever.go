package rag

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"litnav/internal/config"
	"litnav/internal/logger"
	"litnav/internal/metrics"
)

// QueryIntent 查询意图 (由查询文本关键词判定)
type QueryIntent string

const (
	IntentGeneral QueryIntent = "general" // 无明显意图, 默认值
	IntentMethods QueryIntent = "methods" // 关注研究方法
	IntentResults QueryIntent = "results" // 关注实验结果
	IntentFigures QueryIntent = "figures" // 关注图表
	IntentOther   QueryIntent = "other"   // 关注参考文献等
)

// 意图关键词表, 按 methods → results → figures → other 顺序匹配, 先命中先得
var intentKeywords = []struct {
	intent   QueryIntent
	keywords []string
}{
	{IntentMethods, []string{
		"method", "methodology", "approach", "technique", "procedure",
		"algorithm", "implementation", "how was", "how did",
	}},
	{IntentResults, []string{
		"result", "finding", "outcome", "performance", "accuracy",
		"improvement", "evaluation", "score",
	}},
	{IntentFigures, []string{
		"figure", "fig.", "chart", "graph", "plot", "table",
		"diagram", "visualization",
	}},
	{IntentOther, []string{
		"reference", "citation", "cited", "bibliography",
	}},
}

// ClassifyIntent 基于关键词的查询意图分类
// 多类关键词同时出现时取表中靠前的类别, 全部未命中时为 general
func ClassifyIntent(query string) QueryIntent {
	q := strings.ToLower(query)
	for _, entry := range intentKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(q, kw) {
				return entry.intent
			}
		}
	}
	return IntentGeneral
}

// Retriever 章节感知检索器
// 流程: 查询向量化 → 放大候选集检索 → 相似度下限过滤 → 按意图加权 → 重排截断
type Retriever struct {
	store    VectorStore
	provider EmbeddingProvider
	cfg      config.RetrievalConfig
}

// NewRetriever 创建检索器
func NewRetriever(store VectorStore, provider EmbeddingProvider, cfg config.RetrievalConfig) *Retriever {
	if cfg.FanOutFactor <= 0 {
		cfg.FanOutFactor = 3
	}
	return &Retriever{
		store:    store,
		provider: provider,
		cfg:      cfg,
	}
}

// Retrieve 执行一次检索, 返回至多 topK 条加权排序结果
// 空集合或全部低于相似度下限时返回空列表, 不报错
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]*RetrievalResult, error) {
	if topK <= 0 {
		topK = 5
	}
	start := time.Now()
	intent := ClassifyIntent(query)

	queryVector, err := r.provider.Embed(ctx, query)
	if err != nil {
		metrics.RetrievalsTotal.WithLabelValues(string(intent), "error").Inc()
		return nil, &EmbeddingError{ChunkID: "query", Err: err}
	}

	// 放大候选集, 加权重排可能把初始排名靠后的分块提到前面
	hits, err := r.store.Search(ctx, queryVector, topK*r.cfg.FanOutFactor, nil)
	if err != nil {
		metrics.RetrievalsTotal.WithLabelValues(string(intent), "error").Inc()
		return nil, err
	}

	results := make([]*RetrievalResult, 0, len(hits))
	for _, hit := range hits {
		if hit.Similarity < r.cfg.MinSimilarity {
			continue
		}
		results = append(results, &RetrievalResult{
			Record:     hit.Record,
			Similarity: hit.Similarity,
			FinalScore: hit.Similarity * r.boostFor(intent, hit.Record.Section),
		})
	}

	// 最终分数降序, 同分按位置、论文ID、分块ID, 排序完全确定
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].FinalScore != results[j].FinalScore {
			return results[i].FinalScore > results[j].FinalScore
		}
		return lessHit(results[i].Record, results[j].Record)
	})

	if len(results) > topK {
		results = results[:topK]
	}
	for i, res := range results {
		res.Rank = i + 1
	}

	metrics.RetrievalsTotal.WithLabelValues(string(intent), "success").Inc()
	metrics.RetrievalDuration.Observe(time.Since(start).Seconds())
	metrics.RetrievalResults.Observe(float64(len(results)))
	logger.WithContext(ctx).Debug("检索完成",
		zap.String("intent", string(intent)),
		zap.Int("candidates", len(hits)),
		zap.Int("results", len(results)),
	)

	return results, nil
}

// boostFor 查询意图对章节的加权因子, 未命中时为 1 (不加权)
func (r *Retriever) boostFor(intent QueryIntent, section SectionKind) float64 {
	switch intent {
	case IntentMethods:
		switch section {
		case SectionMethods:
			return r.cfg.SectionBoost
		case SectionResults:
			// 方法查询常需要结果章节佐证
			return r.cfg.SecondaryBoost
		}
	case IntentResults:
		switch section {
		case SectionResults:
			return r.cfg.SectionBoost
		case SectionFigures:
			return r.cfg.SecondaryBoost
		}
	case IntentFigures:
		switch section {
		case SectionFigures:
			return r.cfg.SectionBoost
		case SectionResults:
			// 图表内容常被归入结果章节
			return r.cfg.FiguresSpillover
		}
	case IntentOther:
		if section == SectionReferences {
			return r.cfg.SectionBoost
		}
	case IntentGeneral:
		// 通用查询轻度偏向摘要与结论
		if section == SectionAbstract || section == SectionConclusion {
			return r.cfg.GeneralBoost
		}
	}
	return 1
}
