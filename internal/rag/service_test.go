package rag

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"litnav/internal/config"
)

// topicEmbedder 按主题词出现次数构造向量, 同主题文本彼此相似
type topicEmbedder struct{}

func (topicEmbedder) vectorFor(text string) []float32 {
	lower := strings.ToLower(text)
	return []float32{
		1,
		float32(strings.Count(lower, "attention")),
		float32(strings.Count(lower, "dataset")),
	}
}

func (e topicEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.vectorFor(text), nil
}

func (e topicEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	res := make([][]float32, len(texts))
	for i, text := range texts {
		res[i] = e.vectorFor(text)
	}
	return res, nil
}

func (topicEmbedder) GetDimension() int       { return 3 }
func (topicEmbedder) GetModel() string        { return "topic-model" }
func (topicEmbedder) GetProviderName() string { return "topic" }

func navigatorTestConfig() *config.Config {
	return &config.Config{
		Chunking:  config.ChunkingConfig{ChunkSize: 200, ChunkOverlap: 20, EmbedBatch: 8},
		Ingest:    config.IngestConfig{Workers: 2},
		Retrieval: retrievalTestConfig(),
		Answer:    config.AnswerConfig{ConfidenceScale: 1.2},
		Dedup:     dedupTestConfig(),
	}
}

func attentionPaper(id string) *Paper {
	return &Paper{
		ID:       id,
		Metadata: PaperMetadata{Title: "Attention Is All You Need", Authors: []string{"Vaswani"}},
		Blocks: []SectionBlock{
			{Kind: SectionAbstract, Text: "We propose a new attention mechanism. The attention model outperforms recurrent baselines."},
			{Kind: SectionMethods, Text: "The attention weights are computed with scaled dot products. Training runs on a large dataset."},
		},
	}
}

func TestNavigator_IngestAskRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore(3)
	completion := &fakeCompletion{reply: "The paper introduces an attention mechanism [1]."}
	nav := NewNavigator(store, topicEmbedder{}, completion, navigatorTestConfig())

	report, err := nav.Ingest(ctx, attentionPaper("paper-attn"))
	require.NoError(t, err)
	if report.ChunksStored == 0 {
		t.Fatalf("入库应产生分块")
	}

	stats, err := nav.CollectionStats(ctx)
	require.NoError(t, err)
	if stats.TotalChunks != int64(report.ChunksStored) || stats.UniqueDocuments != 1 {
		t.Fatalf("统计应反映入库结果: %+v", stats)
	}

	result, err := nav.Ask(ctx, "How does the attention mechanism work?", 3, true)
	require.NoError(t, err)
	if result.Answer != completion.reply {
		t.Fatalf("应返回后端生成的答案")
	}
	if result.Confidence <= 0 {
		t.Fatalf("有证据时置信度应大于0: %f", result.Confidence)
	}
	if len(result.Citations) == 0 {
		t.Fatalf("答案应携带引用")
	}
	if !strings.Contains(completion.lastPrompt, "Attention Is All You Need") {
		t.Fatalf("提示词应包含证据标题")
	}
}

func TestNavigator_ReingestIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore(3)
	nav := NewNavigator(store, topicEmbedder{}, &fakeCompletion{reply: "ok"}, navigatorTestConfig())

	first, err := nav.Ingest(ctx, attentionPaper("paper-re"))
	require.NoError(t, err)
	second, err := nav.Ingest(ctx, attentionPaper("paper-re"))
	require.NoError(t, err)

	if first.ChunksStored != second.ChunksStored {
		t.Fatalf("重复入库分块数应一致: %d vs %d", first.ChunksStored, second.ChunksStored)
	}

	stats, err := nav.CollectionStats(ctx)
	require.NoError(t, err)
	if stats.TotalChunks != int64(first.ChunksStored) || stats.UniqueDocuments != 1 {
		t.Fatalf("重复入库不应产生重复记录: %+v", stats)
	}
}

func TestNavigator_ReingestSupersedes(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore(3)
	nav := NewNavigator(store, topicEmbedder{}, &fakeCompletion{reply: "ok"}, navigatorTestConfig())

	_, err := nav.Ingest(ctx, attentionPaper("paper-sup"))
	require.NoError(t, err)

	// 再次入库时只剩一个块, 旧记录应整体被替换
	shorter := &Paper{
		ID:       "paper-sup",
		Metadata: PaperMetadata{Title: "Attention Is All You Need"},
		Blocks: []SectionBlock{
			{Kind: SectionAbstract, Text: "A revised shorter abstract about attention."},
		},
	}
	report, err := nav.Ingest(ctx, shorter)
	require.NoError(t, err)

	stats, err := nav.CollectionStats(ctx)
	require.NoError(t, err)
	if stats.TotalChunks != int64(report.ChunksStored) {
		t.Fatalf("重新入库后不应残留旧记录: 期望%d, 实际%d", report.ChunksStored, stats.TotalChunks)
	}
}

func TestNavigator_AssignsIDWhenMissing(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore(3)
	nav := NewNavigator(store, topicEmbedder{}, &fakeCompletion{reply: "ok"}, navigatorTestConfig())

	paper := attentionPaper("")
	report, err := nav.Ingest(ctx, paper)
	require.NoError(t, err)
	if report.PaperID == "" || paper.ID == "" {
		t.Fatalf("缺失论文ID时应自动生成")
	}
}

// flakyDeleteStore 指定论文删除失败, 用于验证批量入库的失败隔离
type flakyDeleteStore struct {
	*MemoryVectorStore
	failPaperID string
}

func (s *flakyDeleteStore) DeleteByDocument(ctx context.Context, paperID string) error {
	if paperID == s.failPaperID {
		return fmt.Errorf("%w: 模拟存储故障", ErrStorageUnavailable)
	}
	return s.MemoryVectorStore.DeleteByDocument(ctx, paperID)
}

func TestNavigator_IngestAllIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	store := &flakyDeleteStore{
		MemoryVectorStore: NewMemoryVectorStore(3),
		failPaperID:       "paper-bad",
	}
	nav := NewNavigator(store, topicEmbedder{}, &fakeCompletion{reply: "ok"}, navigatorTestConfig())

	papers := []*Paper{
		attentionPaper("paper-1"),
		attentionPaper("paper-bad"),
		attentionPaper("paper-2"),
	}
	reports := nav.IngestAll(ctx, papers)
	require.Len(t, reports, 3)

	// 报告顺序与输入一致
	for i, paper := range papers {
		if reports[i].PaperID != paper.ID {
			t.Fatalf("第%d份报告论文ID不符: %s", i, reports[i].PaperID)
		}
	}
	if reports[1].Err == nil {
		t.Fatalf("故障论文应记录错误")
	}
	if reports[0].Err != nil || reports[2].Err != nil {
		t.Fatalf("单篇失败不应影响其他论文")
	}

	stats, err := nav.CollectionStats(ctx)
	require.NoError(t, err)
	if stats.UniqueDocuments != 2 {
		t.Fatalf("成功的论文应正常入库: %d", stats.UniqueDocuments)
	}
}

// gaugedEmbedder 统计向量化的最大并发度
type gaugedEmbedder struct {
	topicEmbedder
	mu      sync.Mutex
	current int
	peak    int
}

func (g *gaugedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	g.mu.Lock()
	g.current++
	if g.current > g.peak {
		g.peak = g.current
	}
	g.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	g.mu.Lock()
	g.current--
	g.mu.Unlock()

	return g.topicEmbedder.EmbedBatch(ctx, texts)
}

func TestNavigator_IngestAllBoundedConcurrency(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore(3)
	embedder := &gaugedEmbedder{}
	nav := NewNavigator(store, embedder, &fakeCompletion{reply: "ok"}, navigatorTestConfig())

	papers := make([]*Paper, 6)
	for i := range papers {
		papers[i] = attentionPaper(fmt.Sprintf("paper-conc-%d", i))
	}

	reports := nav.IngestAll(ctx, papers)
	require.Len(t, reports, 6)
	for _, report := range reports {
		require.NoError(t, report.Err)
	}

	if embedder.peak > 2 {
		t.Fatalf("并发入库数不应超过配置的 workers=2, 实际峰值%d", embedder.peak)
	}
}

func TestNavigator_DuplicateScanAcrossPapers(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore(3)
	nav := NewNavigator(store, topicEmbedder{}, &fakeCompletion{reply: "ok"}, navigatorTestConfig())

	// 同一文本入库为两篇不同论文, 向量相同应被检出
	paperA := attentionPaper("paper-dupA")
	paperB := attentionPaper("paper-dupB")
	_, err := nav.Ingest(ctx, paperA)
	require.NoError(t, err)
	_, err = nav.Ingest(ctx, paperB)
	require.NoError(t, err)

	clusters, err := nav.DuplicateClusters(ctx)
	require.NoError(t, err)
	if len(clusters) == 0 {
		t.Fatalf("相同内容的两篇论文应产生重复簇")
	}
	for _, cluster := range clusters {
		if cluster.Size() < 2 {
			t.Fatalf("簇大小应不小于2")
		}
	}

	dupStats, err := nav.DuplicateStats(ctx)
	require.NoError(t, err)
	if dupStats.AffectedDocuments != 2 {
		t.Fatalf("两篇论文都应受影响: %d", dupStats.AffectedDocuments)
	}
}
