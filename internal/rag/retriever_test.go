package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"litnav/internal/config"
)

// fixedEmbedder 返回预置查询向量的提供者
type fixedEmbedder struct {
	dim    int
	vector []float32
}

func (f *fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vector, nil
}

func (f *fixedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	res := make([][]float32, len(texts))
	for i := range texts {
		res[i] = f.vector
	}
	return res, nil
}

func (f *fixedEmbedder) GetDimension() int       { return f.dim }
func (f *fixedEmbedder) GetModel() string        { return "fixed-model" }
func (f *fixedEmbedder) GetProviderName() string { return "fixed" }

func retrievalTestConfig() config.RetrievalConfig {
	return config.RetrievalConfig{
		FanOutFactor:     3,
		MinSimilarity:    0.2,
		SectionBoost:     1.5,
		GeneralBoost:     1.15,
		SecondaryBoost:   1.1,
		FiguresSpillover: 1.2,
	}
}

func TestClassifyIntent(t *testing.T) {
	cases := []struct {
		query string
		want  QueryIntent
	}{
		{"What methodology did the authors use?", IntentMethods},
		{"How was the model trained?", IntentMethods},
		{"What accuracy did they achieve?", IntentResults},
		{"Summarize the main findings", IntentResults},
		{"What does figure 3 show?", IntentFigures},
		{"Show me the table of benchmarks", IntentFigures},
		{"Which papers are cited most?", IntentOther},
		{"What is this paper about?", IntentGeneral},
		{"", IntentGeneral},
	}

	for _, tc := range cases {
		if got := ClassifyIntent(tc.query); got != tc.want {
			t.Fatalf("查询 %q 意图分类错误: 期望%s, 实际%s", tc.query, tc.want, got)
		}
	}
}

func TestRetriever_SectionBoostReordersTies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore(3)

	// 两个分块与查询相似度完全相同; 无加权时结果块(位置0)排前,
	// 方法意图加权后方法块应排到第一位
	require.NoError(t, store.Upsert(ctx, []*EmbeddingRecord{
		rec("a:0000", "a", SectionResults, 0, []float32{1, 0, 0}),
		rec("a:0005", "a", SectionMethods, 5, []float32{1, 0, 0}),
	}))

	provider := &fixedEmbedder{dim: 3, vector: []float32{1, 0, 0}}
	retriever := NewRetriever(store, provider, retrievalTestConfig())

	results, err := retriever.Retrieve(ctx, "What methodology did the authors use?", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	if results[0].Record.Section != SectionMethods {
		t.Fatalf("方法意图查询应将方法章节排在首位, 实际 %s", results[0].Record.Section)
	}
	if results[0].FinalScore <= results[1].FinalScore {
		t.Fatalf("加权分数应高于未加权分数: %f vs %f", results[0].FinalScore, results[1].FinalScore)
	}
	if results[0].Rank != 1 || results[1].Rank != 2 {
		t.Fatalf("排名应从1开始连续: %d, %d", results[0].Rank, results[1].Rank)
	}
}

func TestRetriever_GeneralIntentFavorsAbstract(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore(3)

	require.NoError(t, store.Upsert(ctx, []*EmbeddingRecord{
		rec("a:0000", "a", SectionDiscussion, 0, []float32{1, 0, 0}),
		rec("a:0003", "a", SectionAbstract, 3, []float32{1, 0, 0}),
	}))

	provider := &fixedEmbedder{dim: 3, vector: []float32{1, 0, 0}}
	retriever := NewRetriever(store, provider, retrievalTestConfig())

	results, err := retriever.Retrieve(ctx, "What is this paper about?", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	if results[0].Record.Section != SectionAbstract {
		t.Fatalf("通用查询应偏向摘要章节, 实际 %s", results[0].Record.Section)
	}
}

func TestRetriever_MinSimilarityFloor(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore(3)

	// 反向向量归一化相似度为0, 低于下限应被过滤
	require.NoError(t, store.Upsert(ctx, []*EmbeddingRecord{
		rec("a:0000", "a", SectionAbstract, 0, []float32{1, 0, 0}),
		rec("a:0001", "a", SectionAbstract, 1, []float32{-1, 0, 0}),
	}))

	provider := &fixedEmbedder{dim: 3, vector: []float32{1, 0, 0}}
	retriever := NewRetriever(store, provider, retrievalTestConfig())

	results, err := retriever.Retrieve(ctx, "anything", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	if results[0].Record.ChunkID != "a:0000" {
		t.Fatalf("低于相似度下限的分块应被过滤")
	}
}

func TestRetriever_EmptyCollection(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore(3)
	provider := &fixedEmbedder{dim: 3, vector: []float32{1, 0, 0}}
	retriever := NewRetriever(store, provider, retrievalTestConfig())

	results, err := retriever.Retrieve(ctx, "empty collection query", 5)
	require.NoError(t, err)
	if len(results) != 0 {
		t.Fatalf("空集合应返回空结果而非错误")
	}
}

func TestRetriever_Deterministic(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore(3)

	require.NoError(t, store.Upsert(ctx, []*EmbeddingRecord{
		rec("a:0000", "a", SectionAbstract, 0, []float32{1, 0, 0}),
		rec("b:0000", "b", SectionMethods, 0, []float32{1, 0, 0}),
		rec("c:0000", "c", SectionResults, 0, []float32{0.5, 0.5, 0}),
	}))

	provider := &fixedEmbedder{dim: 3, vector: []float32{1, 0, 0}}
	retriever := NewRetriever(store, provider, retrievalTestConfig())

	first, err := retriever.Retrieve(ctx, "same query", 3)
	require.NoError(t, err)
	second, err := retriever.Retrieve(ctx, "same query", 3)
	require.NoError(t, err)

	require.Len(t, second, len(first))
	for i := range first {
		if first[i].Record.ChunkID != second[i].Record.ChunkID || first[i].Rank != second[i].Rank {
			t.Fatalf("同一查询两次检索结果应完全一致")
		}
	}
}
