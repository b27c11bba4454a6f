package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func rec(chunkID, paperID string, section SectionKind, position int, embedding []float32) *EmbeddingRecord {
	return &EmbeddingRecord{
		ChunkID:   chunkID,
		PaperID:   paperID,
		Title:     "title-" + paperID,
		Section:   section,
		Position:  position,
		Content:   "content " + chunkID,
		Embedding: embedding,
	}
}

func TestMemoryStore_UpsertIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore(2)

	records := []*EmbeddingRecord{
		rec("a:0000", "a", SectionAbstract, 0, []float32{1, 0}),
		rec("a:0001", "a", SectionMethods, 1, []float32{0, 1}),
	}
	require.NoError(t, store.Upsert(ctx, records))
	require.NoError(t, store.Upsert(ctx, records))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	if stats.TotalChunks != 2 {
		t.Fatalf("重复写入应幂等, 期望2条记录, 实际%d", stats.TotalChunks)
	}
	if stats.UniqueDocuments != 1 {
		t.Fatalf("期望1篇论文, 实际%d", stats.UniqueDocuments)
	}
}

func TestMemoryStore_SchemaMismatchRejectsOnlyOffending(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore(2)

	err := store.Upsert(ctx, []*EmbeddingRecord{
		rec("a:0000", "a", SectionAbstract, 0, []float32{1, 0}),
		rec("a:0001", "a", SectionAbstract, 1, []float32{1, 0, 0}), // 维度不符
		rec("a:0002", "a", SectionAbstract, 2, []float32{0, 1}),
	})

	var mismatch *SchemaMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("期望 SchemaMismatchError, 实际 %v", err)
	}
	require.Equal(t, []string{"a:0001"}, mismatch.RejectedIDs)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	if stats.TotalChunks != 2 {
		t.Fatalf("合格记录应正常写入, 期望2条, 实际%d", stats.TotalChunks)
	}
}

func TestMemoryStore_SearchOrderingAndTieBreak(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore(2)

	// 三条记录与查询向量相似度相同, 应按 (位置, 论文ID) 排序
	require.NoError(t, store.Upsert(ctx, []*EmbeddingRecord{
		rec("b:0002", "b", SectionMethods, 2, []float32{1, 0}),
		rec("a:0002", "a", SectionMethods, 2, []float32{1, 0}),
		rec("a:0000", "a", SectionAbstract, 0, []float32{1, 0}),
		rec("a:0001", "a", SectionResults, 1, []float32{-1, 0}), // 相似度最低
	}))

	hits, err := store.Search(ctx, []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 4)

	wantOrder := []string{"a:0000", "a:0002", "b:0002", "a:0001"}
	for i, want := range wantOrder {
		if hits[i].Record.ChunkID != want {
			t.Fatalf("第%d位期望%s, 实际%s", i, want, hits[i].Record.ChunkID)
		}
	}

	// 归一化相似度: 同向=1, 反向=0
	require.InDelta(t, 1.0, hits[0].Similarity, 1e-9)
	require.InDelta(t, 0.0, hits[3].Similarity, 1e-9)
}

func TestMemoryStore_SearchFilter(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore(2)

	require.NoError(t, store.Upsert(ctx, []*EmbeddingRecord{
		rec("a:0000", "a", SectionMethods, 0, []float32{1, 0}),
		rec("a:0001", "a", SectionResults, 1, []float32{1, 0}),
		rec("b:0000", "b", SectionMethods, 0, []float32{1, 0}),
	}))

	hits, err := store.Search(ctx, []float32{1, 0}, 10, &SearchFilter{
		Section:        SectionMethods,
		ExcludeChunkID: "a:0000",
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	if hits[0].Record.ChunkID != "b:0000" {
		t.Fatalf("过滤结果不符: %s", hits[0].Record.ChunkID)
	}
}

func TestMemoryStore_QueryDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore(2)

	_, err := store.Search(ctx, []float32{1, 0, 0}, 5, nil)
	var mismatch *SchemaMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("查询向量维度不符应返回 SchemaMismatchError, 实际 %v", err)
	}
}

func TestMemoryStore_DeleteByDocument(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore(2)

	require.NoError(t, store.Upsert(ctx, []*EmbeddingRecord{
		rec("a:0000", "a", SectionAbstract, 0, []float32{1, 0}),
		rec("a:0001", "a", SectionMethods, 1, []float32{0, 1}),
		rec("b:0000", "b", SectionAbstract, 0, []float32{1, 0}),
	}))

	require.NoError(t, store.DeleteByDocument(ctx, "a"))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	if stats.TotalChunks != 1 || stats.UniqueDocuments != 1 {
		t.Fatalf("删除后应仅剩论文b的记录: chunks=%d docs=%d", stats.TotalChunks, stats.UniqueDocuments)
	}
}

func TestMemoryStore_StatsSectionDistribution(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore(2)

	require.NoError(t, store.Upsert(ctx, []*EmbeddingRecord{
		rec("a:0000", "a", SectionAbstract, 0, []float32{1, 0}),
		rec("a:0001", "a", SectionMethods, 1, []float32{0, 1}),
		rec("b:0000", "b", SectionMethods, 0, []float32{1, 0}),
	}))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	if stats.SectionDistribution[SectionMethods] != 2 || stats.SectionDistribution[SectionAbstract] != 1 {
		t.Fatalf("章节分布不符: %+v", stats.SectionDistribution)
	}
}

func TestMemoryStore_ListSorted(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore(2)

	require.NoError(t, store.Upsert(ctx, []*EmbeddingRecord{
		rec("b:0000", "b", SectionAbstract, 0, []float32{1, 0}),
		rec("a:0001", "a", SectionMethods, 1, []float32{0, 1}),
		rec("a:0000", "a", SectionAbstract, 0, []float32{1, 0}),
	}))

	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)

	wantOrder := []string{"a:0000", "a:0001", "b:0000"}
	for i, want := range wantOrder {
		if records[i].ChunkID != want {
			t.Fatalf("List 顺序不符: 第%d位期望%s, 实际%s", i, want, records[i].ChunkID)
		}
	}
}
