package rag

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MemoryVectorStore 内存向量存储
// 测试与本地小规模集合使用; 全部操作在单把锁下完成, 批次写入原子可见
type MemoryVectorStore struct {
	mu      sync.RWMutex
	dim     int
	records map[string]*EmbeddingRecord // 分块ID → 记录
}

// NewMemoryVectorStore 创建内存向量存储
// dim: 集合统一向量维度
func NewMemoryVectorStore(dim int) *MemoryVectorStore {
	return &MemoryVectorStore{
		dim:     dim,
		records: make(map[string]*EmbeddingRecord),
	}
}

// Upsert 批量写入, 按分块ID覆盖旧记录
// 维度不符的记录被拒绝 (SchemaMismatchError), 其余记录仍然写入
func (s *MemoryVectorStore) Upsert(ctx context.Context, records []*EmbeddingRecord) error {
	if len(records) == 0 {
		return nil
	}

	valid := make([]*EmbeddingRecord, 0, len(records))
	var rejected []string
	for _, rec := range records {
		if len(rec.Embedding) != s.dim {
			rejected = append(rejected, rec.ChunkID)
			continue
		}
		valid = append(valid, rec)
	}

	s.mu.Lock()
	for _, rec := range valid {
		clone := *rec
		s.records[rec.ChunkID] = &clone
	}
	s.mu.Unlock()

	if len(rejected) > 0 {
		return &SchemaMismatchError{Expected: s.dim, RejectedIDs: rejected}
	}
	return nil
}

// Search 余弦相似度检索
func (s *MemoryVectorStore) Search(ctx context.Context, queryVector []float32, topK int, filter *SearchFilter) ([]*SearchHit, error) {
	if len(queryVector) != s.dim {
		return nil, &SchemaMismatchError{Expected: s.dim, RejectedIDs: []string{"query"}}
	}
	if topK <= 0 {
		topK = 5
	}

	s.mu.RLock()
	hits := make([]*SearchHit, 0, len(s.records))
	for _, rec := range s.records {
		if filter != nil {
			if filter.Section != "" && rec.Section != filter.Section {
				continue
			}
			if filter.ExcludeChunkID != "" && rec.ChunkID == filter.ExcludeChunkID {
				continue
			}
		}
		hits = append(hits, &SearchHit{
			Record:     rec,
			Similarity: normalizeSimilarity(cosineSimilarity(queryVector, rec.Embedding)),
		})
	}
	s.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return lessHit(hits[i].Record, hits[j].Record)
	})

	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// List 返回全部记录, 按 (论文ID, 位置) 排序以保证遍历顺序确定
func (s *MemoryVectorStore) List(ctx context.Context) ([]*EmbeddingRecord, error) {
	s.mu.RLock()
	records := make([]*EmbeddingRecord, 0, len(s.records))
	for _, rec := range s.records {
		records = append(records, rec)
	}
	s.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		if records[i].PaperID != records[j].PaperID {
			return records[i].PaperID < records[j].PaperID
		}
		return records[i].Position < records[j].Position
	})
	return records, nil
}

// DeleteByDocument 删除指定论文的全部记录
func (s *MemoryVectorStore) DeleteByDocument(ctx context.Context, paperID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, rec := range s.records {
		if rec.PaperID == paperID {
			delete(s.records, id)
		}
	}
	return nil
}

// Stats 聚合统计 (写后读一致: 完成的 Upsert 立即可见)
func (s *MemoryVectorStore) Stats(ctx context.Context) (*StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &StoreStats{
		TotalChunks:         int64(len(s.records)),
		SectionDistribution: make(map[SectionKind]int64),
	}

	papers := make(map[string]struct{})
	for _, rec := range s.records {
		papers[rec.PaperID] = struct{}{}
		stats.SectionDistribution[rec.Section]++
	}
	stats.UniqueDocuments = int64(len(papers))

	return stats, nil
}

// Dimension 集合统一向量维度
func (s *MemoryVectorStore) Dimension() int {
	return s.dim
}

// cosineSimilarity 计算余弦相似度, 零向量返回 0
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
