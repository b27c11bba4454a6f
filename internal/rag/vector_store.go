package rag

import "context"

// VectorStore 抽象向量写入、检索与统计功能, 可由不同后端实现 (pgvector、内存等)。
// Upsert 按分块ID幂等覆盖; 批次写入对后续读取原子可见。
// Search 返回的相似度已归一化到 [0,1]; 分数相同的命中按分块位置、论文ID、分块ID排序, 结果完全确定。
type VectorStore interface {
	Upsert(ctx context.Context, records []*EmbeddingRecord) error
	Search(ctx context.Context, queryVector []float32, topK int, filter *SearchFilter) ([]*SearchHit, error)
	List(ctx context.Context) ([]*EmbeddingRecord, error)
	DeleteByDocument(ctx context.Context, paperID string) error
	Stats(ctx context.Context) (*StoreStats, error)
	Dimension() int
}

// normalizeSimilarity 将余弦相似度 [-1,1] 映射到 [0,1]
// 所有后端统一使用该变换, 保证阈值语义与后端无关
func normalizeSimilarity(cosine float64) float64 {
	s := (cosine + 1) / 2
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// lessHit 相似度相同命中的全序关系: 位置更小优先, 其次论文ID, 最后分块ID
func lessHit(a, b *EmbeddingRecord) bool {
	if a.Position != b.Position {
		return a.Position < b.Position
	}
	if a.PaperID != b.PaperID {
		return a.PaperID < b.PaperID
	}
	return a.ChunkID < b.ChunkID
}
