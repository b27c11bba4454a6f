package rag

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PgVectorStore 基于 PostgreSQL pgvector 扩展的向量存储实现
type PgVectorStore struct {
	db  *gorm.DB
	dim int
}

// NewPgVectorStore 创建 pgvector 存储实例
// dim: 集合统一向量维度; autoMigrate: 是否自动迁移表结构
func NewPgVectorStore(db *gorm.DB, dim int, autoMigrate bool) (*PgVectorStore, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("非法向量维度: %d", dim)
	}
	store := &PgVectorStore{db: db, dim: dim}

	// 确保 pgvector 扩展已启用; sqlite 测试环境跳过
	isPostgres := db.Dialector.Name() == "postgres"
	if isPostgres {
		if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return nil, fmt.Errorf("启用pgvector扩展失败: %w", err)
		}
	}

	if autoMigrate {
		if err := db.AutoMigrate(&ChunkRow{}); err != nil {
			return nil, fmt.Errorf("迁移paper_chunks表失败: %w", err)
		}
		// 向量列维度跟随集合统一维度, 不写死在模型标签里
		if isPostgres {
			ddl := fmt.Sprintf("ALTER TABLE paper_chunks ALTER COLUMN embedding TYPE vector(%d)", dim)
			if err := db.Exec(ddl).Error; err != nil {
				return nil, fmt.Errorf("设置向量列维度失败: %w", err)
			}
		}
	}

	return store, nil
}

// Upsert 批量写入, 按分块ID覆盖旧记录
// 整批在单个事务内提交, 后续读取要么看到整批要么完全看不到
// 维度不符的记录被拒绝 (SchemaMismatchError), 其余记录仍然写入
func (s *PgVectorStore) Upsert(ctx context.Context, records []*EmbeddingRecord) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([]*ChunkRow, 0, len(records))
	var rejected []string
	for _, rec := range records {
		if len(rec.Embedding) != s.dim {
			rejected = append(rejected, rec.ChunkID)
			continue
		}
		rows = append(rows, &ChunkRow{
			ID:         rec.ChunkID,
			PaperID:    rec.PaperID,
			Title:      rec.Title,
			Section:    string(rec.Section),
			Position:   rec.Position,
			Content:    rec.Content,
			TokenCount: rec.TokenCount,
			Embedding:  pgvector.NewVector(rec.Embedding),
		})
	}

	if len(rows) > 0 {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				UpdateAll: true,
			}).CreateInBatches(rows, 200).Error
		})
		if err != nil {
			return fmt.Errorf("%w: 写入分块记录失败: %v", ErrStorageUnavailable, err)
		}
	}

	if len(rejected) > 0 {
		return &SchemaMismatchError{Expected: s.dim, RejectedIDs: rejected}
	}
	return nil
}

// Search 余弦相似度检索
// <=> 是 pgvector 的余弦距离操作符, 1 - 距离即余弦相似度
func (s *PgVectorStore) Search(ctx context.Context, queryVector []float32, topK int, filter *SearchFilter) ([]*SearchHit, error) {
	if len(queryVector) != s.dim {
		return nil, &SchemaMismatchError{Expected: s.dim, RejectedIDs: []string{"query"}}
	}
	if topK <= 0 {
		topK = 5
	}

	query := s.db.WithContext(ctx).
		Model(&ChunkRow{}).
		Select("*, 1 - (embedding <=> ?) AS cosine", pgvector.NewVector(queryVector))

	if filter != nil {
		if filter.Section != "" {
			query = query.Where("section = ?", string(filter.Section))
		}
		if filter.ExcludeChunkID != "" {
			query = query.Where("id <> ?", filter.ExcludeChunkID)
		}
	}

	var rows []struct {
		ChunkRow
		Cosine float64 `gorm:"column:cosine"`
	}

	// 距离相同的记录按位置、论文ID、分块ID排序, 保证结果确定
	err := query.
		Order(clause.Expr{SQL: "embedding <=> ?", Vars: []interface{}{pgvector.NewVector(queryVector)}}).
		Order("position ASC").
		Order("paper_id ASC").
		Order("id ASC").
		Limit(topK).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: 向量检索失败: %v", ErrStorageUnavailable, err)
	}

	hits := make([]*SearchHit, 0, len(rows))
	for _, r := range rows {
		hits = append(hits, &SearchHit{
			Record:     rowToRecord(&r.ChunkRow),
			Similarity: normalizeSimilarity(r.Cosine),
		})
	}
	return hits, nil
}

// List 返回全部记录, 按 (论文ID, 位置) 排序
func (s *PgVectorStore) List(ctx context.Context) ([]*EmbeddingRecord, error) {
	var rows []*ChunkRow
	err := s.db.WithContext(ctx).
		Order("paper_id ASC, position ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: 扫描分块记录失败: %v", ErrStorageUnavailable, err)
	}

	records := make([]*EmbeddingRecord, 0, len(rows))
	for _, r := range rows {
		records = append(records, rowToRecord(r))
	}
	return records, nil
}

// DeleteByDocument 删除指定论文的全部记录
func (s *PgVectorStore) DeleteByDocument(ctx context.Context, paperID string) error {
	err := s.db.WithContext(ctx).
		Where("paper_id = ?", paperID).
		Delete(&ChunkRow{}).Error
	if err != nil {
		return fmt.Errorf("%w: 删除论文记录失败: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// Stats 聚合统计
func (s *PgVectorStore) Stats(ctx context.Context) (*StoreStats, error) {
	stats := &StoreStats{
		SectionDistribution: make(map[SectionKind]int64),
	}

	if err := s.db.WithContext(ctx).
		Model(&ChunkRow{}).
		Count(&stats.TotalChunks).Error; err != nil {
		return nil, fmt.Errorf("%w: 统计分块数量失败: %v", ErrStorageUnavailable, err)
	}

	if err := s.db.WithContext(ctx).
		Model(&ChunkRow{}).
		Distinct("paper_id").
		Count(&stats.UniqueDocuments).Error; err != nil {
		return nil, fmt.Errorf("%w: 统计论文数量失败: %v", ErrStorageUnavailable, err)
	}

	var dist []struct {
		Section string
		Count   int64
	}
	if err := s.db.WithContext(ctx).
		Model(&ChunkRow{}).
		Select("section, COUNT(*) AS count").
		Group("section").
		Scan(&dist).Error; err != nil {
		return nil, fmt.Errorf("%w: 统计章节分布失败: %v", ErrStorageUnavailable, err)
	}
	for _, d := range dist {
		stats.SectionDistribution[SectionKind(d.Section)] = d.Count
	}

	return stats, nil
}

// Dimension 集合统一向量维度
func (s *PgVectorStore) Dimension() int {
	return s.dim
}

// rowToRecord gorm 行转存储记录
func rowToRecord(r *ChunkRow) *EmbeddingRecord {
	return &EmbeddingRecord{
		ChunkID:    r.ID,
		PaperID:    r.PaperID,
		Title:      r.Title,
		Section:    SectionKind(r.Section),
		Position:   r.Position,
		Content:    r.Content,
		TokenCount: r.TokenCount,
		Embedding:  r.Embedding.Slice(),
	}
}
