package rag

import (
	"fmt"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
)

// SectionKind 论文章节类型 (闭合枚举)
type SectionKind string

const (
	SectionAbstract     SectionKind = "abstract"
	SectionIntroduction SectionKind = "introduction"
	SectionMethods      SectionKind = "methods"
	SectionResults      SectionKind = "results"
	SectionDiscussion   SectionKind = "discussion"
	SectionConclusion   SectionKind = "conclusion"
	SectionReferences   SectionKind = "references"
	SectionFigures      SectionKind = "figures"
	SectionOther        SectionKind = "other"
)

// AllSectionKinds 所有合法章节类型, 用于统计与测试遍历
var AllSectionKinds = []SectionKind{
	SectionAbstract, SectionIntroduction, SectionMethods, SectionResults,
	SectionDiscussion, SectionConclusion, SectionReferences, SectionFigures,
	SectionOther,
}

// Valid 判断章节类型是否合法
func (k SectionKind) Valid() bool {
	switch k {
	case SectionAbstract, SectionIntroduction, SectionMethods, SectionResults,
		SectionDiscussion, SectionConclusion, SectionReferences, SectionFigures,
		SectionOther:
		return true
	}
	return false
}

// ParseSectionKind 解析章节类型, 未知取值归入 other
func ParseSectionKind(s string) SectionKind {
	k := SectionKind(strings.ToLower(strings.TrimSpace(s)))
	if k.Valid() {
		return k
	}
	return SectionOther
}

// PaperMetadata 论文书目元数据
// Extra 承载边界处出现的松散书目字段 (期刊、年份、DOI 等), 核心字段保持强类型
type PaperMetadata struct {
	Title   string            `json:"title"`
	Authors []string          `json:"authors"`
	Extra   map[string]string `json:"extra,omitempty"`
}

// SectionBlock 章节标注器输出的带章节标签的文本块
type SectionBlock struct {
	Kind SectionKind `json:"kind"`
	Text string      `json:"text"`
}

// Paper 一篇已标注章节的论文, 由外部章节标注器产出
// 处理后不可变; 同一来源重新入库时整体替换而非就地修改
type Paper struct {
	ID       string         `json:"id"`
	Metadata PaperMetadata  `json:"metadata"`
	Blocks   []SectionBlock `json:"blocks"`
}

// Chunk 分块结果: 向量化与检索的基本单元
// ID 是 (论文ID, 位置) 的确定性函数, 支持幂等重入库
type Chunk struct {
	ID         string      `json:"id"`
	PaperID    string      `json:"paper_id"`
	Section    SectionKind `json:"section"`
	Content    string      `json:"content"`
	Position   int         `json:"position"` // 论文内分块序号(从0开始, 单调递增)
	TokenCount int         `json:"token_count"`
	Embedding  []float32   `json:"-"`
}

// ChunkID 生成确定性分块ID
func ChunkID(paperID string, position int) string {
	return fmt.Sprintf("%s:%04d", paperID, position)
}

// EmbeddingRecord 向量存储中的持久化记录 (向量 + 内容 + 扁平化元数据)
type EmbeddingRecord struct {
	ChunkID    string      `json:"chunk_id"`
	PaperID    string      `json:"paper_id"`
	Title      string      `json:"title"`
	Section    SectionKind `json:"section"`
	Position   int         `json:"position"`
	Content    string      `json:"content"`
	TokenCount int         `json:"token_count"`
	Embedding  []float32   `json:"-"`
}

// SearchHit 一次相似度检索命中的记录
// Similarity 已归一化到 [0,1], 越大越相似
type SearchHit struct {
	Record     *EmbeddingRecord `json:"record"`
	Similarity float64          `json:"similarity"`
}

// SearchFilter 检索过滤条件
type SearchFilter struct {
	Section        SectionKind // 非空时限定章节类型
	ExcludeChunkID string      // 非空时排除指定分块 (去重检测排除自身)
}

// StoreStats 向量存储聚合统计
type StoreStats struct {
	TotalChunks         int64                 `json:"total_chunks"`
	UniqueDocuments     int64                 `json:"unique_documents"`
	SectionDistribution map[SectionKind]int64 `json:"section_distribution"`
}

// RetrievalResult 检索结果 (查询期间产生, 不持久化)
type RetrievalResult struct {
	Record     *EmbeddingRecord `json:"record"`
	Similarity float64          `json:"similarity"`  // 原始归一化相似度
	FinalScore float64          `json:"final_score"` // 章节加权后的排序分数
	Rank       int              `json:"rank"`        // 从1开始
}

// Citation 答案引用, 直接来源于传入提示词的证据分块
type Citation struct {
	Title      string      `json:"title"`
	Section    SectionKind `json:"section"`
	Similarity float64     `json:"similarity"`
}

// AnswerResult 答案生成结果
type AnswerResult struct {
	Answer     string             `json:"answer"`
	Confidence float64            `json:"confidence"` // [0,1], 仅由证据集合决定
	Citations  []Citation         `json:"citations"`
	Evidence   []*RetrievalResult `json:"evidence"`
}

// DuplicateCluster 近重复分块簇 (成员数 ≥ 2), 每次全量扫描重新计算
type DuplicateCluster struct {
	ChunkIDs       []string         `json:"chunk_ids"`
	PaperIDs       []string         `json:"paper_ids"`
	AvgSimilarity  float64          `json:"avg_similarity"` // 簇内已发现边的平均相似度
	Representative *EmbeddingRecord `json:"representative"` // (论文ID, 位置) 最小的成员
}

// Size 簇成员数
func (c *DuplicateCluster) Size() int {
	return len(c.ChunkIDs)
}

// DuplicateStats 去重检测统计
type DuplicateStats struct {
	TotalClusters        int                 `json:"total_clusters"`
	TotalDuplicateChunks int                 `json:"total_duplicate_chunks"` // Σ(簇大小-1), 每簇保留一个"原件"
	AffectedDocuments    int                 `json:"affected_documents"`
	DuplicatePercentage  float64             `json:"duplicate_percentage"`
	SectionBreakdown     map[SectionKind]int `json:"section_breakdown"` // 按代表分块章节统计簇数
}

// ChunkRow paper_chunks 表的 gorm 模型 (pgvector 后端)
type ChunkRow struct {
	ID         string          `gorm:"primaryKey;size:128" json:"id"`
	PaperID    string          `gorm:"size:64;not null;index:idx_chunk_paper" json:"paper_id"`
	Title      string          `gorm:"size:500" json:"title"`
	Section    string          `gorm:"size:32;not null;index:idx_chunk_section" json:"section"`
	Position   int             `gorm:"not null" json:"position"`
	Content    string          `gorm:"type:text;not null" json:"content"`
	TokenCount int             `gorm:"default:0" json:"token_count"`
	Embedding  pgvector.Vector `gorm:"type:vector" json:"-"` // 列维度在迁移时按集合统一维度设置
	CreatedAt  time.Time       `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

// TableName 指定表名
func (ChunkRow) TableName() string {
	return "paper_chunks"
}
