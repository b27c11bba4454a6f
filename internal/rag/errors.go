package rag

import (
	"errors"
	"fmt"
)

// ErrStorageUnavailable 向量存储后端不可达, 调用方可退避重试
var ErrStorageUnavailable = errors.New("向量存储不可用")

// SchemaMismatchError 向量维度不匹配
// 仅拒绝维度不符的记录, 同批次其余记录正常写入
type SchemaMismatchError struct {
	Expected    int
	RejectedIDs []string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("向量维度不匹配: 期望%d维, 拒绝%d条记录", e.Expected, len(e.RejectedIDs))
}

// EmbeddingError 向量化后端调用失败 (重试一次后分块被丢弃)
type EmbeddingError struct {
	ChunkID string
	Err     error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("分块向量化失败 (chunk=%s): %v", e.ChunkID, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// GenerationError 生成后端调用失败, 上层以低置信度答案兜底, 不向调用方抛出
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("答案生成后端调用失败: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// ExtractionError 文档内容不可用 (跳过该文档, 批次继续)
type ExtractionError struct {
	PaperID string
	Err     error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("文档内容提取失败 (paper=%s): %v", e.PaperID, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }
