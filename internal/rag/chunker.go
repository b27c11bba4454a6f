package rag

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// SectionChunker 章节感知分块器
// 在每个章节块内部按句子边界分块, 分块不会跨越两种章节类型
type SectionChunker struct {
	ChunkSize    int // 分块大小(字符数)
	ChunkOverlap int // 相邻分块之间的重叠字符数

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
}

// NewSectionChunker 创建分块器
// chunkSize: 每个分块的字符数
// chunkOverlap: 同章节相邻分块之间的重叠字符数
func NewSectionChunker(chunkSize, chunkOverlap int) *SectionChunker {
	if chunkSize <= 0 {
		chunkSize = 1200
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 10 // 重叠不超过10%
	}

	return &SectionChunker{
		ChunkSize:    chunkSize,
		ChunkOverlap: chunkOverlap,
	}
}

// ChunkPaper 对一篇论文进行分块
// 同一论文 + 同一配置下结果完全确定 (分块序列与ID可复现, 支持幂等重入库)
func (c *SectionChunker) ChunkPaper(paper *Paper) ([]*Chunk, error) {
	if paper == nil || paper.ID == "" {
		return nil, fmt.Errorf("论文ID不能为空")
	}

	chunks := make([]*Chunk, 0)
	position := 0

	for _, block := range paper.Blocks {
		text := normalizeText(block.Text)
		if text == "" {
			continue
		}

		kind := block.Kind
		if !kind.Valid() {
			kind = SectionOther
		}

		for _, content := range c.splitBlock(text) {
			chunks = append(chunks, &Chunk{
				ID:         ChunkID(paper.ID, position),
				PaperID:    paper.ID,
				Section:    kind,
				Content:    content,
				Position:   position,
				TokenCount: c.countTokens(content),
			})
			position++
		}
	}

	return chunks, nil
}

// splitBlock 将单个章节块切分为若干分块, 优先在句子边界断开
func (c *SectionChunker) splitBlock(text string) []string {
	if len(text) <= c.ChunkSize {
		return []string{text}
	}

	sentences := splitIntoSentences(text)
	if len(sentences) == 0 {
		return []string{text}
	}

	var parts []string
	current := ""

	for _, sentence := range sentences {
		// 单句超长时直接按词切分
		if len(sentence) > c.ChunkSize {
			if current != "" {
				parts = append(parts, current)
				current = ""
			}
			pieces := splitByWords(sentence, c.ChunkSize)
			parts = append(parts, pieces[:len(pieces)-1]...)
			current = pieces[len(pieces)-1]
			continue
		}

		if len(current)+len(sentence)+1 > c.ChunkSize && current != "" {
			parts = append(parts, current)
			// 新分块保留上一分块末尾的重叠部分 (仅限同一章节)
			current = c.overlapTail(current)
		}

		if current != "" {
			current += " "
		}
		current += sentence
	}

	if current != "" {
		parts = append(parts, current)
	}

	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

// overlapTail 取文本末尾的重叠部分, 从完整单词开始
func (c *SectionChunker) overlapTail(text string) string {
	if c.ChunkOverlap == 0 || len(text) <= c.ChunkOverlap {
		return ""
	}

	// 切分点落在多字节字符中间时向后对齐到字符边界
	start := len(text) - c.ChunkOverlap
	for start < len(text) && !utf8.RuneStart(text[start]) {
		start++
	}

	overlap := text[start:]
	if idx := strings.Index(overlap, " "); idx > 0 {
		overlap = overlap[idx+1:]
	}
	return overlap
}

// countTokens 统计分块 Token 数
// 优先使用 tiktoken, 离线环境加载失败时降级为估算
func (c *SectionChunker) countTokens(text string) int {
	c.encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			c.enc = enc
		}
	})

	if c.enc != nil {
		return len(c.enc.Encode(text, nil, nil))
	}
	return estimateTokenCount(text)
}

// normalizeText 规范化文本: 折叠空白并去除首尾空白
func normalizeText(text string) string {
	return strings.TrimSpace(strings.Join(strings.Fields(text), " "))
}

// splitIntoSentences 将文本分割成句子
// 以句号、问号、感叹号结尾; 小数点与常见缩写不视为句子结束
func splitIntoSentences(text string) []string {
	sentences := make([]string, 0)
	current := strings.Builder{}

	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)

		if r == '.' || r == '!' || r == '?' {
			// 数字中的小数点
			if r == '.' && i+1 < len(runes) {
				next := runes[i+1]
				if next >= '0' && next <= '9' {
					continue
				}
			}
			// 句末通常跟空白
			if i+1 < len(runes) && runes[i+1] != ' ' {
				continue
			}

			sentence := strings.TrimSpace(current.String())
			if sentence != "" {
				sentences = append(sentences, sentence)
			}
			current.Reset()
		}
	}

	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}

	return sentences
}

// splitByWords 按词切分超长文本, 每段不超过 limit 字符
func splitByWords(text string, limit int) []string {
	words := strings.Fields(text)
	var parts []string
	current := ""

	for _, w := range words {
		if len(current)+len(w)+1 > limit && current != "" {
			parts = append(parts, current)
			current = ""
		}
		if current != "" {
			current += " "
		}
		current += w
	}
	if current != "" {
		parts = append(parts, current)
	}
	if len(parts) == 0 {
		parts = []string{text}
	}
	return parts
}

// estimateTokenCount 估算 Token 数量 (约 1.3 词 = 1 Token 的粗略近似)
func estimateTokenCount(text string) int {
	return len(strings.Fields(text))
}
