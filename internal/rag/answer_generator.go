package rag

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"litnav/internal/logger"
	"litnav/internal/metrics"
)

// 证据为空或后端失败时返回的固定答案, 面向英文语料
const (
	noEvidenceAnswer = "I could not find relevant information in the indexed papers to answer this question."

	backendErrorAnswer = "The answer could not be generated because the language model backend failed. " +
		"The retrieved evidence is still attached to this result."
)

// AnswerGenerator 基于检索证据的答案生成器
// 答案生成永不失败: 证据不足与后端故障均降级为解释性答案 + 零置信度
type AnswerGenerator struct {
	retriever       *Retriever
	completion      CompletionProvider
	confidenceScale float64
}

// NewAnswerGenerator 创建答案生成器
func NewAnswerGenerator(retriever *Retriever, completion CompletionProvider, confidenceScale float64) *AnswerGenerator {
	if confidenceScale <= 0 {
		confidenceScale = 1.2
	}
	return &AnswerGenerator{
		retriever:       retriever,
		completion:      completion,
		confidenceScale: confidenceScale,
	}
}

// Generate 检索证据并生成带引用的答案
// evidenceGrounding 开启时提示词要求逐句标注证据编号
// 返回 error 仅限检索阶段失败; 生成阶段的故障反映在答案内容与置信度上
func (g *AnswerGenerator) Generate(ctx context.Context, query string, topK int, evidenceGrounding bool) (*AnswerResult, error) {
	evidence, err := g.retriever.Retrieve(ctx, query, topK)
	if err != nil {
		return nil, err
	}

	if len(evidence) == 0 {
		metrics.AnswersTotal.WithLabelValues("no_evidence").Inc()
		metrics.AnswerConfidence.Observe(0)
		return &AnswerResult{
			Answer:     noEvidenceAnswer,
			Confidence: 0,
			Citations:  []Citation{},
			Evidence:   []*RetrievalResult{},
		}, nil
	}

	prompt := buildPrompt(query, evidence, evidenceGrounding)
	answer, genErr := g.completion.Complete(ctx, prompt)
	if genErr != nil {
		logger.WithContext(ctx).Error("答案生成后端失败",
			zap.String("model", g.completion.GetModel()),
			zap.Error(&GenerationError{Err: genErr}),
		)
		metrics.AnswersTotal.WithLabelValues("backend_error").Inc()
		metrics.AnswerConfidence.Observe(0)
		return &AnswerResult{
			Answer:     backendErrorAnswer,
			Confidence: 0,
			Citations:  citationsFrom(evidence),
			Evidence:   evidence,
		}, nil
	}

	confidence := g.confidenceFrom(evidence)
	metrics.AnswersTotal.WithLabelValues("success").Inc()
	metrics.AnswerConfidence.Observe(confidence)

	return &AnswerResult{
		Answer:     answer,
		Confidence: confidence,
		Citations:  citationsFrom(evidence),
		Evidence:   evidence,
	}, nil
}

// buildPrompt 构造生成提示词, 证据块带编号、标题与章节标签
func buildPrompt(query string, evidence []*RetrievalResult, grounding bool) string {
	var b strings.Builder

	b.WriteString("You are a research assistant. Answer the question using ONLY the evidence excerpts below.\n")
	b.WriteString("If the evidence does not contain the answer, say so explicitly instead of guessing.\n")
	if grounding {
		b.WriteString("After each claim, cite the supporting excerpt number in square brackets, e.g. [1].\n")
	}
	b.WriteString("\nEvidence:\n")

	for i, res := range evidence {
		fmt.Fprintf(&b, "[%d] %s (%s)\n%s\n\n", i+1, res.Record.Title, res.Record.Section, res.Record.Content)
	}

	b.WriteString("Question: ")
	b.WriteString(query)
	b.WriteString("\n\nAnswer:")

	return b.String()
}

// citationsFrom 引用直接取自传入提示词的证据分块, 与生成内容无关
func citationsFrom(evidence []*RetrievalResult) []Citation {
	citations := make([]Citation, 0, len(evidence))
	for _, res := range evidence {
		citations = append(citations, Citation{
			Title:      res.Record.Title,
			Section:    res.Record.Section,
			Similarity: res.Similarity,
		})
	}
	return citations
}

// confidenceFrom 置信度 = clamp(证据平均相似度 × 缩放因子, 0, 1)
// 仅由证据集合决定, 不依赖生成文本
func (g *AnswerGenerator) confidenceFrom(evidence []*RetrievalResult) float64 {
	var sum float64
	for _, res := range evidence {
		sum += res.Similarity
	}
	c := sum / float64(len(evidence)) * g.confidenceScale
	if c > 1 {
		return 1
	}
	if c < 0 {
		return 0
	}
	return c
}
