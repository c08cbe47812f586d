package biz

import (
	"strings"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/internal/rag/errno"
)

// ChunkResult 分块结果。
type ChunkResult struct {
	// Chunks 按顺序排列的分块。
	Chunks []model.Chunk
	// TotalTokens 文档 token 总数。
	TotalTokens int
	// Tokenizer 使用的分词器名称。
	Tokenizer string
	// Approximate 为 true 表示 token 数为估算值。
	Approximate bool
}

// Chunker 将规范化后的文档切分为有重叠、token 数有上限的分块。
type Chunker struct {
	tokenizer Tokenizer
}

// NewChunker 创建分块器。tokenizer 为 nil 时退化为按字符估算。
func NewChunker(tokenizer Tokenizer) *Chunker {
	if tokenizer == nil {
		tokenizer = CharTokenizer{}
	}
	return &Chunker{tokenizer: tokenizer}
}

// Tokenizer 返回分块器使用的分词器。
func (c *Chunker) Tokenizer() Tokenizer {
	return c.tokenizer
}

// ValidateChunking 校验分块参数。
func ValidateChunking(maxTokens, overlapTokens int) error {
	switch {
	case maxTokens <= 0:
		return errno.ErrConfiguration.WithMessagef("max_tokens must be positive, got %d", maxTokens)
	case overlapTokens < 0:
		return errno.ErrConfiguration.WithMessagef("overlap_tokens must not be negative, got %d", overlapTokens)
	case overlapTokens >= maxTokens:
		return errno.ErrConfiguration.WithMessagef(
			"overlap_tokens (%d) must be less than max_tokens (%d)", overlapTokens, maxTokens)
	}
	return nil
}

// Chunk 切分文档文本。相邻分块恰好共享 overlapTokens 个 token，分块的并集
// 按字节还原原文。相同输入总是得到相同的分块边界。
func (c *Chunker) Chunk(doc model.Document, text string, maxTokens, overlapTokens int) (*ChunkResult, error) {
	if err := ValidateChunking(maxTokens, overlapTokens); err != nil {
		return nil, err
	}

	spans := c.tokenizer.Spans(text)
	result := &ChunkResult{
		TotalTokens: len(spans),
		Tokenizer:   c.tokenizer.Name(),
		Approximate: c.tokenizer.Approximate(),
	}

	step := maxTokens - overlapTokens
	prevEnd := 0
	for start, seq := 0, 0; start < len(spans); start, seq = start+step, seq+1 {
		end := min(start+maxTokens, len(spans))
		overlap := 0
		if seq > 0 {
			overlap = prevEnd - start
		}
		lo, hi := spans[start].Start, spans[end-1].End
		result.Chunks = append(result.Chunks, model.Chunk{
			ID:            model.ChunkID(doc.ID, doc.Version, seq),
			DocumentID:    doc.ID,
			Version:       doc.Version,
			Seq:           seq,
			Start:         lo,
			End:           hi,
			TokenCount:    end - start,
			OverlapTokens: overlap,
			Content:       text[lo:hi],
		})
		if end == len(spans) {
			break
		}
		prevEnd = end
	}
	return result, nil
}

// NormalizeText 规范化文档文本：去掉 BOM，统一换行符，替换非法 UTF-8。
func NormalizeText(raw string) string {
	text := strings.TrimPrefix(raw, "\uFEFF")
	text = strings.ToValidUTF8(text, "\uFFFD")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}
