package biz

import (
	"unicode"
	"unicode/utf8"
)

// Span 是一个 token 在文本中的字节区间 [Start, End)。
type Span struct {
	Start int
	End   int
}

// Tokenizer 将文本切分为首尾相接、完整覆盖原文的 token 区间。
type Tokenizer interface {
	// Name 返回分词器名称，写入分块元数据。
	Name() string
	// Approximate 为 true 表示 token 数只是估算值。
	Approximate() bool
	// Spans 返回覆盖整个文本的 token 区间，空白归属于其后的 token。
	Spans(text string) []Span
}

// WordTokenizer 按词切分：连续的字母数字为一个 token，标点与 CJK 字符各自为一个 token。
type WordTokenizer struct{}

// Name 实现 Tokenizer。
func (WordTokenizer) Name() string { return "word" }

// Approximate 实现 Tokenizer。
func (WordTokenizer) Approximate() bool { return false }

// Spans 实现 Tokenizer。
func (WordTokenizer) Spans(text string) []Span {
	var spans []Span
	start, i := 0, 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if unicode.IsSpace(r) {
			i += size
			continue
		}
		j := i + size
		if isWordRune(r) && !isIdeograph(r) {
			for j < len(text) {
				r2, s2 := utf8.DecodeRuneInString(text[j:])
				if !isWordRune(r2) || isIdeograph(r2) {
					break
				}
				j += s2
			}
		}
		spans = append(spans, Span{Start: start, End: j})
		start, i = j, j
	}
	return closeSpans(spans, len(text))
}

// CharTokenizer 在没有真实分词器时按固定 rune 数估算 token。
type CharTokenizer struct {
	// RunesPerToken 每个 token 对应的 rune 数，默认 4。
	RunesPerToken int
}

// Name 实现 Tokenizer。
func (CharTokenizer) Name() string { return "approx-chars" }

// Approximate 实现 Tokenizer。
func (CharTokenizer) Approximate() bool { return true }

// Spans 实现 Tokenizer。
func (t CharTokenizer) Spans(text string) []Span {
	per := t.RunesPerToken
	if per <= 0 {
		per = 4
	}
	var spans []Span
	start, runes := 0, 0
	for i := range text {
		if runes == per {
			spans = append(spans, Span{Start: start, End: i})
			start, runes = i, 0
		}
		runes++
	}
	if start < len(text) {
		spans = append(spans, Span{Start: start, End: len(text)})
	}
	return spans
}

// CountTokens 返回文本的 token 数。
func CountTokens(t Tokenizer, text string) int {
	return len(t.Spans(text))
}

// closeSpans 把尾部空白并入最后一个 token；全空白文本视为一个 token。
func closeSpans(spans []Span, n int) []Span {
	if n == 0 {
		return nil
	}
	if len(spans) == 0 {
		return []Span{{Start: 0, End: n}}
	}
	spans[len(spans)-1].End = n
	return spans
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isIdeograph(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}
