// Package rag provides RAG (Retrieval-Augmented Generation) configuration options.
package rag

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-rag/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Tokenizer 名称。
const (
	TokenizerWord  = "word"
	TokenizerChars = "approx-chars"
)

// Options contains RAG-specific configuration.
type Options struct {
	// ChunkSize is the maximum number of tokens per chunk.
	ChunkSize int `json:"chunk-size" mapstructure:"chunk-size"`

	// ChunkOverlap is the number of tokens shared by consecutive chunks.
	ChunkOverlap int `json:"chunk-overlap" mapstructure:"chunk-overlap"`

	// Tokenizer selects the token counter (word or approx-chars).
	Tokenizer string `json:"tokenizer" mapstructure:"tokenizer"`

	// TopK is the default number of chunks retrieved per question.
	TopK int `json:"top-k" mapstructure:"top-k"`

	// TokenBudget caps the total tokens of the assembled context.
	TokenBudget int `json:"token-budget" mapstructure:"token-budget"`

	// RelevanceFloor drops chunks scoring below it. Negative disables the floor.
	RelevanceFloor float64 `json:"relevance-floor" mapstructure:"relevance-floor"`

	// MaxOutputTokens caps the generated answer length.
	MaxOutputTokens int `json:"max-output-tokens" mapstructure:"max-output-tokens"`

	// SystemPrompt is the prompt template with {{context}} and {{question}} placeholders.
	SystemPrompt string `json:"system-prompt" mapstructure:"system-prompt"`

	// IngestBatchSize is the number of chunks embedded per provider request.
	IngestBatchSize int `json:"ingest-batch-size" mapstructure:"ingest-batch-size"`

	// IngestWorkers is the number of embedding batches in flight during ingestion.
	IngestWorkers int `json:"ingest-workers" mapstructure:"ingest-workers"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		ChunkSize:       800,
		ChunkOverlap:    100,
		Tokenizer:       TokenizerWord,
		TopK:            3,
		TokenBudget:     3000,
		RelevanceFloor:  -1,
		MaxOutputTokens: 500,
		IngestBatchSize: 16,
		IngestWorkers:   4,
	}
}

// AddFlags adds flags for RAG options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "rag."
	fs.IntVar(&o.ChunkSize, p+"chunk-size", o.ChunkSize, "Maximum tokens per chunk.")
	fs.IntVar(&o.ChunkOverlap, p+"chunk-overlap", o.ChunkOverlap, "Tokens shared by consecutive chunks.")
	fs.StringVar(&o.Tokenizer, p+"tokenizer", o.Tokenizer, "Token counter (word, approx-chars).")
	fs.IntVar(&o.TopK, p+"top-k", o.TopK, "Default number of chunks retrieved per question.")
	fs.IntVar(&o.TokenBudget, p+"token-budget", o.TokenBudget, "Maximum tokens of assembled context.")
	fs.Float64Var(&o.RelevanceFloor, p+"relevance-floor", o.RelevanceFloor, "Minimum cosine similarity of retrieved chunks (negative disables).")
	fs.IntVar(&o.MaxOutputTokens, p+"max-output-tokens", o.MaxOutputTokens, "Maximum tokens of a generated answer.")
	fs.StringVar(&o.SystemPrompt, p+"system-prompt", o.SystemPrompt, "Prompt template with {{context}} and {{question}} placeholders.")
	fs.IntVar(&o.IngestBatchSize, p+"ingest-batch-size", o.IngestBatchSize, "Chunks embedded per provider request during ingestion.")
	fs.IntVar(&o.IngestWorkers, p+"ingest-workers", o.IngestWorkers, "Concurrent embedding batches during ingestion.")
}

// Validate validates the RAG options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("rag.chunk-size must be positive"))
	}
	if o.ChunkOverlap < 0 || o.ChunkOverlap >= o.ChunkSize {
		errs = append(errs, fmt.Errorf("rag.chunk-overlap must be in [0, chunk-size), got %d", o.ChunkOverlap))
	}
	if o.Tokenizer != TokenizerWord && o.Tokenizer != TokenizerChars {
		errs = append(errs, fmt.Errorf("rag.tokenizer must be %q or %q", TokenizerWord, TokenizerChars))
	}
	if o.TopK <= 0 {
		errs = append(errs, fmt.Errorf("rag.top-k must be positive"))
	}
	if o.TokenBudget <= 0 {
		errs = append(errs, fmt.Errorf("rag.token-budget must be positive"))
	}
	if o.RelevanceFloor > 1 {
		errs = append(errs, fmt.Errorf("rag.relevance-floor must not exceed 1"))
	}
	if o.MaxOutputTokens < 0 {
		errs = append(errs, fmt.Errorf("rag.max-output-tokens must not be negative"))
	}
	if o.IngestBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("rag.ingest-batch-size must be positive"))
	}
	if o.IngestWorkers <= 0 {
		errs = append(errs, fmt.Errorf("rag.ingest-workers must be positive"))
	}
	return errs
}

// Complete completes the RAG options with defaults.
func (o *Options) Complete() error {
	if o.Tokenizer == "" {
		o.Tokenizer = TokenizerWord
	}
	return nil
}

// Floor 返回相关性下限，未启用时返回 nil。
func (o *Options) Floor() *float32 {
	if o.RelevanceFloor < 0 {
		return nil
	}
	f := float32(o.RelevanceFloor)
	return &f
}
