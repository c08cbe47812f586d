// Package model provides the data models of the RAG service.
package model

import (
	"fmt"
	"time"
)

// Document is one ingested unit of text. Re-ingesting changed content
// produces a higher Version.
type Document struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(191)"`
	Version     int64     `json:"version" gorm:"not null"`
	ContentHash string    `json:"content_hash" gorm:"type:varchar(64);index"`
	Source      string    `json:"source,omitempty" gorm:"type:varchar(512)"`
	ChunkCount  int       `json:"chunk_count" gorm:"default:0"`
	TokenCount  int       `json:"token_count" gorm:"default:0"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for Document.
func (Document) TableName() string {
	return "rag_documents"
}

// Chunk is a contiguous slice of a document version. Start and End are byte
// offsets into the normalized document text and always fall on rune
// boundaries.
type Chunk struct {
	ID            string `json:"id" gorm:"primaryKey;type:varchar(191)"`
	DocumentID    string `json:"document_id" gorm:"type:varchar(191);index;not null"`
	Version       int64  `json:"version" gorm:"not null"`
	Seq           int    `json:"seq"`
	Start         int    `json:"start"`
	End           int    `json:"end"`
	TokenCount    int    `json:"token_count"`
	OverlapTokens int    `json:"overlap_tokens"`
	Content       string `json:"content" gorm:"type:text"`
}

// TableName specifies the table name for Chunk.
func (Chunk) TableName() string {
	return "rag_chunks"
}

// ChunkID returns the deterministic id of the seq-th chunk of a document
// version. Zero padding keeps lexical order equal to sequence order.
func ChunkID(documentID string, version int64, seq int) string {
	return fmt.Sprintf("%s@v%d#%06d", documentID, version, seq)
}

// Offsets is a half-open byte range [Start, End).
type Offsets struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Citation points an answer back to the chunk it drew on.
type Citation struct {
	DocumentID string  `json:"document_id"`
	Version    int64   `json:"version"`
	ChunkID    string  `json:"chunk_id"`
	Offsets    Offsets `json:"offsets"`
	Score      float32 `json:"score"`
}

// Warning is a non-fatal condition attached to a successful answer.
type Warning struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Answer is the result of a question.
type Answer struct {
	Text       string     `json:"text"`
	Citations  []Citation `json:"citations"`
	FromCache  bool       `json:"from_cache"`
	TokensUsed int        `json:"tokens_used"`
	Ungrounded bool       `json:"ungrounded"`
	Model      string     `json:"model,omitempty"`
	Warnings   []Warning  `json:"warnings,omitempty"`
}

// ChunkIDs returns the ids of the chunks cited by the answer.
func (a *Answer) ChunkIDs() []string {
	ids := make([]string, 0, len(a.Citations))
	for _, c := range a.Citations {
		ids = append(ids, c.ChunkID)
	}
	return ids
}

// Clone returns a deep copy so cached answers are never shared mutably.
func (a *Answer) Clone() *Answer {
	if a == nil {
		return nil
	}
	out := *a
	out.Citations = append([]Citation(nil), a.Citations...)
	out.Warnings = append([]Warning(nil), a.Warnings...)
	return &out
}
