package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kart-io/sentinel-rag/internal/model"
)

// chunkRow 持久化的分块，向量以小端 float32 序列存储。
type chunkRow struct {
	model.Chunk
	Vector []byte `gorm:"type:blob"`
}

// TableName specifies the table name for chunkRow.
func (chunkRow) TableName() string {
	return "rag_chunks"
}

// SQLitePersister 基于 GORM + SQLite 的持久层。
type SQLitePersister struct {
	db *gorm.DB
}

// NewSQLitePersister 打开（必要时创建）SQLite 数据库并迁移表结构。
// path 为 ":memory:" 时使用内存数据库。
func NewSQLitePersister(path string) (*SQLitePersister, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	return NewSQLitePersisterWithDB(db)
}

// NewSQLitePersisterWithDB 使用已有连接创建持久层。
func NewSQLitePersisterWithDB(db *gorm.DB) (*SQLitePersister, error) {
	if err := db.AutoMigrate(&model.Document{}, &chunkRow{}); err != nil {
		return nil, fmt.Errorf("migrate rag tables: %w", err)
	}
	return &SQLitePersister{db: db}, nil
}

// SaveDocument 实现 Persister，在一个事务内替换文档。
func (s *SQLitePersister) SaveDocument(ctx context.Context, doc model.Document, entries []IndexEntry) error {
	rows := make([]chunkRow, len(entries))
	for i, e := range entries {
		rows[i] = chunkRow{Chunk: e.Chunk, Vector: encodeVector(e.Vector)}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", doc.ID).Delete(&chunkRow{}).Error; err != nil {
			return err
		}
		if err := tx.Save(&doc).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, 200).Error
	})
}

// DeleteDocument 实现 Persister。
func (s *SQLitePersister) DeleteDocument(ctx context.Context, documentID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", documentID).Delete(&chunkRow{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", documentID).Delete(&model.Document{}).Error
	})
}

// LoadDocuments 实现 Persister。
func (s *SQLitePersister) LoadDocuments(ctx context.Context) ([]PersistedDocument, error) {
	db := s.db.WithContext(ctx)

	var docs []model.Document
	if err := db.Order("id").Find(&docs).Error; err != nil {
		return nil, err
	}

	out := make([]PersistedDocument, 0, len(docs))
	for _, doc := range docs {
		var rows []chunkRow
		if err := db.Where("document_id = ? AND version = ?", doc.ID, doc.Version).
			Order("seq").Find(&rows).Error; err != nil {
			return nil, err
		}
		pd := PersistedDocument{Document: doc, Entries: make([]IndexEntry, 0, len(rows))}
		for _, r := range rows {
			vec, err := decodeVector(r.Vector)
			if err != nil {
				return nil, fmt.Errorf("chunk %s: %w", r.ID, err)
			}
			pd.Entries = append(pd.Entries, IndexEntry{Chunk: r.Chunk, Vector: vec})
		}
		out = append(out, pd)
	}
	return out, nil
}

// Close 实现 Persister。
func (s *SQLitePersister) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func encodeVector(vec []float32) []byte {
	b := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid vector blob length %d", len(b))
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec, nil
}

var _ Persister = (*SQLitePersister)(nil)
