// Package store provides vector index storage options.
package store

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-rag/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Backend 向量索引持久化后端。
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendMilvus = "milvus"
)

// Options 向量索引存储配置。
type Options struct {
	// Backend 持久化后端（memory, sqlite, milvus）。
	Backend string `json:"backend" mapstructure:"backend"`

	// SQLitePath SQLite 数据库文件路径。
	SQLitePath string `json:"sqlite-path" mapstructure:"sqlite-path"`

	// Collection Milvus 集合名称。
	Collection string `json:"collection" mapstructure:"collection"`

	// Dimension 向量维度，0 表示由第一次写入推断（milvus 后端必须指定）。
	Dimension int `json:"dimension" mapstructure:"dimension"`
}

// NewOptions 创建默认存储配置。
func NewOptions() *Options {
	return &Options{
		Backend:    BackendSQLite,
		SQLitePath: "_output/rag.db",
		Collection: "rag_chunks",
	}
}

// AddFlags adds flags for store options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "store."
	fs.StringVar(&o.Backend, p+"backend", o.Backend, "Vector index persistence backend (memory, sqlite, milvus).")
	fs.StringVar(&o.SQLitePath, p+"sqlite-path", o.SQLitePath, "SQLite database file.")
	fs.StringVar(&o.Collection, p+"collection", o.Collection, "Milvus collection name.")
	fs.IntVar(&o.Dimension, p+"dimension", o.Dimension, "Embedding dimension (0 = inferred, required for milvus).")
}

// Validate validates the store options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	switch o.Backend {
	case BackendMemory:
	case BackendSQLite:
		if o.SQLitePath == "" {
			errs = append(errs, fmt.Errorf("store.sqlite-path is required for the sqlite backend"))
		}
	case BackendMilvus:
		if o.Collection == "" {
			errs = append(errs, fmt.Errorf("store.collection is required for the milvus backend"))
		}
		if o.Dimension <= 0 {
			errs = append(errs, fmt.Errorf("store.dimension must be positive for the milvus backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend must be memory, sqlite or milvus, got %q", o.Backend))
	}
	if o.Dimension < 0 {
		errs = append(errs, fmt.Errorf("store.dimension must not be negative"))
	}
	return errs
}
