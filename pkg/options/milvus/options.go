// Package milvusopts provides options for the Milvus chunk store.
package milvusopts

import (
	"fmt"
	"slices"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-rag/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Metric types accepted for the collection vector index.
var metrics = []string{"L2", "IP", "COSINE"}

// Options Milvus 连接与集合索引配置。
type Options struct {
	// Address host:port
	Address  string `json:"address" mapstructure:"address"`
	Database string `json:"database" mapstructure:"database"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`

	// Timeout 建立连接的超时时间。
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// Metric 新建集合时向量索引使用的距离度量。
	Metric string `json:"metric" mapstructure:"metric"`

	// NList IVF_FLAT 索引的聚类中心数。
	NList int `json:"nlist" mapstructure:"nlist"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		Address:  "localhost:19530",
		Database: "default",
		Timeout:  30 * time.Second,
		Metric:   "COSINE",
		NList:    128,
	}
}

// AddFlags adds flags to the flagset.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "milvus."
	fs.StringVar(&o.Address, p+"address", o.Address, "Milvus server address (host:port).")
	fs.StringVar(&o.Database, p+"database", o.Database, "Milvus database name.")
	fs.StringVar(&o.Username, p+"username", o.Username, "Milvus username.")
	fs.StringVar(&o.Password, p+"password", o.Password, "Milvus password.")
	fs.DurationVar(&o.Timeout, p+"timeout", o.Timeout, "Connect timeout.")
	fs.StringVar(&o.Metric, p+"metric", o.Metric, "Vector index metric for new collections (L2, IP, COSINE).")
	fs.IntVar(&o.NList, p+"nlist", o.NList, "IVF_FLAT cluster count for new collections.")
}

// Validate validates the options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.Address == "" {
		errs = append(errs, fmt.Errorf("milvus.address is required"))
	}
	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("milvus.timeout must be positive"))
	}
	if !slices.Contains(metrics, o.Metric) {
		errs = append(errs, fmt.Errorf("milvus.metric must be one of %v, got %q", metrics, o.Metric))
	}
	if o.NList < 1 || o.NList > 65536 {
		errs = append(errs, fmt.Errorf("milvus.nlist must be in [1, 65536], got %d", o.NList))
	}
	return errs
}
