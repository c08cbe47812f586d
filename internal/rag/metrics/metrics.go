// Package metrics 提供 RAG 服务的业务指标收集与 Prometheus 导出。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 查询结果标签值。
const (
	ResultHit   = "hit"
	ResultMiss  = "miss"
	ResultError = "error"
)

// 缓存失效原因标签值。
const (
	EvictExpired     = "expired"
	EvictFingerprint = "fingerprint"
	EvictStaleChunk  = "stale_chunk"
	EvictSweep       = "sweep"
)

// RAGMetrics RAG 服务业务指标。所有方法对 nil 接收者安全，便于在测试中省略。
type RAGMetrics struct {
	registry *prometheus.Registry

	queries        *prometheus.CounterVec
	coalesced      prometheus.Counter
	retrieval      prometheus.Histogram
	retrievalErrs  prometheus.Counter
	budgetWarnings prometheus.Counter
	generation     prometheus.Histogram
	generationErrs prometheus.Counter
	embeddingErrs  prometheus.Counter
	tokens         prometheus.Counter
	cacheEvictions *prometheus.CounterVec
	cacheEntries   prometheus.Gauge
	documents      *prometheus.CounterVec
	chunks         prometheus.Counter
}

// New 创建指标集并注册到独立的 Registry。
func New(namespace string) *RAGMetrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Subsystem: "rag", Name: name, Help: help})
	}
	m := &RAGMetrics{
		registry: prometheus.NewRegistry(),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "rag", Name: "queries_total", Help: "Answer requests by result.",
		}, []string{"result"}),
		coalesced:      counter("queries_coalesced_total", "Requests that joined an in-flight computation."),
		retrievalErrs:  counter("retrieval_errors_total", "Failed retrieval plans."),
		budgetWarnings: counter("budget_warnings_total", "Plans whose top chunk exceeded the token budget."),
		generationErrs: counter("generation_errors_total", "Generation calls that failed after retries."),
		embeddingErrs:  counter("embedding_errors_total", "Embedding calls that failed after retries."),
		tokens:         counter("generation_tokens_total", "Tokens reported by the generation provider."),
		chunks:         counter("chunks_indexed_total", "Chunks written to the vector index."),
		retrieval: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "rag", Name: "retrieval_duration_seconds",
			Help: "Retrieval plan latency.", Buckets: prometheus.DefBuckets,
		}),
		generation: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "rag", Name: "generation_duration_seconds",
			Help: "Generation latency.", Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		}),
		cacheEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "rag", Name: "cache_evictions_total", Help: "Cache entries dropped by reason.",
		}, []string{"reason"}),
		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "rag", Name: "cache_entries", Help: "Entries held in the in-memory query cache.",
		}),
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "rag", Name: "documents_ingested_total", Help: "Ingest calls by outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(
		m.queries, m.coalesced, m.retrieval, m.retrievalErrs, m.budgetWarnings,
		m.generation, m.generationErrs, m.embeddingErrs, m.tokens,
		m.cacheEvictions, m.cacheEntries, m.documents, m.chunks,
	)
	return m
}

// RecordQuery 记录一次问答请求。
func (m *RAGMetrics) RecordQuery(cacheHit bool, err error) {
	if m == nil {
		return
	}
	switch {
	case err != nil:
		m.queries.WithLabelValues(ResultError).Inc()
	case cacheHit:
		m.queries.WithLabelValues(ResultHit).Inc()
	default:
		m.queries.WithLabelValues(ResultMiss).Inc()
	}
}

// RecordCoalesced 记录一次合并到进行中计算的请求。
func (m *RAGMetrics) RecordCoalesced() {
	if m == nil {
		return
	}
	m.coalesced.Inc()
}

// RecordRetrieval 记录检索耗时，失败时计入错误数。
func (m *RAGMetrics) RecordRetrieval(d time.Duration, budgetExceeded bool, err error) {
	if m == nil {
		return
	}
	m.retrieval.Observe(d.Seconds())
	if err != nil {
		m.retrievalErrs.Inc()
	}
	if budgetExceeded {
		m.budgetWarnings.Inc()
	}
}

// RecordGeneration 记录生成耗时与 token 消耗。
func (m *RAGMetrics) RecordGeneration(d time.Duration, tokens int, err error) {
	if m == nil {
		return
	}
	m.generation.Observe(d.Seconds())
	if err != nil {
		m.generationErrs.Inc()
		return
	}
	if tokens > 0 {
		m.tokens.Add(float64(tokens))
	}
}

// RecordEmbeddingError 记录 Embedding 失败。
func (m *RAGMetrics) RecordEmbeddingError() {
	if m == nil {
		return
	}
	m.embeddingErrs.Inc()
}

// RecordEviction 记录缓存条目被丢弃。
func (m *RAGMetrics) RecordEviction(reason string) {
	if m == nil {
		return
	}
	m.cacheEvictions.WithLabelValues(reason).Inc()
}

// SetCacheEntries 更新内存缓存条目数。
func (m *RAGMetrics) SetCacheEntries(n int) {
	if m == nil {
		return
	}
	m.cacheEntries.Set(float64(n))
}

// RecordIngest 记录一次入库，outcome 为 indexed、unchanged 或 error。
func (m *RAGMetrics) RecordIngest(outcome string, chunks int) {
	if m == nil {
		return
	}
	m.documents.WithLabelValues(outcome).Inc()
	if chunks > 0 {
		m.chunks.Add(float64(chunks))
	}
}

// Registry 返回底层 Registry。
func (m *RAGMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回 Prometheus 文本格式的导出 Handler。
func (m *RAGMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
