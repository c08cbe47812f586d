// Package router provides RAG service routing.
package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-rag/internal/rag/handler"
	"github.com/kart-io/sentinel-rag/pkg/infra/middleware"
)

// Options 路由层配置。
type Options struct {
	// ServiceName 用于追踪 span。
	ServiceName string
	// MaxBodyBytes 请求体上限，0 使用默认值。
	MaxBodyBytes int64
	// RequestTimeout 单个请求的处理时限，0 表示不限制。
	RequestTimeout time.Duration
	// Metrics 暴露 Prometheus 指标，可为空。
	Metrics http.Handler
}

// New 创建 gin 引擎并注册 RAG 路由。
func New(ragHandler *handler.RAGHandler, opts Options) *gin.Engine {
	logger.Info("Registering RAG routes...")

	engine := gin.New()
	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.Tracing(opts.ServiceName),
		middleware.Logger("/healthz"),
		middleware.BodyLimit(opts.MaxBodyBytes),
	)
	engine.NoRoute(ragHandler.NoRoute)
	engine.GET("/healthz", ragHandler.Health)

	v1 := engine.Group("/v1")
	{
		rag := v1.Group("/rag", middleware.Timeout(opts.RequestTimeout))
		{
			// Query endpoint
			rag.POST("/query", ragHandler.Query)

			// Document endpoints
			rag.POST("/documents", ragHandler.Ingest)
			rag.GET("/documents/:id", ragHandler.GetDocument)
			rag.DELETE("/documents/:id", ragHandler.DeleteDocument)

			// Stats endpoint
			rag.GET("/stats", ragHandler.Stats)
		}
		if opts.Metrics != nil {
			v1.GET("/rag/metrics", gin.WrapH(opts.Metrics))
		}
	}

	logger.Info("HTTP routes registered")
	return engine
}
