package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	infralogger "github.com/kart-io/sentinel-rag/pkg/infra/logger"
)

// Logger returns a middleware that writes one structured access log per request.
// Requests to skipPaths (e.g. health probes) are not logged.
func Logger(skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if _, ok := skip[path]; ok {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		latency := time.Since(start)

		status := c.Writer.Status()
		fields := append(infralogger.GetContextFields(c.Request.Context()),
			"method", c.Request.Method,
			"path", path,
			"route", c.FullPath(),
			"status", status,
			"client_ip", c.ClientIP(),
			"bytes", c.Writer.Size(),
			"latency_ms", latency.Milliseconds(),
		)
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}

		switch {
		case status >= http.StatusInternalServerError:
			logger.Errorw("HTTP Request", fields...)
		case status >= http.StatusBadRequest:
			logger.Warnw("HTTP Request", fields...)
		default:
			logger.Infow("HTTP Request", fields...)
		}
	}
}
