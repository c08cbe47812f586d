package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-rag/pkg/errors"
	"github.com/kart-io/sentinel-rag/pkg/utils/response"
)

// DefaultMaxBodyBytes is used when BodyLimit receives a non-positive size.
const DefaultMaxBodyBytes = 4 << 20

// BodyLimit 返回请求体大小限制中间件。
//
// Content-Length 已超过限制时直接返回 ErrRequestTooLarge；否则用
// http.MaxBytesReader 限制实际读取的字节数，读取超限时处理函数会得到
// *http.MaxBytesError。
func BodyLimit(maxSize int64) gin.HandlerFunc {
	if maxSize <= 0 {
		maxSize = DefaultMaxBodyBytes
	}

	return func(c *gin.Context) {
		req := c.Request
		if req.ContentLength > maxSize {
			logger.Warnw("request body too large",
				"path", req.URL.Path,
				"content_length", req.ContentLength,
				"max_size", maxSize,
			)
			response.Abort(c, errors.ErrRequestTooLarge)
			return
		}
		if req.Body != nil {
			req.Body = http.MaxBytesReader(c.Writer, req.Body, maxSize)
		}
		c.Next()
	}
}
