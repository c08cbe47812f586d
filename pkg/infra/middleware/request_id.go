package middleware

import (
	"github.com/gin-gonic/gin"

	infralogger "github.com/kart-io/sentinel-rag/pkg/infra/logger"
	"github.com/kart-io/sentinel-rag/pkg/utils/id"
)

// HeaderXRequestID is the header carrying the request id.
const HeaderXRequestID = "X-Request-ID"

// ContextKeyRequestID is the gin.Context key of the request id.
const ContextKeyRequestID = "request_id"

// maxRequestIDLen caps ids accepted from clients.
const maxRequestIDLen = 128

// RequestID returns a middleware that adds a unique request ID to each request.
// The request ID is added to:
//   - Response header (X-Request-ID)
//   - Request context (id.RequestIDFrom) and the context log fields
//
// A client-supplied id is reused when it is short and printable.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderXRequestID)
		if !validRequestID(requestID) {
			requestID = id.NewULID()
		}

		c.Header(HeaderXRequestID, requestID)
		c.Set(ContextKeyRequestID, requestID)

		ctx := id.WithRequestID(c.Request.Context(), requestID)
		ctx = infralogger.WithRequestID(ctx, requestID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// GetRequestID returns the request ID of c, or "".
func GetRequestID(c *gin.Context) string {
	return c.GetString(ContextKeyRequestID)
}

func validRequestID(s string) bool {
	if s == "" || len(s) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 0x21 || s[i] > 0x7e {
			return false
		}
	}
	return true
}
