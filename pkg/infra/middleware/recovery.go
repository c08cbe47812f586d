package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-rag/pkg/errors"
	infralogger "github.com/kart-io/sentinel-rag/pkg/infra/logger"
	"github.com/kart-io/sentinel-rag/pkg/utils/response"
)

// PanicHandler 定义 panic 处理器类型，可用于告警。
type PanicHandler func(c *gin.Context, err any, stack []byte)

// Recovery returns a middleware that recovers from panics.
func Recovery() gin.HandlerFunc {
	return RecoveryWithHandler(nil)
}

// RecoveryWithHandler 返回 Recovery 中间件，panic 时先记录完整堆栈，再调用 onPanic，
// 最后返回 ErrPanic。堆栈不会返回给客户端。
func RecoveryWithHandler(onPanic PanicHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			stack := debug.Stack()

			fields := append(infralogger.GetContextFields(c.Request.Context()),
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"panic", fmt.Sprint(r),
				"stack", string(stack),
			)
			logger.Errorw("panic recovered", fields...)

			if onPanic != nil {
				onPanic(c, r, stack)
			}
			if c.Writer.Written() {
				c.Abort()
				return
			}
			response.Abort(c, errors.ErrPanic)
		}()
		c.Next()
	}
}
