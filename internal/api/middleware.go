package api

import (
	"eznotify/pkg/trace"

	"github.com/gin-gonic/gin"
)

// TraceMiddleware 中间件：透传或生成 trace ID，并写回响应头
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := trace.FromHeader(c.GetHeader(trace.HeaderName()))

		ctx := trace.WithContext(c.Request.Context(), traceID)
		c.Request = c.Request.WithContext(ctx)
		c.Writer.Header().Set(trace.HeaderName(), traceID)

		c.Next()
	}
}
