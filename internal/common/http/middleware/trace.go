package middleware

import (
	"context"
	"strings"

	"ojeval/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	traceIDHeader   = "X-Trace-Id"
	requestIDHeader = "X-Request-Id"
)

// TraceContextMiddleware adopts the caller's trace and request ids, or
// mints them, and echoes both in the response headers.
func TraceContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		ctx = propagateID(c, ctx, traceIDHeader, contextkey.TraceID)
		ctx = propagateID(c, ctx, requestIDHeader, contextkey.RequestID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func propagateID(c *gin.Context, ctx context.Context, header string, key contextkey.Key) context.Context {
	id := strings.TrimSpace(c.GetHeader(header))
	if id == "" || len(id) > 128 {
		id = uuid.NewString()
	}
	c.Writer.Header().Set(header, id)
	return context.WithValue(ctx, key, id)
}
