package tracing

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"leadflow/pkg/logging"
)

// GinMiddleware wraps otelgin and copies the trace id into the request context for logging.
func GinMiddleware(serviceName string) []gin.HandlerFunc {
	return []gin.HandlerFunc{
		otelgin.Middleware(serviceName),
		func(c *gin.Context) {
			if id := TraceID(c.Request.Context()); id != "" {
				c.Request = c.Request.WithContext(logging.WithTraceID(c.Request.Context(), id))
			}
			c.Next()
		},
	}
}
