package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/RetinaGuard/internal/infrastructure/monitoring/prometheus"
)

// Metrics records request counts and latency labelled by route template, so
// path parameters do not explode cardinality.
func Metrics(m *prometheus.AppMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		prometheus.RecordHTTPRequest(m, c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
