package monitor

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// PrometheusMiddleware records request count and latency per route template.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath() // /api/v1/recovery/:id, not the concrete path

		c.Next()

		// unmatched routes have no template and would explode cardinality
		if path == "" {
			return
		}
		status := strconv.Itoa(c.Writer.Status())
		Engine.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		Engine.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
