package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/edusync/attendance-api/internal/service"
)

// Metrics records per-route request counts and latency. Unmatched routes
// fall back to the raw path so 404 traffic still shows up, and a nil
// service disables collection entirely.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		// FullPath keeps label cardinality bounded: ingest devices hit
		// the same route with thousands of distinct event IDs.
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
