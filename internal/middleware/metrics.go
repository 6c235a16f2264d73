package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/finovant/paydesk/pkg/metrics"
)

// Metrics observes request latency per method, route and status. The route
// template is used rather than the raw path so /approvals/:id stays one
// series regardless of how many approvals exist.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		metrics.APILatency.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
