package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimit caps requests per (client IP, route) inside a fixed window using
// a process-local store.
func RateLimit(maxRequests int, window time.Duration) gin.HandlerFunc {
	return RateLimitWith(NewMemoryRateStore(), maxRequests, window)
}

// RateLimitWith is RateLimit over an explicit RateStore, for deployments
// that share windows through redis or the database cache.
func RateLimitWith(store RateStore, maxRequests int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if store == nil || maxRequests <= 0 || window <= 0 {
			c.Next()
			return
		}

		// The limit is part of the key so stacked limiters with different
		// budgets never share a window.
		key := "ratelimit:" + strconv.Itoa(maxRequests) + ":" + c.ClientIP() + "|" + c.FullPath()
		count, resetIn, err := store.Increment(c.Request.Context(), key, window)
		if err != nil {
			// A broken counter backend must not take the API down.
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(max(0, maxRequests-count)))
		c.Header("X-RateLimit-Reset", strconv.Itoa(int(resetIn.Seconds())))

		if count > maxRequests {
			c.AbortWithStatus(http.StatusTooManyRequests)
			return
		}

		c.Next()
	}
}
