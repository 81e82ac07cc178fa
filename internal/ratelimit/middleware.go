package ratelimit

import (
	"fmt"
	"net/http"

	"tracker-server/internal/observability"

	"github.com/gin-gonic/gin"
)

// Middleware enforces the per-client request budget on API routes.
// Keys on the authenticated operator when present, client IP otherwise.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := observability.ClientIP(c)
		if operator := c.GetString("operator"); operator != "" {
			key = operator
		}

		result, err := s.Check(c.Request.Context(), key)
		if err != nil {
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", s.rpm))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", result.Remaining))

		if !result.Allowed {
			c.Header("Retry-After", fmt.Sprintf("%d", int(result.RetryAfter.Seconds())+1))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}

		c.Next()
	}
}
