package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/payoutpipeline/payout-pipeline/internal/ratelimit"
)

// GlobalRateLimit enforces the per-IP ceiling named RATE_LIMIT_* in
// spec.md §6, independent of authentication.
func GlobalRateLimit(limiter *ratelimit.Limiter, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, err := limiter.Allow(c.Request.Context(), c.ClientIP(), limit, window)
		if err != nil {
			// Fail open on cache errors: spec.md treats the rate limiter as
			// advisory infrastructure, not a source of truth for authorization.
			c.Next()
			return
		}
		if !allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": window.Seconds(),
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// UserRateLimit enforces the tighter per-user ceiling, keyed on the
// user_id the Auth middleware set on the context, per spec.md §4.9.
// Requests without a user_id on the context key on client IP instead.
func UserRateLimit(limiter *ratelimit.Limiter, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if userID, exists := c.Get("user_id"); exists {
			key = userID.(string)
		}

		allowed, err := limiter.Allow(c.Request.Context(), key, limit, window)
		if err != nil {
			c.Next()
			return
		}
		if !allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "user rate limit exceeded",
				"retry_after": window.Seconds(),
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
