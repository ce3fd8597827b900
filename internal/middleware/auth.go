// Package middleware wires internal/authn and internal/ratelimit into
// gin's handler chain, generalized from the teacher's
// internal/middleware/auth.go AuthMiddleware/RateLimitMiddleware pair.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/payoutpipeline/payout-pipeline/internal/authn"
)

// Auth validates the bearer token and sets user_id/session_id on the
// gin context, matching the keys the teacher's AuthMiddleware used.
func Auth(verifier *authn.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		var tokenString string

		if authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
				c.Abort()
				return
			}
			tokenString = parts[1]
		} else {
			tokenString = c.Query("token")
			if tokenString == "" {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
				c.Abort()
				return
			}
		}

		claims, err := verifier.Verify(tokenString)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("session_id", claims.SessionID)
		c.Next()
	}
}
