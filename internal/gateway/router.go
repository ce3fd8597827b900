package gateway

import (
	"github.com/gin-gonic/gin"

	"github.com/payoutpipeline/payout-pipeline/internal/authn"
	"github.com/payoutpipeline/payout-pipeline/internal/config"
	"github.com/payoutpipeline/payout-pipeline/internal/middleware"
	"github.com/payoutpipeline/payout-pipeline/internal/ratelimit"
	"github.com/payoutpipeline/payout-pipeline/internal/ws"
)

// NewRouter wires the gateway's HTTP surface, mirroring the route-group
// structure of the teacher's cmd/api/main.go: a public group, then an
// authenticated group carrying the rate limiters.
func NewRouter(cfg *config.Config, handler *Handler, hub *ws.Hub, verifier *authn.Verifier, globalLimiter, userLimiter *ratelimit.Limiter) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	router.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })
	router.POST("/auth/token", handler.IssueToken)

	router.Use(middleware.GlobalRateLimit(globalLimiter, cfg.RateLimitMaxRequests, cfg.RateLimitWindow()))

	api := router.Group("/api")
	api.Use(middleware.Auth(verifier))
	api.Use(middleware.UserRateLimit(userLimiter, cfg.UserRateLimitMax, cfg.UserRateLimitWindow()))
	{
		api.POST("/payout", handler.CreatePayout)
		api.GET("/payout/:tx", handler.GetTransaction)
		api.GET("/payout/user/:uid/balance", handler.GetBalance)
		api.GET("/payout/user/:uid/history", handler.ListUserTransactions)

		api.GET("/ws", func(c *gin.Context) {
			hub.Serve(c, c.GetString("user_id"))
		})
	}

	return router
}
