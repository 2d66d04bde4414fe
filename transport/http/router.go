package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/veridoc/authgate/service"
)

// SetupRouter wires the gin router.
func SetupRouter(auth *service.AuthService, challenges *service.ChallengeService, limiter *service.RateLimiter) *gin.Engine {
	router := gin.Default()

	handlers := NewAuthHandlers(auth, challenges, limiter)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authGroup := router.Group("/auth")
	{
		authGroup.POST("/challenge", handlers.Challenge)
		authGroup.POST("/login", handlers.Login)
		authGroup.POST("/refresh", handlers.Refresh)
		authGroup.POST("/logout", AuthMiddleware(auth), handlers.Logout)
		authGroup.GET("/ratelimit", handlers.RateLimitStatus)
	}

	api := router.Group("/api")
	api.Use(AuthMiddleware(auth))
	{
		api.GET("/me", handlers.Me)
		api.GET("/authorize", handlers.Authorize)
	}

	return router
}
