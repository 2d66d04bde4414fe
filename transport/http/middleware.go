package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/veridoc/authgate/service"
)

// AuthMiddleware validates the bearer access token and stores the
// resolved identity on the request context.
func AuthMiddleware(auth *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		identity, err := auth.VerifyAccess(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": genericAuthError})
			return
		}

		c.Set("userAddress", identity.Address)
		c.Set("userRole", identity.Role)
		c.Set("userHandle", identity.Handle)
		c.Next()
	}
}
