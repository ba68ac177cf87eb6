package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GuestIDKey is the gin context key holding the caller's guest id.
const GuestIDKey = "guestID"

// GuestIdentityMiddleware requires the X-Guest-ID header and exposes it to
// handlers. Identity verification itself lives at the platform edge.
func GuestIdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		guestID := c.GetHeader("X-Guest-ID")
		if guestID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "X-Guest-ID header is required"})
			return
		}
		c.Set(GuestIDKey, guestID)
		c.Next()
	}
}

// GuestID returns the guest id set by GuestIdentityMiddleware.
func GuestID(c *gin.Context) string {
	return c.GetString(GuestIDKey)
}
