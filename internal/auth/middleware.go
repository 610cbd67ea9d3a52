package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ContextKeyAuthenticated is set on the gin context once a request has
// presented a valid token.
const ContextKeyAuthenticated = "authenticated"

func presented(c *gin.Context) string {
	if v := c.GetHeader("Authorization"); v != "" {
		return v
	}
	return c.GetHeader("X-API-Key")
}

// Middleware marks requests that carry a valid token without rejecting
// anything.
func Middleware(g *Guard) gin.HandlerFunc {
	return func(c *gin.Context) {
		if g.Enabled() {
			if raw := presented(c); raw != "" && g.Validate(raw) == nil {
				c.Set(ContextKeyAuthenticated, true)
			}
		}
		c.Next()
	}
}

// RequireAuth rejects requests without a valid token. With no token
// configured every request passes.
func RequireAuth(g *Guard) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !g.Enabled() {
			c.Next()
			return
		}
		err := g.Validate(presented(c))
		switch {
		case err == nil:
			c.Set(ContextKeyAuthenticated, true)
			c.Next()
		case errors.Is(err, ErrNoAPIKey):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API token required. Include 'Authorization: Bearer <token>' header.",
			})
		default:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Invalid API token.",
			})
		}
	}
}

// IsAuthenticated reports whether Middleware or RequireAuth accepted the
// request's token.
func IsAuthenticated(c *gin.Context) bool {
	return c.GetBool(ContextKeyAuthenticated)
}
