package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/gptload-sync/pkg/api"
)

// Auth checks for a valid Bearer token in the Authorization header. With no keys
// configured every request is let through.
func Auth(keys []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(keys) == 0 {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			_ = c.Error(api.Unauthorized("Missing Authorization header"))
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			_ = c.Error(api.Unauthorized("Invalid Authorization header format"))
			c.Abort()
			return
		}

		token := parts[1]
		for _, k := range keys {
			if subtle.ConstantTimeCompare([]byte(k), []byte(token)) == 1 {
				c.Next()
				return
			}
		}

		_ = c.Error(api.Unauthorized("Invalid API Key"))
		c.Abort()
	}
}
