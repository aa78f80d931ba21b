package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const accountIDContextKey = "auth_account_id"

// Middleware validates the caller's API key and stores the resolved account
// id in the context. All inbox queries are scoped by that id.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := s.extractKey(c)
		if apiKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		accountID, err := s.ResolveKey(c.Request.Context(), apiKey)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			return
		}
		c.Set(accountIDContextKey, accountID)
		c.Next()
	}
}

// AccountIDFromContext retrieves the authenticated account id from the gin context.
func AccountIDFromContext(c *gin.Context) (string, bool) {
	val, ok := c.Get(accountIDContextKey)
	if !ok {
		return "", false
	}
	accountID, ok := val.(string)
	return accountID, ok
}

func (s *Service) extractKey(c *gin.Context) string {
	authHeader := c.GetHeader(s.headerName)
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return c.GetHeader("X-API-Key")
}
