package middleware

import (
	"net/http"
	"strings"

	"github.com/TungSeven30/henrii-sub000/internal/config"
	"github.com/gin-gonic/gin"
)

const (
	userIDKey = "userID"
	babyIDKey = "babyID"

	defaultUserID = "default"
	defaultBabyID = "default"
)

func UserIDFromContext(c *gin.Context) string {
	return stringFromContext(c, userIDKey)
}

func BabyIDFromContext(c *gin.Context) string {
	return stringFromContext(c, babyIDKey)
}

func stringFromContext(c *gin.Context, key string) string {
	if v, ok := c.Get(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Auth checks the optional bearer token and pulls the caller and the active
// baby from X-User-ID and X-Baby-ID. With a token configured both headers
// are mandatory; without one they fall back to "default".
func Auth(cfg config.ServerConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(cfg.AuthToken)
		enforceExplicitScope := token != ""
		if token != "" {
			h := strings.TrimSpace(c.GetHeader("Authorization"))
			if !strings.HasPrefix(strings.ToLower(h), "bearer ") || strings.TrimSpace(h[7:]) != token {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				return
			}
		}

		userID := strings.TrimSpace(c.GetHeader("X-User-ID"))
		babyID := strings.TrimSpace(c.GetHeader("X-Baby-ID"))
		if userID == "" {
			if enforceExplicitScope {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "x-user-id required"})
				return
			}
			userID = defaultUserID
		}
		if babyID == "" {
			if enforceExplicitScope {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "x-baby-id required"})
				return
			}
			babyID = defaultBabyID
		}
		c.Set(userIDKey, userID)
		c.Set(babyIDKey, babyID)
		c.Next()
	}
}
