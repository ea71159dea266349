package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/pccr10001/intercom/internal/auth"
	"github.com/pccr10001/intercom/internal/model"
	"github.com/pccr10001/intercom/pkg/logger"
)

func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		// Browsers cannot set headers on a websocket handshake.
		if t := c.Query("token"); t != "" {
			return t, true
		}
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", false
	}
	return parts[1], true
}

func AuthMiddleware(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			logger.Log.Warn("Auth Middleware: Missing or malformed Authorization header")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header format must be Bearer {token}"})
			return
		}

		claims, err := auth.ValidateToken(token)
		if err != nil {
			logger.Log.Warnf("Auth Middleware: Token validation failed: %v", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token: " + err.Error()})
			return
		}

		var user model.User
		if err := db.First(&user, claims.UserID).Error; err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "User not found"})
			return
		}

		c.Set("user", &user)
		c.Set("userID", claims.UserID)
		c.Set("role", user.Role)
		c.Set("username", user.Username)

		c.Next()
	}
}

// RequireRole rejects callers whose role ranks below min. It must run after
// AuthMiddleware.
func RequireRole(min string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString("role")
		if !model.RoleAtLeast(role, min) {
			logger.Log.Warnf("Denied %s %s to role %q (needs %s)", c.Request.Method, c.FullPath(), role, min)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": min + " access required"})
			return
		}
		c.Next()
	}
}
