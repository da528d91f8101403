package auth

import (
	"net/http"
	"strings"
	"time"

	"channel-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

const bearerScheme = "bearer"

// RequireAccessToken verifies the bearer access token and puts the caller
// identity on the request context. Authorization is left to internal/rbac.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			unauthorized(c, "missing bearer token")
			return
		}

		claims, err := m.Verify(tok, TokenTypeAccess, time.Now())
		if err != nil {
			logger.FromGin(c).DebugContext(c.Request.Context(), "bearer token rejected", "err", err)
			unauthorized(c, "invalid token")
			return
		}

		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), claims.UserID, claims.ClientID, claims.Role))
		c.Set("user_id", claims.UserID)
		c.Set("client_id", claims.ClientID)
		c.Set("role", claims.Role)
		c.Next()
	}
}

// bearerToken extracts the token from "Bearer <token>"; the scheme is
// case-insensitive.
func bearerToken(header string) (string, bool) {
	scheme, tok, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, bearerScheme) {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg, "code": "UNAUTHORIZED"})
}
