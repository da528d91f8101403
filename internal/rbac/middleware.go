package rbac

import (
	"net/http"

	"channel-platform/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireClient enforces the multi-tenant invariant for tenant-only routes:
// client_id must exist in context. Admins pass through without one.
// A missing tenant is a bad request, not an authentication failure.
func RequireClient() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, _ := auth.Role(c.Request.Context())
		if IsAdmin(role) {
			c.Next()
			return
		}
		cid, err := auth.ClientID(c.Request.Context())
		if err != nil || cid == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "client_id required", "code": "MISSING_TENANT"})
			return
		}
		c.Next()
	}
}

// RequireAnyRole allows access if the caller has any of the provided roles.
// super_admin bypasses all checks.
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required", "code": "UNAUTHORIZED"})
			return
		}

		if IsSuperAdmin(role) {
			c.Next()
			return
		}

		if _, ok := allowedSet[role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "code": "FORBIDDEN"})
			return
		}
		c.Next()
	}
}

func RequireAdmin() gin.HandlerFunc {
	return RequireAnyRole(RoleAdmin)
}
