package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/couponhub/backend/internal/models"
	"github.com/couponhub/backend/pkg/response"
)

// RequireRole returns a middleware that allows only the given roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{})
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		role := c.GetString(ContextUserRole)
		if role == "" {
			response.Unauthorized(c, "missing user context")
			c.Abort()
			return
		}
		if _, ok := allowed[role]; !ok {
			response.Forbidden(c, "insufficient permissions")
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireBusiness rejects principals that are not business operators or admins, or that cannot be
// scoped to a business.
func RequireBusiness() gin.HandlerFunc {
	return func(c *gin.Context) {
		role := models.Role(c.GetString(ContextUserRole))
		if role != models.RoleBusiness && role != models.RoleAdmin {
			response.Forbidden(c, "insufficient permissions")
			c.Abort()
			return
		}
		if _, ok := BusinessID(c); !ok {
			response.Forbidden(c, "business context required")
			c.Abort()
			return
		}
		c.Next()
	}
}
