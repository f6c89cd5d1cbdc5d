package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/couponhub/backend/internal/auth"
	"github.com/couponhub/backend/internal/models"
	"github.com/couponhub/backend/pkg/response"
)

const (
	// ContextUserID is the key for user ID in gin context.
	ContextUserID = "user_id"
	// ContextUserRole is the key for user role in gin context.
	ContextUserRole = "user_role"
	// ContextBusinessID is the key for the principal's business ID in gin context.
	ContextBusinessID = "business_id"
)

// Principal is the authenticated caller.
type Principal struct {
	UserID     uuid.UUID
	Role       models.Role
	BusinessID uuid.UUID // uuid.Nil for admins without a business
}

// JWT returns a middleware that validates the bearer token and stores the principal in context.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		claims, err := jwtService.Validate(parts[1])
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserRole, claims.Role)
		if claims.BusinessID != nil {
			c.Set(ContextBusinessID, *claims.BusinessID)
		}
		c.Next()
	}
}

// PrincipalFrom returns the principal set by JWT.
func PrincipalFrom(c *gin.Context) (Principal, bool) {
	userID, ok := c.Get(ContextUserID)
	if !ok {
		return Principal{}, false
	}
	p := Principal{UserID: userID.(uuid.UUID), Role: models.Role(c.GetString(ContextUserRole))}
	if v, ok := c.Get(ContextBusinessID); ok {
		p.BusinessID = v.(uuid.UUID)
	}
	return p, true
}

// BusinessID returns the acting business. Admins may act for any business via ?businessId=.
func BusinessID(c *gin.Context) (uuid.UUID, bool) {
	p, ok := PrincipalFrom(c)
	if !ok {
		return uuid.Nil, false
	}
	if p.Role == models.RoleAdmin {
		if id, err := uuid.Parse(c.Query("businessId")); err == nil {
			return id, true
		}
	}
	return p.BusinessID, p.BusinessID != uuid.Nil
}
