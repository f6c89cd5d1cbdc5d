package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couponhub/backend/internal/auth"
	"github.com/couponhub/backend/internal/models"
)

func init() { gin.SetMode(gin.TestMode) }

func TestJWTSetsPrincipal(t *testing.T) {
	jwtSvc := auth.NewJWTService("secret", 1)
	businessID := uuid.New()
	token, err := jwtSvc.Generate(&models.User{ID: uuid.New(), Role: models.RoleBusiness, BusinessID: &businessID})
	require.NoError(t, err)

	r := gin.New()
	r.GET("/me", JWT(jwtSvc), RequireRole("business"), RequireBusiness(), func(c *gin.Context) {
		id, ok := BusinessID(c)
		require.True(t, ok)
		c.String(http.StatusOK, id.String())
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, businessID.String(), w.Body.String())
}

func TestJWTRejectsMissingHeader(t *testing.T) {
	r := gin.New()
	r.GET("/me", JWT(auth.NewJWTService("secret", 1)), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireRoleForbidden(t *testing.T) {
	r := gin.New()
	r.GET("/admin", func(c *gin.Context) { c.Set(ContextUserRole, "business") }, RequireRole("admin"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdminBusinessOverride(t *testing.T) {
	target := uuid.New()
	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		c.Set(ContextUserID, uuid.New())
		c.Set(ContextUserRole, "admin")
	}, RequireBusiness(), func(c *gin.Context) {
		id, _ := BusinessID(c)
		c.String(http.StatusOK, id.String())
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x?businessId="+target.String(), nil))
	assert.Equal(t, target.String(), w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequireBusinessNeedsOperatorRole(t *testing.T) {
	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		c.Set(ContextUserID, uuid.New())
		c.Set(ContextUserRole, "customer")
		c.Set(ContextBusinessID, uuid.New())
	}, RequireBusiness(), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRateLimit(t *testing.T) {
	l := NewIPRateLimiter(0.001, 2)
	assert.True(t, l.Allow("1.1.1.1"))
	assert.True(t, l.Allow("1.1.1.1"))
	assert.False(t, l.Allow("1.1.1.1"))
	assert.True(t, l.Allow("2.2.2.2"))
}

func TestCORSPreflight(t *testing.T) {
	r := gin.New()
	r.Use(CORS("https://shop.test"))
	r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://shop.test")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://shop.test", w.Header().Get("Access-Control-Allow-Origin"))
}
