package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/horario-api/internal/models"
	appErrors "github.com/noah-isme/horario-api/pkg/errors"
)

type tokenStub map[string]*models.JWTClaims

func (s tokenStub) ValidateToken(token string) (*models.JWTClaims, error) {
	if claims, ok := s[token]; ok {
		return claims, nil
	}
	return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
}

type observerStub struct {
	path   string
	status int
}

func (o *observerStub) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	o.path, o.status = path, status
}

func newProtectedRouter() (*gin.Engine, *models.Actor) {
	gin.SetMode(gin.TestMode)
	tokens := tokenStub{
		"admin":   {UserID: "u1", Role: models.RoleAdmin},
		"teacher": {UserID: "u2", Role: models.RoleTeacher},
	}
	seen := &models.Actor{}
	r := gin.New()
	r.POST("/generar", JWT(tokens), RBAC("ADMIN", "COORDINATOR"), func(c *gin.Context) {
		*seen, _ = models.ActorFromContext(c.Request.Context())
		_, hasClaims := c.Get(ContextUserKey)
		if !hasClaims {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusNoContent)
	})
	return r, seen
}

func TestJWTAndRBAC(t *testing.T) {
	r, seen := newProtectedRouter()
	cases := []struct {
		header string
		status int
	}{
		{"", http.StatusUnauthorized},
		{"Token admin", http.StatusUnauthorized},
		{"Bearer nope", http.StatusUnauthorized},
		{"Bearer teacher", http.StatusForbidden},
		{"Bearer admin", http.StatusNoContent},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/generar", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, tc.status, w.Code, tc.header)
	}
	assert.Equal(t, "u1", seen.UserID)
	assert.Equal(t, models.RoleAdmin, seen.Role)
}

func TestRequireRolesWithoutActor(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", RequireRoles(models.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	obs := &observerStub{}
	r := gin.New()
	r.Use(Metrics(obs))
	r.GET("/runs/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/runs/abc", nil))
	assert.Equal(t, "/runs/:id", obs.path)
	assert.Equal(t, http.StatusOK, obs.status)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	assert.Equal(t, "unmatched", obs.path)
	assert.Equal(t, http.StatusNotFound, obs.status)
}
