package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/horario-api/internal/models"
	appErrors "github.com/noah-isme/horario-api/pkg/errors"
	"github.com/noah-isme/horario-api/pkg/response"
)

// RequireRoles admits only actors holding one of roles. It must run after JWT.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		actor, ok := models.ActorFromContext(c.Request.Context())
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[actor.Role]; !ok {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RBAC is RequireRoles for role names read from configuration.
func RBAC(names ...string) gin.HandlerFunc {
	roles := make([]models.UserRole, 0, len(names))
	for _, n := range names {
		roles = append(roles, models.UserRole(n))
	}
	return RequireRoles(roles...)
}
