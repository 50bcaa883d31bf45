package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/horario-api/internal/models"
	appErrors "github.com/noah-isme/horario-api/pkg/errors"
	"github.com/noah-isme/horario-api/pkg/middleware/requestid"
	"github.com/noah-isme/horario-api/pkg/response"
)

// ContextUserKey is the gin context key storing JWT claims.
const ContextUserKey = "currentUser"

// TokenValidator turns a bearer token into claims.
type TokenValidator interface {
	ValidateToken(token string) (*models.JWTClaims, error)
}

// JWT protects routes by requiring a valid access token. The caller becomes the actor of
// the request context so services can attribute their work.
func JWT(tokens TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			c.Abort()
			return
		}

		claims, err := tokens.ValidateToken(strings.TrimSpace(parts[1]))
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextUserKey, claims)
		ctx := models.WithActor(c.Request.Context(), models.Actor{
			UserID:    claims.UserID,
			Role:      claims.Role,
			RequestID: requestid.Value(c),
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
