package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/campushq/portal-api/internal/models"
	"github.com/campushq/portal-api/internal/service"
	appErrors "github.com/campushq/portal-api/pkg/errors"
	"github.com/campushq/portal-api/pkg/response"
)

// ContextSessionKey is the gin context key storing the reconciled session.
const ContextSessionKey = "currentSession"

// ContextTokenKey stores the raw bearer token for logout.
const ContextTokenKey = "sessionToken"

// Auth protects routes by resolving the bearer token through the session
// gate. The role is re-derived from the role directory on every request, so
// it is never cached stale.
func Auth(sessions *service.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		session, err := sessions.Current(c.Request.Context(), token)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}
		if session == nil {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "no active session"))
			c.Abort()
			return
		}

		c.Set(ContextSessionKey, session)
		c.Set(ContextTokenKey, token)
		c.Next()
	}
}

// RequireRoles gates a route to the given roles. Unassigned sessions are
// authenticated but hold no capability, so they never pass.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(c *gin.Context) {
		value, exists := c.Get(ContextSessionKey)
		if !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		session := value.(*models.Session)
		if _, ok := allowed[session.Role]; !ok {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
