package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/wes-io-live/live-relay/pkg/jwt"
	"github.com/weiawesome/wes-io-live/live-relay/pkg/response"
)

const (
	UserIDKey     = "user_id"
	UsernameKey   = "username"
	RolesKey      = "roles"
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "
)

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	ValidateToken(token string) (*jwt.Claims, error)
}

// AuthMiddleware validates JWT tokens locally with a shared secret.
type AuthMiddleware struct {
	validator TokenValidator
}

// NewAuthMiddleware creates a new auth middleware. A nil validator rejects
// every request, which keeps admin routes closed when no secret is configured.
func NewAuthMiddleware(validator TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: validator}
}

// RequireRole returns a Gin middleware that validates the bearer token and
// requires the given role.
func (m *AuthMiddleware) RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.validator == nil {
			response.Abort(c, http.StatusServiceUnavailable, "UNAVAILABLE", "admin api is disabled")
			return
		}

		authHeader := c.GetHeader(AuthHeaderKey)
		if authHeader == "" {
			response.Abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing authorization header")
			return
		}

		if !strings.HasPrefix(authHeader, BearerPrefix) {
			response.Abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid authorization format")
			return
		}

		claims, err := m.validator.ValidateToken(strings.TrimPrefix(authHeader, BearerPrefix))
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, jwt.ErrExpiredToken) {
				msg = "token has expired"
			}
			response.Abort(c, http.StatusUnauthorized, "UNAUTHORIZED", msg)
			return
		}

		if !claims.HasRole(role) {
			response.Abort(c, http.StatusForbidden, "FORBIDDEN", "missing role "+role)
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(UsernameKey, claims.Username)
		c.Set(RolesKey, claims.Roles)

		c.Next()
	}
}

// GetUserID extracts user ID from Gin context.
func GetUserID(c *gin.Context) string {
	if id, exists := c.Get(UserIDKey); exists {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}
