package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	PrincipalKey = "principal"
)

// Middleware validates the Authorization bearer token and stores the
// resulting Principal in the gin context; it does not read a token query
// parameter (the websocket route authenticates in terminal.Pipeline.Attach
// instead), following the teacher's
// internal/auth/middleware.go Authenticate() shape.
type Middleware struct {
	authenticator *Authenticator
}

func NewMiddleware(authenticator *Authenticator) *Middleware {
	return &Middleware{authenticator: authenticator}
}

// RequireAuth is used on every mutating/reading HTTP route.
func (m *Middleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "missing authorization header"})
			c.Abort()
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid authorization header format, expected Bearer token"})
			c.Abort()
			return
		}

		principal, err := m.authenticator.Authenticate(c.Request.Context(), authHeader)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid token"})
			c.Abort()
			return
		}

		c.Set(PrincipalKey, principal)
		c.Next()
	}
}

// FromContext extracts the Principal set by RequireAuth.
func FromContext(c *gin.Context) (*Principal, bool) {
	v, exists := c.Get(PrincipalKey)
	if !exists {
		return nil, false
	}
	p, ok := v.(*Principal)
	return p, ok
}
