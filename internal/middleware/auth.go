package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"plantscan/api/internal/service"
)

const principalKey = "principal"

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (service.Principal, error)
}

// Auth requires a valid bearer token. Every failure answers the same 401 so
// callers cannot tell a bad signature from an expired or revoked token.
func Auth(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			abortUnauthorized(c)
			return
		}

		tokenStr := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if tokenStr == "" {
			abortUnauthorized(c)
			return
		}

		principal, err := auth.Authenticate(c.Request.Context(), tokenStr)
		if err != nil {
			abortUnauthorized(c)
			return
		}

		c.Set(principalKey, principal)
		c.Next()
	}
}

// CurrentPrincipal returns the caller stored by Auth.
func CurrentPrincipal(c *gin.Context) (service.Principal, bool) {
	val, ok := c.Get(principalKey)
	if !ok {
		return service.Principal{}, false
	}
	principal, ok := val.(service.Principal)
	return principal, ok
}

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": service.ErrUnauthenticated.Message})
}
