package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"plantscan/api/internal/service"
)

// RequireSelf only lets callers act on their own :param resource.
func RequireSelf(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := CurrentPrincipal(c)
		if !ok {
			abortUnauthorized(c)
			return
		}

		if c.Param(param) != principal.UserID {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": service.ErrForbidden.Message})
			return
		}

		c.Next()
	}
}
