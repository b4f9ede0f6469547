package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/auth"
	"github.com/Kalplaoffice/kalpla-platform-sub004/pkg/response"
)

const (
	// ContextViewerID is the key for viewer ID in gin context.
	ContextViewerID = "viewer_id"
	// ContextViewerRole is the key for viewer role in gin context.
	ContextViewerRole = "viewer_role"
)

// JWT returns a middleware that validates JWT and sets viewer claims in context.
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
		c.Set(ContextViewerID, claims.ViewerID)
		c.Set(ContextViewerRole, claims.Role)
		c.Next()
	}
}
