package core

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AdminOnly ensures the session identity has the admin role.
func AdminOnly(flow *LoginFlow) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := flow.Current(c.Request.Context(), sessionID(c))
		if !ok {
			respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "login required")
			c.Abort()
			return
		}
		if id.Role != "admin" {
			respondError(c, http.StatusForbidden, "FORBIDDEN", "admin role required")
			c.Abort()
			return
		}
		c.Next()
	}
}
