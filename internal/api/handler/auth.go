package handler

import (
	"strings"

	"studentsupport/backend/internal/apperr"

	"github.com/gin-gonic/gin"
)

// bearerToken reads the Authorization header. Browsers cannot set headers on
// a WebSocket handshake, so ?token= is accepted as well.
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return c.Query("token")
}

// AuthMiddleware verifies the bearer token and stores the resolved user in the
// gin context.
func (h *Handler) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			fail(c, apperr.Unauthenticated("authorization token missing"))
			return
		}

		p, err := h.Auth.Principal(token)
		if err != nil {
			fail(c, err)
			return
		}
		user, err := h.Resolver.Resolve(c.Request.Context(), p)
		if err != nil {
			fail(c, err)
			return
		}

		c.Set(userKey, user)
		c.Next()
	}
}
