package server

import (
	"github.com/gin-gonic/gin"
	"github.com/shortyai/creditdesk/internal/authorization"
)

// RequireAction checks the signed-in profile's role against the casbin policy.
// It must run after AuthRequired.
func (s *Server) RequireAction(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		prof, ok := profileFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if s.authzSvc == nil {
			AbortWithError(c, ErrForbidden)
			return
		}

		err := s.authzSvc.Authorize(c.Request.Context(), authorization.Actor{
			UserID: prof.UID,
			Role:   string(prof.Role),
		}, object, action)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}
