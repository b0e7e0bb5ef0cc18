package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	profiledomain "github.com/shortyai/creditdesk/internal/profile/domain"
)

type setRoleRequest struct {
	Role string `json:"role" binding:"required,role"`
}

func (s *Server) GetProfile(c *gin.Context) {
	prof, ok := profileFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": prof})
}

func (s *Server) SetProfileRole(c *gin.Context) {
	uid := strings.TrimSpace(c.Param("uid"))
	if uid == "" {
		AbortWithError(c, profiledomain.ErrInvalidUID)
		return
	}

	var req setRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	resp, err := s.profileSvc.SetRole(c.Request.Context(), profiledomain.SetRoleRequest{
		UID:  uid,
		Role: strings.ToLower(strings.TrimSpace(req.Role)),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
