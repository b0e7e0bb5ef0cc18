package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	creditdomain "github.com/shortyai/creditdesk/internal/credit/domain"
	"github.com/shortyai/creditdesk/pkg/db/pagination"
)

type consumeCreditRequest struct {
	RunID string `json:"run_id" binding:"required,max=128"`
}

func (s *Server) ListCreditEntries(c *gin.Context) {
	userID := strings.TrimSpace(c.GetString(contextUserIDKey))
	if userID == "" {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.creditSvc.ListEntries(c.Request.Context(), creditdomain.ListEntriesRequest{
		UserID:     userID,
		Pagination: query,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ConsumeCredit spends one credit for a generation run. Replays of the same
// run id answer 200 with the original entry.
func (s *Server) ConsumeCredit(c *gin.Context) {
	userID := strings.TrimSpace(c.GetString(contextUserIDKey))
	if userID == "" {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req consumeCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	resp, err := s.creditSvc.Consume(c.Request.Context(), creditdomain.ConsumeRequest{
		UserID: userID,
		RunID:  strings.TrimSpace(req.RunID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if resp.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"data": resp})
}
