package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/shortyai/creditdesk/internal/payment/domain"
	"github.com/shortyai/creditdesk/pkg/db/pagination"
)

type submitPaymentRequest struct {
	OrderNo string `json:"order_no" binding:"required,orderno"`
	Tier    string `json:"tier" binding:"required,tier"`
}

type listPaymentsQuery struct {
	Status string `form:"status"`
	pagination.Pagination
}

func (s *Server) SubmitPayment(c *gin.Context) {
	viewer, ok := viewerFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req submitPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}
	if !s.allowSubmit(c) {
		return
	}

	resp, err := s.paymentSvc.Submit(c.Request.Context(), paymentdomain.SubmitRequest{
		Viewer:    viewer,
		OrderNo:   strings.TrimSpace(req.OrderNo),
		Tier:      strings.TrimSpace(req.Tier),
		UserAgent: c.Request.UserAgent(),
		ClientIP:  c.ClientIP(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListPayments(c *gin.Context) {
	viewer, ok := viewerFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var query listPaymentsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.paymentSvc.List(c.Request.Context(), paymentdomain.ListRequest{
		Viewer:     viewer,
		Status:     strings.TrimSpace(query.Status),
		Pagination: query.Pagination,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetPayment(c *gin.Context) {
	viewer, ok := viewerFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	id, err := parsePaymentID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.paymentSvc.Get(c.Request.Context(), viewer, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DownloadReceipt(c *gin.Context) {
	viewer, ok := viewerFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	id, err := parsePaymentID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	receipt, err := s.paymentSvc.Receipt(c.Request.Context(), viewer, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.DataFromReader(http.StatusOK, -1, "application/pdf", receipt.Body, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", receipt.Filename),
		"Cache-Control":       "no-store",
	})
}

// ApprovePayment is gated by casbin on the route; the service checks the
// admin flag again so the rule holds for every caller.
func (s *Server) ApprovePayment(c *gin.Context) {
	viewer, ok := viewerFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	id, err := parsePaymentID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.paymentSvc.Approve(c.Request.Context(), paymentdomain.ApproveRequest{
		Admin: viewer,
		ID:    id,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
