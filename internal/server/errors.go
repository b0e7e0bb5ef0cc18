package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/shortyai/creditdesk/internal/authorization"
	creditdomain "github.com/shortyai/creditdesk/internal/credit/domain"
	identitydomain "github.com/shortyai/creditdesk/internal/identity/domain"
	"github.com/shortyai/creditdesk/internal/liveevents"
	paymentdomain "github.com/shortyai/creditdesk/internal/payment/domain"
	profiledomain "github.com/shortyai/creditdesk/internal/profile/domain"
	"github.com/shortyai/creditdesk/internal/tier"
	"github.com/shortyai/creditdesk/pkg/db/pagination"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

// bindError turns validator failures into field errors; anything else is a malformed body.
func bindError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return invalidRequestError()
	}
	out := &ValidationErrors{}
	for _, fe := range fieldErrs {
		field := jsonFieldName(fe)
		out.Errors = append(out.Errors, ValidationError{
			Field:   field,
			Code:    fe.Tag(),
			Message: validationTagMessage(field, fe.Tag()),
		})
	}
	return out
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, identitydomain.ErrInvalidCredentials):
		// provider detail stays in the logs
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "sign_in_failed",
		}
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, identitydomain.ErrInvalidSession),
		errors.Is(err, identitydomain.ErrSessionExpired),
		errors.Is(err, identitydomain.ErrSessionRevoked):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden),
		errors.Is(err, paymentdomain.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, paymentdomain.ErrAlreadyApproved),
		errors.Is(err, paymentdomain.ErrNotApproved),
		errors.Is(err, creditdomain.ErrDuplicateEntry):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: conflictMessage(err),
		}
	case errors.Is(err, creditdomain.ErrInsufficientCredits):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "insufficient_credits",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, liveevents.ErrHubUnavailable),
		errors.Is(err, paymentdomain.ErrReceiptUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func conflictMessage(err error) string {
	switch {
	case errors.Is(err, paymentdomain.ErrAlreadyApproved):
		return "already_approved"
	case errors.Is(err, paymentdomain.ErrNotApproved):
		return "not_approved"
	default:
		return "conflict"
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, identitydomain.ErrInvalidRequest),
		errors.Is(err, pagination.ErrInvalidPageToken),
		errors.Is(err, tier.ErrUnknownTier),
		errors.Is(err, paymentdomain.ErrInvalidUser),
		errors.Is(err, paymentdomain.ErrInvalidOrderNo),
		errors.Is(err, paymentdomain.ErrOrderNoTooLong),
		errors.Is(err, paymentdomain.ErrInvalidTier),
		errors.Is(err, paymentdomain.ErrInvalidStatus),
		errors.Is(err, paymentdomain.ErrInvalidID),
		errors.Is(err, creditdomain.ErrInvalidUser),
		errors.Is(err, creditdomain.ErrInvalidAmount),
		errors.Is(err, creditdomain.ErrInvalidSource),
		errors.Is(err, creditdomain.ErrInvalidRunID),
		errors.Is(err, profiledomain.ErrInvalidUID),
		errors.Is(err, profiledomain.ErrInvalidRole):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, identitydomain.ErrProviderNotFound),
		errors.Is(err, paymentdomain.ErrNotFound),
		errors.Is(err, paymentdomain.ErrOwnerNotFound),
		errors.Is(err, profiledomain.ErrNotFound),
		errors.Is(err, creditdomain.ErrProfileNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, identitydomain.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, paymentdomain.ErrOrderNoTooLong):
		return "invalid_order_no"
	default:
		return err.Error()
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "invalid_tier":
		return "unknown tier"
	case "invalid_order_no":
		return "order number is required and at most 64 characters"
	case "invalid_page_token":
		return "invalid page token"
	default:
		return "invalid value"
	}
}

// classifyErrorForLog feeds the request logger; it mirrors mapError without building payloads.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	status, payload := mapError(err)
	code := payload.Message
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	switch {
	case status >= http.StatusInternalServerError:
		return "server", payload.Type
	default:
		return "client", code
	}
}
