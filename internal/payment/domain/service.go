package domain

import (
	"context"
	"errors"
	"io"

	"github.com/bwmarrin/snowflake"
	"github.com/shortyai/creditdesk/internal/liveevents"
	"github.com/shortyai/creditdesk/pkg/db/pagination"
)

// Viewer is the signed-in user a request acts for.
type Viewer struct {
	UserID string
	Name   string
	Email  string
	Admin  bool
}

type SubmitRequest struct {
	Viewer    Viewer
	OrderNo   string
	Tier      string
	UserAgent string
	ClientIP  string
}

type ListRequest struct {
	Viewer Viewer
	Status string
	pagination.Pagination
}

type ListResponse struct {
	pagination.PageInfo
	PendingCount  int64          `json:"pending_count"`
	Notifications []Notification `json:"notifications"`
}

type ApproveRequest struct {
	Admin Viewer
	ID    snowflake.ID
}

type Receipt struct {
	Filename string
	Body     io.Reader
}

type Service interface {
	Submit(context.Context, SubmitRequest) (Notification, error)
	// List shows admins every notification and users only their own, newest first.
	List(context.Context, ListRequest) (ListResponse, error)
	Get(ctx context.Context, viewer Viewer, id snowflake.ID) (Notification, error)
	// Approve flips the status and grants the tier's credits in one transaction.
	Approve(context.Context, ApproveRequest) (Notification, error)
	Receipt(ctx context.Context, viewer Viewer, id snowflake.ID) (Receipt, error)
	// Watch subscribes to the viewer's feed and returns the first page as a snapshot.
	Watch(ctx context.Context, viewer Viewer) (*liveevents.Subscription, ListResponse, error)
}

var (
	ErrInvalidUser        = errors.New("invalid_user")
	ErrInvalidOrderNo     = errors.New("invalid_order_no")
	ErrOrderNoTooLong     = errors.New("order_no_too_long")
	ErrInvalidTier        = errors.New("invalid_tier")
	ErrInvalidStatus      = errors.New("invalid_status")
	ErrInvalidID          = errors.New("invalid_payment_id")
	ErrNotFound           = errors.New("payment_not_found")
	ErrForbidden          = errors.New("payment_forbidden")
	ErrAlreadyApproved    = errors.New("payment_already_approved")
	ErrNotApproved        = errors.New("payment_not_approved")
	ErrOwnerNotFound      = errors.New("payment_owner_not_found")
	ErrReceiptUnavailable = errors.New("receipt_unavailable")
)
