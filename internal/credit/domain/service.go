package domain

import (
	"context"
	"errors"

	"github.com/shortyai/creditdesk/pkg/db/pagination"
	"gorm.io/gorm"
)

type GrantRequest struct {
	UserID     string
	Amount     int64
	SourceType string
	SourceID   string
	Metadata   map[string]any
}

type ConsumeRequest struct {
	UserID string
	RunID  string
}

type ConsumeResult struct {
	Entry    Entry `json:"entry"`
	Replayed bool  `json:"replayed"`
}

type ListEntriesRequest struct {
	UserID string
	pagination.Pagination
}

type ListEntriesResponse struct {
	pagination.PageInfo
	Entries []Entry `json:"entries"`
}

type Service interface {
	// Grant must run inside the caller's transaction so it commits with the change that earned it.
	Grant(ctx context.Context, tx *gorm.DB, req GrantRequest) (Entry, error)
	// Consume spends one credit for a generation run.
	Consume(ctx context.Context, req ConsumeRequest) (ConsumeResult, error)
	ListEntries(ctx context.Context, req ListEntriesRequest) (ListEntriesResponse, error)
}

var (
	ErrInvalidUser         = errors.New("invalid_user")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidSource       = errors.New("invalid_source")
	ErrInvalidRunID        = errors.New("invalid_run_id")
	ErrInsufficientCredits = errors.New("insufficient_credits")
	ErrDuplicateEntry      = errors.New("duplicate_credit_entry")
	ErrProfileNotFound     = errors.New("profile_not_found")
)
