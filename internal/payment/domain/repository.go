package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shortyai/creditdesk/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListFilter struct {
	// UserID restricts the list to one owner; empty means every user.
	UserID string
	Status Status
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, n *Notification) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Notification, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter, after *pagination.Cursor, limit int) ([]*Notification, error)
	CountPending(ctx context.Context, db *gorm.DB, userID string) (int64, error)
	// MarkApproved flips a pending notification; zero rows means it was not pending.
	MarkApproved(ctx context.Context, db *gorm.DB, id snowflake.ID, approvedBy string, credits int64, at time.Time) (int64, error)
}
