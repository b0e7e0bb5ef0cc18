package domain

import (
	"context"
	"time"

	"github.com/shortyai/creditdesk/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	// AdjustBalance applies delta unless the result would be negative; it returns rows affected.
	AdjustBalance(ctx context.Context, db *gorm.DB, userID string, delta int64, at time.Time) (int64, error)
	Balance(ctx context.Context, db *gorm.DB, userID string) (int64, bool, error)
	InsertEntry(ctx context.Context, db *gorm.DB, entry *Entry) (bool, error)
	FindBySource(ctx context.Context, db *gorm.DB, sourceType, sourceID string) (*Entry, error)
	ListByUser(ctx context.Context, db *gorm.DB, userID string, after *pagination.Cursor, limit int) ([]*Entry, error)
}
