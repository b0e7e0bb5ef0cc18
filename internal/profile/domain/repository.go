package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	InsertIfAbsent(ctx context.Context, db *gorm.DB, profile *Profile) (bool, error)
	FindByUID(ctx context.Context, db *gorm.DB, uid string) (*Profile, error)
	UpdateRole(ctx context.Context, db *gorm.DB, uid string, role Role, at time.Time) (int64, error)
}
