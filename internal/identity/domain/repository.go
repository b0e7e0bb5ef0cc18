package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type SessionRepository interface {
	Create(ctx context.Context, db *gorm.DB, session *Session) error
	FindByTokenHash(ctx context.Context, db *gorm.DB, tokenHash string) (*Session, error)
	Touch(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
	Revoke(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (int64, error)
	// PurgeStale deletes up to limit sessions that expired or were revoked before cutoff.
	PurgeStale(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) (int64, error)
}
