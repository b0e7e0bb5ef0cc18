package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shortyai/creditdesk/internal/identity/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.SessionRepository {
	return &repo{}
}

func (r *repo) Create(ctx context.Context, db *gorm.DB, session *domain.Session) error {
	return db.WithContext(ctx).Create(session).Error
}

func (r *repo) FindByTokenHash(ctx context.Context, db *gorm.DB, tokenHash string) (*domain.Session, error) {
	var items []*domain.Session
	err := db.WithContext(ctx).
		Where("token_hash = ?", tokenHash).
		Limit(1).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, domain.ErrSessionNotFound
	}
	return items[0], nil
}

func (r *repo) Touch(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE sessions SET last_seen_at = ? WHERE id = ?`,
		at,
		id,
	).Error
}

func (r *repo) Revoke(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE sessions SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`,
		at,
		id,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) PurgeStale(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) (int64, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("expires_at < ? OR revoked_at < ?", cutoff, cutoff).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).Where("id IN ?", ids).Delete(&domain.Session{})
	return res.RowsAffected, res.Error
}
