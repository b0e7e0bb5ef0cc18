package repository

import (
	"context"
	"time"

	"github.com/shortyai/creditdesk/internal/credit/domain"
	"github.com/shortyai/creditdesk/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) AdjustBalance(ctx context.Context, db *gorm.DB, userID string, delta int64, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE profiles SET credits = credits + ?, updated_at = ?
		 WHERE uid = ? AND credits + ? >= 0`,
		delta, at, userID, delta,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) Balance(ctx context.Context, db *gorm.DB, userID string) (int64, bool, error) {
	var rows []int64
	err := db.WithContext(ctx).
		Raw(`SELECT credits FROM profiles WHERE uid = ?`, userID).
		Scan(&rows).Error
	if err != nil {
		return 0, false, err
	}
	if len(rows) == 0 {
		return 0, false, nil
	}
	return rows[0], true, nil
}

func (r *repo) InsertEntry(ctx context.Context, db *gorm.DB, entry *domain.Entry) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source_type"}, {Name: "source_id"}},
			DoNothing: true,
		}).
		Create(entry)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) FindBySource(ctx context.Context, db *gorm.DB, sourceType, sourceID string) (*domain.Entry, error) {
	var entries []*domain.Entry
	err := db.WithContext(ctx).
		Where("source_type = ? AND source_id = ?", sourceType, sourceID).
		Limit(1).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return entries[0], nil
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID string, after *pagination.Cursor, limit int) ([]*domain.Entry, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.Entry{}).
		Where("user_id = ?", userID)
	if after != nil {
		stmt = stmt.Where("id < ?", after.ID)
	}

	var entries []*domain.Entry
	err := stmt.
		Order("id desc").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
