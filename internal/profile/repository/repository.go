package repository

import (
	"context"
	"time"

	"github.com/shortyai/creditdesk/internal/profile/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// InsertIfAbsent reports whether a row was created.
func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, profile *domain.Profile) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "uid"}}, DoNothing: true}).
		Create(profile)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) FindByUID(ctx context.Context, db *gorm.DB, uid string) (*domain.Profile, error) {
	var profile domain.Profile
	err := db.WithContext(ctx).
		Raw(`SELECT uid, name, email, credits, role, is_authorized, created_at, updated_at
		 FROM profiles WHERE uid = ?`, uid).
		Scan(&profile).Error
	if err != nil {
		return nil, err
	}
	if profile.UID == "" {
		return nil, nil
	}
	return &profile, nil
}

func (r *repo) UpdateRole(ctx context.Context, db *gorm.DB, uid string, role domain.Role, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE profiles SET role = ?, updated_at = ? WHERE uid = ?`,
		role, at, uid,
	)
	return res.RowsAffected, res.Error
}
