package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shortyai/creditdesk/internal/payment/domain"
	"github.com/shortyai/creditdesk/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, n *domain.Notification) error {
	return db.WithContext(ctx).Create(n).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Notification, error) {
	var items []*domain.Notification
	err := db.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items[0], nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter, after *pagination.Cursor, limit int) ([]*domain.Notification, error) {
	stmt := db.WithContext(ctx).Model(&domain.Notification{})
	if userID := strings.TrimSpace(filter.UserID); userID != "" {
		stmt = stmt.Where("user_id = ?", userID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if after != nil {
		stmt = stmt.Where("(payment_notifications.timestamp < ?) OR (payment_notifications.timestamp = ? AND payment_notifications.id < ?)", after.SortKey, after.SortKey, after.ID)
	}

	var items []*domain.Notification
	err := stmt.
		Order("payment_notifications.timestamp DESC").
		Order("payment_notifications.id DESC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) CountPending(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	stmt := db.WithContext(ctx).Model(&domain.Notification{}).Where("status = ?", domain.StatusPending)
	if userID = strings.TrimSpace(userID); userID != "" {
		stmt = stmt.Where("user_id = ?", userID)
	}
	var count int64
	if err := stmt.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repo) MarkApproved(ctx context.Context, db *gorm.DB, id snowflake.ID, approvedBy string, credits int64, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_notifications
		 SET status = ?, approved_by = ?, approved_at = ?, credits_granted = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusApproved,
		approvedBy,
		at,
		credits,
		at,
		id,
		domain.StatusPending,
	)
	return res.RowsAffected, res.Error
}
