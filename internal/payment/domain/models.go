package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shortyai/creditdesk/internal/tier"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
)

func (s Status) Valid() bool {
	return s == StatusPending || s == StatusApproved
}

const MaxOrderNoLength = 64

// Notification is a user's claim that they paid for a tier. It stays pending
// until an admin approves it; approval is terminal.
type Notification struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	UserID         string            `gorm:"not null;index" json:"user_id"`
	UserName       string            `gorm:"not null" json:"user_name"`
	OrderNo        string            `gorm:"type:varchar(64);not null" json:"order_no"`
	Tier           tier.Tier         `gorm:"type:varchar(8);not null" json:"tier"`
	Status         Status            `gorm:"type:varchar(16);not null;index" json:"status"`
	Timestamp      int64             `gorm:"not null;index" json:"timestamp"`
	CreditsGranted int64             `gorm:"not null;default:0" json:"credits_granted"`
	ApprovedBy     *string           `json:"approved_by,omitempty"`
	ApprovedAt     *time.Time        `json:"approved_at,omitempty"`
	Metadata       datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt      time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"not null" json:"updated_at"`
}

func (Notification) TableName() string { return "payment_notifications" }

func (n Notification) IsPending() bool { return n.Status == StatusPending }
