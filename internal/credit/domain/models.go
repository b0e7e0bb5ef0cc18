package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Kind string

const (
	KindGrant   Kind = "grant"
	KindConsume Kind = "consume"
)

const (
	SourcePayment    = "payment"
	SourceGeneration = "generation"
)

// Entry is an append-only record of one balance change. (SourceType, SourceID)
// is unique, which makes every grant and consume idempotent.
type Entry struct {
	ID            snowflake.ID      `gorm:"primaryKey" json:"id"`
	UserID        string            `gorm:"not null;index" json:"user_id"`
	Kind          Kind              `gorm:"type:varchar(16);not null" json:"kind"`
	Amount        int64             `gorm:"not null" json:"amount"`
	BalanceBefore int64             `gorm:"not null" json:"balance_before"`
	BalanceAfter  int64             `gorm:"not null" json:"balance_after"`
	SourceType    string            `gorm:"type:varchar(32);not null;uniqueIndex:ux_credit_entries_source" json:"source_type"`
	SourceID      string            `gorm:"type:varchar(128);not null;uniqueIndex:ux_credit_entries_source" json:"source_id"`
	Metadata      datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt     time.Time         `gorm:"not null" json:"created_at"`
}

func (Entry) TableName() string { return "credit_entries" }
