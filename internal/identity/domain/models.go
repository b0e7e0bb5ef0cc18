// Package domain contains core types for sign-in and session tracking.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
)

const (
	ProviderGoogle   = "google"
	ProviderFirebase = "firebase"
)

// Session is a persisted sign-in. Only the sha256 of the cookie token is stored.
type Session struct {
	ID          snowflake.ID   `gorm:"primaryKey" json:"id"`
	UserID      string         `gorm:"column:user_id;not null;index" json:"user_id"`
	Provider    string         `gorm:"column:provider;type:varchar(32);not null" json:"provider"`
	DisplayName string         `gorm:"column:display_name;type:text" json:"display_name"`
	Email       string         `gorm:"column:email;type:text" json:"email"`
	TokenHash   string         `gorm:"column:token_hash;type:varchar(64);not null;uniqueIndex" json:"-"`
	Scopes      pq.StringArray `gorm:"column:scopes;type:text" json:"scopes"`
	UserAgent   string         `gorm:"column:user_agent;type:text" json:"-"`
	IPAddress   string         `gorm:"column:ip_address;type:text" json:"-"`
	ExpiresAt   time.Time      `gorm:"column:expires_at;not null;index" json:"expires_at"`
	RevokedAt   *time.Time     `gorm:"column:revoked_at" json:"revoked_at,omitempty"`
	CreatedAt   time.Time      `gorm:"column:created_at;not null" json:"created_at"`
	LastSeenAt  time.Time      `gorm:"column:last_seen_at;not null" json:"last_seen_at"`
}

func (Session) TableName() string { return "sessions" }

// Identity is what a provider vouches for after verification.
type Identity struct {
	UID      string
	Email    string
	Name     string
	Provider string
	Scopes   []string
}

type ProviderInfo struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	// Redirect providers start at /login/:name; token providers post an ID token.
	Flow string `json:"flow"`
}

const (
	FlowRedirect = "redirect"
	FlowIDToken  = "id_token"
)
