package domain

import "time"

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

const (
	DefaultName    = "Kullanıcı"
	InitialCredits = int64(1)
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

type Profile struct {
	UID          string    `gorm:"column:uid;primaryKey" json:"uid"`
	Name         string    `gorm:"not null" json:"name"`
	Email        string    `gorm:"not null" json:"email"`
	Credits      int64     `gorm:"not null;default:0" json:"credits"`
	Role         Role      `gorm:"type:varchar(16);not null;default:'user'" json:"role"`
	IsAuthorized bool      `gorm:"not null;default:false" json:"is_authorized"`
	CreatedAt    time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time `gorm:"not null" json:"updated_at"`
}

func (Profile) TableName() string { return "profiles" }

func (p Profile) IsAdmin() bool {
	return p.Role == RoleAdmin
}
