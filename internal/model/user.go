package model

import "time"

type User struct {
	ID            uint64    `gorm:"primaryKey" json:"id"`
	Username      string    `gorm:"size:64;uniqueIndex;not null" json:"username"`
	PasswordHash  string    `gorm:"size:128;not null" json:"-"`
	PlatformAdmin bool      `gorm:"default:false" json:"platform_admin"`
	CreatedAt     time.Time `json:"created_at"`
}
