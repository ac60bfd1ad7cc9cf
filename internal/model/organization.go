package model

import "time"

type Organization struct {
	ID        uint64    `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:128;not null" json:"name"`
	CreatedBy uint64    `gorm:"index" json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// Membership relates a user to an organization with a role. Unique per
// (organization, user) pair.
type Membership struct {
	ID        uint64    `gorm:"primaryKey" json:"id"`
	OrgID     uint64    `gorm:"uniqueIndex:idx_org_user;not null" json:"organization_id"`
	UserID    uint64    `gorm:"uniqueIndex:idx_org_user;not null" json:"user_id"`
	Role      string    `gorm:"size:16;not null" json:"role"`
	CreatedAt time.Time `json:"created_at"`
}
