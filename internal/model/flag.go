package model

import "time"

// Flag is a named, typed toggle with a default value. OrgID nil means the
// flag lives in its owner's personal namespace; set, it lives in the
// organization's namespace. Key is unique within one scope, never across
// scopes.
type Flag struct {
	ID           uint64    `gorm:"primaryKey" json:"id"`
	Key          string    `gorm:"size:128;index;not null" json:"key"`
	Type         string    `gorm:"size:16;not null" json:"type"`
	DefaultValue string    `gorm:"type:text" json:"default_value"`
	Description  string    `gorm:"size:512" json:"description"`
	OwnerID      uint64    `gorm:"index;not null" json:"owner_id"`
	OrgID        *uint64   `gorm:"index" json:"organization_id,omitempty"`
	Enabled      bool      `gorm:"default:true" json:"enabled"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type ScopeKind int

const (
	ScopePersonal ScopeKind = iota
	ScopeOrganization
)

// Scope is the tagged form of a flag's ownership. Callers switch on Kind
// instead of nil-checking OrgID at every site.
type Scope struct {
	Kind    ScopeKind
	OwnerID uint64
	OrgID   uint64
}

func (f *Flag) Scope() Scope {
	if f.OrgID != nil {
		return Scope{Kind: ScopeOrganization, OrgID: *f.OrgID}
	}
	return Scope{Kind: ScopePersonal, OwnerID: f.OwnerID}
}

// Override is a per-user replacement value for one flag. At most one row per
// (flag, user) pair; writes replace the existing row.
type Override struct {
	ID        uint64    `gorm:"primaryKey" json:"id"`
	FlagID    uint64    `gorm:"uniqueIndex:idx_flag_user;not null" json:"flag_id"`
	UserID    uint64    `gorm:"uniqueIndex:idx_flag_user;not null" json:"user_id"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
