package model

import "time"

// AuditRecord is append-only: rows are never updated or deleted, and they
// outlive the flag they reference. FlagID is 0 for membership records.
type AuditRecord struct {
	ID        uint64    `gorm:"primaryKey" json:"id"`
	FlagID    uint64    `gorm:"index" json:"flag_id"`
	ActorID   uint64    `gorm:"index" json:"actor_id"`
	Kind      string    `gorm:"size:32;not null" json:"kind"`
	Message   string    `gorm:"size:512" json:"message"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}
