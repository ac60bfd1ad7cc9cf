package resp

import "time"

// FlagItem is a flag joined with its effective value for the requesting
// viewer.
type FlagItem struct {
	ID             uint64    `json:"id"`
	Key            string    `json:"key"`
	Type           string    `json:"type"`
	DefaultValue   string    `json:"default_value"`
	Description    string    `json:"description,omitempty"`
	OwnerID        uint64    `json:"owner_id"`
	OrganizationID *uint64   `json:"organization_id,omitempty"`
	Enabled        bool      `json:"enabled"`
	Value          string    `json:"value"`
	IsOverridden   bool      `json:"is_overridden"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type AuditLogItem struct {
	ID        uint64    `json:"id"`
	FlagID    uint64    `json:"flag_id"`
	ActorID   uint64    `json:"actor_id"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

type OverrideItem struct {
	ID        uint64    `json:"id"`
	FlagID    uint64    `json:"flag_id"`
	UserID    uint64    `json:"user_id"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SnapshotResponse is the full resolved view a subscriber pulls on
// (re)connect instead of replaying event history.
type SnapshotResponse struct {
	Flags map[string]EffectiveItem `json:"flags"`
}

type EffectiveItem struct {
	FlagID       uint64 `json:"flag_id"`
	Value        string `json:"value"`
	IsOverridden bool   `json:"is_overridden"`
}
