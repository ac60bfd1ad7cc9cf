package v1

import "time"

type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
	ChangeToggled ChangeKind = "toggled"
	// ChangePing is a heartbeat marker, never persisted or audited.
	ChangePing ChangeKind = "ping"
)

type ScopeType string

const (
	ScopePersonal     ScopeType = "personal"
	ScopeOrganization ScopeType = "organization"
)

// Scope identifies who a change is visible to: the owning user for personal
// flags, the organization's members for organizational flags.
type Scope struct {
	Type           ScopeType `json:"type"`
	OwnerID        uint64    `json:"owner_id,omitempty"`
	OrganizationID uint64    `json:"organization_id,omitempty"`
}

// ChangeEvent is the wire contract delivered to live subscribers. Events are
// ephemeral: there is no history, and a subscriber that connects after an
// event was published never receives it.
type ChangeEvent struct {
	Kind         ChangeKind `json:"kind"`
	FlagID       uint64     `json:"flag_id"`
	Key          string     `json:"key"`
	Value        string     `json:"value"`
	IsOverridden bool       `json:"is_overridden"`
	Scope        Scope      `json:"scope"`
	// TargetUserID narrows delivery to a single user. Set for override
	// changes, which affect nobody else's resolved view.
	TargetUserID uint64    `json:"target_user_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}
