package constraints

// Declared flag value types. Values are stored and resolved as opaque text;
// the type tag tells callers how to interpret them.
const (
	TypeBoolean = "boolean"
	TypeString  = "string"
	TypeNumber  = "number"
	TypeJSON    = "json"
)

func ValidFlagType(t string) bool {
	switch t {
	case TypeBoolean, TypeString, TypeNumber, TypeJSON:
		return true
	}
	return false
}

// Organization roles.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

func ValidRole(r string) bool {
	return r == RoleAdmin || r == RoleMember
}

// Audit record kinds.
const (
	AuditCreated         = "created"
	AuditUpdated         = "updated"
	AuditDeleted         = "deleted"
	AuditToggled         = "toggled"
	AuditOverrideCreated = "override_created"
	AuditOverrideDeleted = "override_deleted"
	AuditMemberAdded     = "member_added"
	AuditMemberRemoved   = "member_removed"
	AuditRoleChanged     = "role_changed"
)
