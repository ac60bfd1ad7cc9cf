package service

import (
	"context"
	"flagpost/internal/model"
)

// Decision is the outcome of an authorization check. Denial is a normal
// result, not an error; the error return carries storage failures only.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Guard centralizes the multi-tenant rule: organizational resources are
// admin-gated, personal resources are owner-gated. Every endpoint consults
// it instead of re-deriving the policy.
type Guard struct {
	idx *MembershipIndex
}

func NewGuard(idx *MembershipIndex) *Guard {
	return &Guard{idx: idx}
}

// CanViewFlag allows the owner of a personal flag, or any member of an
// organizational flag's organization.
func (g *Guard) CanViewFlag(ctx context.Context, viewerID uint64, flag *model.Flag) (Decision, error) {
	scope := flag.Scope()
	switch scope.Kind {
	case model.ScopePersonal:
		if scope.OwnerID == viewerID {
			return allow(), nil
		}
		return deny("flag belongs to another user"), nil
	case model.ScopeOrganization:
		member, err := g.idx.IsMember(ctx, viewerID, scope.OrgID)
		if err != nil {
			return Decision{}, err
		}
		if member {
			return allow(), nil
		}
		return deny("not a member of the flag's organization"), nil
	}
	return deny("unknown flag scope"), nil
}

// CanMutateFlag allows the owner of a personal flag, or an admin of an
// organizational flag's organization.
func (g *Guard) CanMutateFlag(ctx context.Context, actorID uint64, flag *model.Flag) (Decision, error) {
	scope := flag.Scope()
	switch scope.Kind {
	case model.ScopePersonal:
		if scope.OwnerID == actorID {
			return allow(), nil
		}
		return deny("flag belongs to another user"), nil
	case model.ScopeOrganization:
		admin, err := g.idx.IsAdmin(ctx, actorID, scope.OrgID)
		if err != nil {
			return Decision{}, err
		}
		if admin {
			return allow(), nil
		}
		return deny("requires organization admin"), nil
	}
	return deny("unknown flag scope"), nil
}

// CanCreateOverrideFor allows self-service overrides for any flag the actor
// could hold, and admin-created overrides on behalf of org members. For
// personal flags only the owner may override, and only for themself.
func (g *Guard) CanCreateOverrideFor(ctx context.Context, actorID, targetUserID uint64, flag *model.Flag) (Decision, error) {
	scope := flag.Scope()
	switch scope.Kind {
	case model.ScopePersonal:
		if actorID == targetUserID && scope.OwnerID == actorID {
			return allow(), nil
		}
		return deny("personal flags accept owner self-overrides only"), nil
	case model.ScopeOrganization:
		if actorID == targetUserID {
			member, err := g.idx.IsMember(ctx, actorID, scope.OrgID)
			if err != nil {
				return Decision{}, err
			}
			if member {
				return allow(), nil
			}
			return deny("not a member of the flag's organization"), nil
		}
		admin, err := g.idx.IsAdmin(ctx, actorID, scope.OrgID)
		if err != nil {
			return Decision{}, err
		}
		if admin {
			return allow(), nil
		}
		return deny("overriding for another user requires organization admin"), nil
	}
	return deny("unknown flag scope"), nil
}

// CanManageMembership allows organization admins only.
func (g *Guard) CanManageMembership(ctx context.Context, actorID, orgID uint64) (Decision, error) {
	admin, err := g.idx.IsAdmin(ctx, actorID, orgID)
	if err != nil {
		return Decision{}, err
	}
	if admin {
		return allow(), nil
	}
	return deny("requires organization admin"), nil
}
