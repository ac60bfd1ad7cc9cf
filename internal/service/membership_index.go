package service

import (
	"context"
	"flagpost/internal/model"
	"flagpost/internal/repository"
	"flagpost/pkg/constraints"

	"gorm.io/gorm"
)

// MembershipIndex answers membership and role queries. It is a pure query
// façade: absence of an organization or a membership yields false/empty,
// never an error. Only storage I/O failures propagate.
type MembershipIndex struct {
	repo repository.MembershipInterface
}

func NewMembershipIndex(repo repository.MembershipInterface) *MembershipIndex {
	return &MembershipIndex{repo: repo}
}

// WithTx rebinds the index to a transaction so that authorization decisions
// taken inside a mutation flow see the flow's own writes.
func (idx *MembershipIndex) WithTx(tx *gorm.DB) *MembershipIndex {
	return &MembershipIndex{repo: idx.repo.WithTx(tx)}
}

func (idx *MembershipIndex) IsMember(ctx context.Context, userID, orgID uint64) (bool, error) {
	m, err := idx.repo.Get(ctx, orgID, userID)
	if err != nil {
		return false, storagef("membership lookup", err)
	}
	return m != nil, nil
}

// IsAdmin is false when the user is not a member at all.
func (idx *MembershipIndex) IsAdmin(ctx context.Context, userID, orgID uint64) (bool, error) {
	m, err := idx.repo.Get(ctx, orgID, userID)
	if err != nil {
		return false, storagef("membership lookup", err)
	}
	return m != nil && m.Role == constraints.RoleAdmin, nil
}

// RoleOf returns the user's role and whether a membership exists.
func (idx *MembershipIndex) RoleOf(ctx context.Context, userID, orgID uint64) (string, bool, error) {
	m, err := idx.repo.Get(ctx, orgID, userID)
	if err != nil {
		return "", false, storagef("membership lookup", err)
	}
	if m == nil {
		return "", false, nil
	}
	return m.Role, true, nil
}

func (idx *MembershipIndex) MembersOf(ctx context.Context, orgID uint64) ([]model.Membership, error) {
	ms, err := idx.repo.ListByOrg(ctx, orgID)
	if err != nil {
		return nil, storagef("membership list", err)
	}
	return ms, nil
}

// OrgsOf returns the ids of every organization the user belongs to.
func (idx *MembershipIndex) OrgsOf(ctx context.Context, userID uint64) ([]uint64, error) {
	ids, err := idx.repo.ListOrgIDsByUser(ctx, userID)
	if err != nil {
		return nil, storagef("membership list", err)
	}
	return ids, nil
}
