package service

import (
	"context"
	"fmt"
	"strings"

	"flagpost/internal/model"
	"flagpost/internal/repository"
	"flagpost/pkg/constraints"

	"gorm.io/gorm"
)

// OrgService manages the organization and membership lifecycle. Every
// mutation is admin-gated through the guard; the creator of an organization
// becomes its sole admin in the same transaction that creates it.
type OrgService struct {
	db      *gorm.DB
	orgs    repository.OrganizationInterface
	members repository.MembershipInterface
	users   repository.UserInterface
	idx     *MembershipIndex
	guard   *Guard
	audit   *AuditTrail
}

func NewOrgService(
	db *gorm.DB,
	orgs repository.OrganizationInterface,
	members repository.MembershipInterface,
	users repository.UserInterface,
	idx *MembershipIndex,
	guard *Guard,
	audit *AuditTrail,
) *OrgService {
	return &OrgService{
		db:      db,
		orgs:    orgs,
		members: members,
		users:   users,
		idx:     idx,
		guard:   guard,
		audit:   audit,
	}
}

func (s *OrgService) CreateOrganization(ctx context.Context, name string, creatorID uint64) (*model.Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationf("organization name must not be empty")
	}

	org := &model.Organization{Name: name, CreatedBy: creatorID}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.orgs.WithTx(tx).Create(ctx, org); err != nil {
			return storagef("organization create", err)
		}
		m := &model.Membership{OrgID: org.ID, UserID: creatorID, Role: constraints.RoleAdmin}
		if err := s.members.WithTx(tx).Create(ctx, m); err != nil {
			return storagef("membership create", err)
		}
		msg := fmt.Sprintf("organization %q created by %s", org.Name, GetOperator(ctx))
		return s.audit.WithTx(tx).Record(ctx, constraints.AuditMemberAdded, msg, 0, creatorID)
	})
	if err != nil {
		return nil, err
	}
	return org, nil
}

func (s *OrgService) AddMember(ctx context.Context, orgID, userID uint64, role string, actorID uint64) (*model.Membership, error) {
	if !constraints.ValidRole(role) {
		return nil, validationf("unknown role %q", role)
	}
	if err := s.requireOrg(ctx, orgID); err != nil {
		return nil, err
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, storagef("user lookup", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}

	decision, err := s.guard.CanManageMembership(ctx, actorID, orgID)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, denied(decision.Reason)
	}

	m := &model.Membership{OrgID: orgID, UserID: userID, Role: role}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txMembers := s.members.WithTx(tx)
		existing, err := txMembers.Get(ctx, orgID, userID)
		if err != nil {
			return storagef("membership lookup", err)
		}
		if existing != nil {
			return fmt.Errorf("user %d is already a member: %w", userID, ErrDuplicateKey)
		}
		if err := txMembers.Create(ctx, m); err != nil {
			return storagef("membership create", err)
		}
		msg := fmt.Sprintf("user %d added to organization %d as %s by %s", userID, orgID, role, GetOperator(ctx))
		return s.audit.WithTx(tx).Record(ctx, constraints.AuditMemberAdded, msg, 0, actorID)
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// UpdateMemberRole changes an existing member's role. Demoting the last
// remaining admin is blocked: an adminless organization would be permanently
// unmanageable since every membership mutation is admin-gated.
func (s *OrgService) UpdateMemberRole(ctx context.Context, orgID, userID uint64, role string, actorID uint64) (*model.Membership, error) {
	if !constraints.ValidRole(role) {
		return nil, validationf("unknown role %q", role)
	}

	decision, err := s.guard.CanManageMembership(ctx, actorID, orgID)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, denied(decision.Reason)
	}

	var updated *model.Membership
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txMembers := s.members.WithTx(tx)
		m, err := txMembers.Get(ctx, orgID, userID)
		if err != nil {
			return storagef("membership lookup", err)
		}
		if m == nil {
			return fmt.Errorf("membership: %w", ErrNotFound)
		}
		if m.Role == constraints.RoleAdmin && role != constraints.RoleAdmin {
			admins, err := txMembers.CountAdmins(ctx, orgID)
			if err != nil {
				return storagef("admin count", err)
			}
			if admins <= 1 {
				return ErrLastAdmin
			}
		}
		m.Role = role
		if err := txMembers.Save(ctx, m); err != nil {
			return storagef("membership save", err)
		}
		updated = m
		msg := fmt.Sprintf("role of user %d in organization %d changed to %s by %s", userID, orgID, role, GetOperator(ctx))
		return s.audit.WithTx(tx).Record(ctx, constraints.AuditRoleChanged, msg, 0, actorID)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// RemoveMember destroys a membership. Removing the last admin is blocked
// for the same reason a demotion is.
func (s *OrgService) RemoveMember(ctx context.Context, orgID, userID, actorID uint64) error {
	decision, err := s.guard.CanManageMembership(ctx, actorID, orgID)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return denied(decision.Reason)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txMembers := s.members.WithTx(tx)
		m, err := txMembers.Get(ctx, orgID, userID)
		if err != nil {
			return storagef("membership lookup", err)
		}
		if m == nil {
			return fmt.Errorf("membership: %w", ErrNotFound)
		}
		if m.Role == constraints.RoleAdmin {
			admins, err := txMembers.CountAdmins(ctx, orgID)
			if err != nil {
				return storagef("admin count", err)
			}
			if admins <= 1 {
				return ErrLastAdmin
			}
		}
		if err := txMembers.Delete(ctx, m.ID); err != nil {
			return storagef("membership delete", err)
		}
		msg := fmt.Sprintf("user %d removed from organization %d by %s", userID, orgID, GetOperator(ctx))
		return s.audit.WithTx(tx).Record(ctx, constraints.AuditMemberRemoved, msg, 0, actorID)
	})
}

// Members lists an organization's memberships; any member may look.
func (s *OrgService) Members(ctx context.Context, orgID, viewerID uint64) ([]model.Membership, error) {
	if err := s.requireOrg(ctx, orgID); err != nil {
		return nil, err
	}
	member, err := s.idx.IsMember(ctx, viewerID, orgID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, denied("not a member of this organization")
	}
	return s.idx.MembersOf(ctx, orgID)
}

func (s *OrgService) requireOrg(ctx context.Context, orgID uint64) error {
	org, err := s.orgs.GetByID(ctx, orgID)
	if err != nil {
		return storagef("organization lookup", err)
	}
	if org == nil {
		return fmt.Errorf("organization %d: %w", orgID, ErrNotFound)
	}
	return nil
}
