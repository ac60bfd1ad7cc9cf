package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"flagpost/internal/model"
	"flagpost/internal/repository"
	v1 "flagpost/pkg/api/v1"
	"flagpost/pkg/constraints"
	"flagpost/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// FlagService coordinates every flag and override mutation: authorize via
// the guard, persist and audit inside one transaction, then publish a change
// event. Broadcast runs strictly after commit, so a failed or cancelled
// write never produces a stale event, and a dead subscriber never fails a
// mutation. Mutations against the same flag id are serialized by a keyed
// lock so audit order always matches persisted state.
type FlagService struct {
	db        *gorm.DB
	flags     repository.FlagInterface
	overrides repository.OverrideInterface
	users     repository.UserInterface
	orgs      repository.OrganizationInterface
	audit     *AuditTrail
	guard     *Guard
	idx       *MembershipIndex
	resolver  *Resolver
	hub       *Hub
	locks     *keyMutex[uint64]
	// names serializes creates and renames per (scope, key) so the
	// duplicate check and the insert act as one unit.
	names *keyMutex[string]
}

func NewFlagService(
	db *gorm.DB,
	flags repository.FlagInterface,
	overrides repository.OverrideInterface,
	users repository.UserInterface,
	orgs repository.OrganizationInterface,
	audit *AuditTrail,
	guard *Guard,
	idx *MembershipIndex,
	resolver *Resolver,
	hub *Hub,
) *FlagService {
	return &FlagService{
		db:        db,
		flags:     flags,
		overrides: overrides,
		users:     users,
		orgs:      orgs,
		audit:     audit,
		guard:     guard,
		idx:       idx,
		resolver:  resolver,
		hub:       hub,
		locks:     newKeyMutex[uint64](),
		names:     newKeyMutex[string](),
	}
}

type CreateFlagInput struct {
	Key          string
	Type         string
	DefaultValue string
	Description  string
	OwnerID      uint64
	OrgID        *uint64
}

type FlagPatch struct {
	Key          *string
	Type         *string
	DefaultValue *string
	Description  *string
}

// CreateFlag creates a personal flag for the owner, or an organizational
// flag when OrgID is set (admin-gated).
func (s *FlagService) CreateFlag(ctx context.Context, in CreateFlagInput) (*model.Flag, error) {
	in.Key = strings.TrimSpace(in.Key)
	if in.Key == "" {
		return nil, validationf("flag key must not be empty")
	}
	if !constraints.ValidFlagType(in.Type) {
		return nil, validationf("unknown flag type %q", in.Type)
	}

	if in.OrgID != nil {
		org, err := s.orgs.GetByID(ctx, *in.OrgID)
		if err != nil {
			return nil, storagef("organization lookup", err)
		}
		if org == nil {
			return nil, fmt.Errorf("organization %d: %w", *in.OrgID, ErrNotFound)
		}
		admin, err := s.idx.IsAdmin(ctx, in.OwnerID, *in.OrgID)
		if err != nil {
			return nil, err
		}
		if !admin {
			return nil, denied("creating an organization flag requires organization admin")
		}
	}

	flag := &model.Flag{
		Key:          in.Key,
		Type:         in.Type,
		DefaultValue: in.DefaultValue,
		Description:  in.Description,
		OwnerID:      in.OwnerID,
		OrgID:        in.OrgID,
		Enabled:      true,
	}

	// Serializing on the scope-qualified key makes the duplicate check and
	// the insert atomic; the tx alone does not prevent two concurrent
	// creates from both passing the lookup under repeatable read.
	nameKey := scopeKey(flag.Scope(), flag.Key)
	s.names.Lock(nameKey)
	defer s.names.Unlock(nameKey)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txFlags := s.flags.WithTx(tx)
		existing, err := txFlags.GetByKeyInScope(ctx, flag.Scope(), flag.Key)
		if err != nil {
			return storagef("flag lookup", err)
		}
		if existing != nil {
			return fmt.Errorf("flag key %q: %w", flag.Key, ErrDuplicateKey)
		}
		if err := txFlags.Create(ctx, flag); err != nil {
			return storagef("flag create", err)
		}
		msg := fmt.Sprintf("flag %q created by %s", flag.Key, GetOperator(ctx))
		return s.audit.WithTx(tx).Record(ctx, constraints.AuditCreated, msg, flag.ID, in.OwnerID)
	})
	if err != nil {
		return nil, err
	}

	s.publish(v1.ChangeCreated, flag, flag.DefaultValue, false, 0)
	return flag, nil
}

// UpdateFlag applies a partial update. Renaming onto a key already used by a
// different flag in the same scope is a duplicate-key failure.
func (s *FlagService) UpdateFlag(ctx context.Context, flagID uint64, patch FlagPatch, actorID uint64) (*model.Flag, error) {
	if patch.Type != nil && !constraints.ValidFlagType(*patch.Type) {
		return nil, validationf("unknown flag type %q", *patch.Type)
	}
	if patch.Key != nil && strings.TrimSpace(*patch.Key) == "" {
		return nil, validationf("flag key must not be empty")
	}

	s.locks.Lock(flagID)
	defer s.locks.Unlock(flagID)

	flag, err := s.authorizeMutation(ctx, flagID, actorID)
	if err != nil {
		return nil, err
	}

	// A rename races against creates of the same key; hold the same
	// scope-qualified name lock they do.
	if patch.Key != nil {
		if newKey := strings.TrimSpace(*patch.Key); newKey != flag.Key {
			nameKey := scopeKey(flag.Scope(), newKey)
			s.names.Lock(nameKey)
			defer s.names.Unlock(nameKey)
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txFlags := s.flags.WithTx(tx)
		if patch.Key != nil {
			newKey := strings.TrimSpace(*patch.Key)
			if newKey != flag.Key {
				other, err := txFlags.GetByKeyInScope(ctx, flag.Scope(), newKey)
				if err != nil {
					return storagef("flag lookup", err)
				}
				if other != nil && other.ID != flag.ID {
					return fmt.Errorf("flag key %q: %w", newKey, ErrDuplicateKey)
				}
			}
			flag.Key = newKey
		}
		if patch.Type != nil {
			flag.Type = *patch.Type
		}
		if patch.DefaultValue != nil {
			flag.DefaultValue = *patch.DefaultValue
		}
		if patch.Description != nil {
			flag.Description = *patch.Description
		}
		if err := txFlags.Save(ctx, flag); err != nil {
			return storagef("flag save", err)
		}
		msg := fmt.Sprintf("flag %q updated by %s", flag.Key, GetOperator(ctx))
		return s.audit.WithTx(tx).Record(ctx, constraints.AuditUpdated, msg, flag.ID, actorID)
	})
	if err != nil {
		return nil, err
	}

	s.publish(v1.ChangeUpdated, flag, flag.DefaultValue, false, 0)
	return flag, nil
}

// DeleteFlag removes the flag and every override referencing it in one
// transaction. Audit records are retained.
func (s *FlagService) DeleteFlag(ctx context.Context, flagID, actorID uint64) error {
	s.locks.Lock(flagID)
	defer s.locks.Unlock(flagID)

	flag, err := s.authorizeMutation(ctx, flagID, actorID)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.overrides.WithTx(tx).DeleteByFlag(ctx, flag.ID); err != nil {
			return storagef("override cascade delete", err)
		}
		if err := s.flags.WithTx(tx).Delete(ctx, flag.ID); err != nil {
			return storagef("flag delete", err)
		}
		msg := fmt.Sprintf("flag %q deleted by %s", flag.Key, GetOperator(ctx))
		return s.audit.WithTx(tx).Record(ctx, constraints.AuditDeleted, msg, flag.ID, actorID)
	})
	if err != nil {
		return err
	}

	s.publish(v1.ChangeDeleted, flag, flag.DefaultValue, false, 0)
	return nil
}

// ToggleFlag flips the enabled status; authorization matches update.
func (s *FlagService) ToggleFlag(ctx context.Context, flagID, actorID uint64) (*model.Flag, error) {
	s.locks.Lock(flagID)
	defer s.locks.Unlock(flagID)

	flag, err := s.authorizeMutation(ctx, flagID, actorID)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		flag.Enabled = !flag.Enabled
		if err := s.flags.WithTx(tx).Save(ctx, flag); err != nil {
			return storagef("flag save", err)
		}
		state := "disabled"
		if flag.Enabled {
			state = "enabled"
		}
		msg := fmt.Sprintf("flag %q %s by %s", flag.Key, state, GetOperator(ctx))
		return s.audit.WithTx(tx).Record(ctx, constraints.AuditToggled, msg, flag.ID, actorID)
	})
	if err != nil {
		return nil, err
	}

	s.publish(v1.ChangeToggled, flag, flag.DefaultValue, false, 0)
	return flag, nil
}

// UpsertOverride creates or replaces the (flag, user) override. A second
// write for the same pair replaces the value instead of adding a row. The
// resulting event is targeted: only the affected user's resolved view
// changed, so nobody else is notified.
func (s *FlagService) UpsertOverride(ctx context.Context, flagID, targetUserID uint64, value string, actorID uint64) (*model.Override, error) {
	if targetUserID == 0 {
		return nil, validationf("target user id must be set")
	}

	s.locks.Lock(flagID)
	defer s.locks.Unlock(flagID)

	flag, err := s.getFlag(ctx, flagID)
	if err != nil {
		return nil, err
	}
	target, err := s.users.GetByID(ctx, targetUserID)
	if err != nil {
		return nil, storagef("user lookup", err)
	}
	if target == nil {
		return nil, fmt.Errorf("user %d: %w", targetUserID, ErrNotFound)
	}

	decision, err := s.guard.CanCreateOverrideFor(ctx, actorID, targetUserID, flag)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, denied(decision.Reason)
	}

	var ov *model.Override
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txOverrides := s.overrides.WithTx(tx)
		existing, err := txOverrides.GetByFlagAndUser(ctx, flag.ID, targetUserID)
		if err != nil {
			return storagef("override lookup", err)
		}
		if existing != nil {
			existing.Value = value
			ov = existing
		} else {
			ov = &model.Override{FlagID: flag.ID, UserID: targetUserID, Value: value}
		}
		if err := txOverrides.Save(ctx, ov); err != nil {
			return storagef("override save", err)
		}
		msg := fmt.Sprintf("override for user %d on flag %q set by %s", targetUserID, flag.Key, GetOperator(ctx))
		return s.audit.WithTx(tx).Record(ctx, constraints.AuditOverrideCreated, msg, flag.ID, actorID)
	})
	if err != nil {
		return nil, err
	}

	s.publish(v1.ChangeUpdated, flag, ov.Value, true, targetUserID)
	return ov, nil
}

// DeleteOverride removes one override; authorization mirrors creation.
func (s *FlagService) DeleteOverride(ctx context.Context, overrideID, actorID uint64) error {
	ov, err := s.overrides.GetByID(ctx, overrideID)
	if err != nil {
		return storagef("override lookup", err)
	}
	if ov == nil {
		return fmt.Errorf("override %d: %w", overrideID, ErrNotFound)
	}

	s.locks.Lock(ov.FlagID)
	defer s.locks.Unlock(ov.FlagID)

	flag, err := s.getFlag(ctx, ov.FlagID)
	if err != nil {
		return err
	}
	decision, err := s.guard.CanCreateOverrideFor(ctx, actorID, ov.UserID, flag)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return denied(decision.Reason)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.overrides.WithTx(tx).Delete(ctx, ov.ID); err != nil {
			return storagef("override delete", err)
		}
		msg := fmt.Sprintf("override for user %d on flag %q removed by %s", ov.UserID, flag.Key, GetOperator(ctx))
		return s.audit.WithTx(tx).Record(ctx, constraints.AuditOverrideDeleted, msg, flag.ID, actorID)
	})
	if err != nil {
		return err
	}

	// The target falls back to the default value.
	s.publish(v1.ChangeUpdated, flag, flag.DefaultValue, false, ov.UserID)
	return nil
}

// GetFlag returns the flag and its effective value for the viewer.
func (s *FlagService) GetFlag(ctx context.Context, flagID, viewerID uint64) (*model.Flag, EffectiveValue, error) {
	flag, err := s.getFlag(ctx, flagID)
	if err != nil {
		return nil, EffectiveValue{}, err
	}
	decision, err := s.guard.CanViewFlag(ctx, viewerID, flag)
	if err != nil {
		return nil, EffectiveValue{}, err
	}
	if !decision.Allowed {
		return nil, EffectiveValue{}, denied(decision.Reason)
	}
	ev, err := s.resolver.Resolve(ctx, flag, viewerID)
	if err != nil {
		return nil, EffectiveValue{}, err
	}
	return flag, ev, nil
}

// ListFlags returns every flag visible to the viewer (personal namespace
// plus all organizations the viewer belongs to), resolved for the viewer.
func (s *FlagService) ListFlags(ctx context.Context, viewerID uint64) ([]model.Flag, map[string]EffectiveValue, error) {
	personal, err := s.flags.ListPersonal(ctx, viewerID)
	if err != nil {
		return nil, nil, storagef("flag list", err)
	}
	orgIDs, err := s.idx.OrgsOf(ctx, viewerID)
	if err != nil {
		return nil, nil, err
	}
	organizational, err := s.flags.ListByOrgs(ctx, orgIDs)
	if err != nil {
		return nil, nil, storagef("flag list", err)
	}

	flags := make([]model.Flag, 0, len(personal)+len(organizational))
	flags = append(flags, personal...)
	flags = append(flags, organizational...)

	resolved, err := s.resolver.ResolveAll(ctx, flags, viewerID)
	if err != nil {
		return nil, nil, err
	}
	return flags, resolved, nil
}

// History returns the flag's audit records, newest first, view-gated.
func (s *FlagService) History(ctx context.Context, flagID, viewerID uint64) ([]model.AuditRecord, error) {
	flag, err := s.getFlag(ctx, flagID)
	if err != nil {
		return nil, err
	}
	decision, err := s.guard.CanViewFlag(ctx, viewerID, flag)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, denied(decision.Reason)
	}
	return s.audit.History(ctx, flagID)
}

func (s *FlagService) Health(ctx context.Context) error {
	return s.flags.PingContext(ctx)
}

func (s *FlagService) getFlag(ctx context.Context, flagID uint64) (*model.Flag, error) {
	flag, err := s.flags.GetByID(ctx, flagID)
	if err != nil {
		return nil, storagef("flag lookup", err)
	}
	if flag == nil {
		return nil, fmt.Errorf("flag %d: %w", flagID, ErrNotFound)
	}
	return flag, nil
}

func (s *FlagService) authorizeMutation(ctx context.Context, flagID, actorID uint64) (*model.Flag, error) {
	flag, err := s.getFlag(ctx, flagID)
	if err != nil {
		return nil, err
	}
	decision, err := s.guard.CanMutateFlag(ctx, actorID, flag)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, denied(decision.Reason)
	}
	return flag, nil
}

// scopeKey is the lock key for a flag name within one scope.
func scopeKey(scope model.Scope, key string) string {
	if scope.Kind == model.ScopeOrganization {
		return fmt.Sprintf("org/%d/%s", scope.OrgID, key)
	}
	return fmt.Sprintf("user/%d/%s", scope.OwnerID, key)
}

func (s *FlagService) publish(kind v1.ChangeKind, flag *model.Flag, value string, overridden bool, targetUserID uint64) {
	scope := flag.Scope()
	ev := v1.ChangeEvent{
		Kind:         kind,
		FlagID:       flag.ID,
		Key:          flag.Key,
		Value:        value,
		IsOverridden: overridden,
		TargetUserID: targetUserID,
		Timestamp:    time.Now().UTC(),
	}
	switch scope.Kind {
	case model.ScopeOrganization:
		ev.Scope = v1.Scope{Type: v1.ScopeOrganization, OrganizationID: scope.OrgID}
	default:
		ev.Scope = v1.Scope{Type: v1.ScopePersonal, OwnerID: scope.OwnerID}
	}

	s.hub.Broadcast <- ev
	logger.Debug("change event published",
		zap.String("kind", string(kind)),
		zap.Uint64("flag_id", flag.ID),
		zap.String("key", flag.Key))
}
