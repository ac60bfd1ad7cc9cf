package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"flagpost/internal/model"
	"flagpost/internal/repository"
	v1 "flagpost/pkg/api/v1"
	"flagpost/pkg/constraints"
	"flagpost/pkg/logger"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func init() {
	logger.InitLogger("test")
}

type nopObserver struct{}

func (nopObserver) IncOnline()  {}
func (nopObserver) DecOnline()  {}
func (nopObserver) RecordPush() {}
func (nopObserver) RecordDrop() {}

var dbSeq atomic.Int64

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:flagpost_test_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	// One connection keeps concurrent test transactions from tripping
	// sqlite's busy handler; serialization under test comes from the
	// service's own locking.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&model.User{},
		&model.Organization{},
		&model.Membership{},
		&model.Flag{},
		&model.Override{},
		&model.AuditRecord{},
	))
	return db
}

type testEnv struct {
	db        *gorm.DB
	hub       *Hub
	idx       *MembershipIndex
	guard     *Guard
	resolver  *Resolver
	flags     *FlagService
	orgs      *OrgService
	overrides repository.OverrideInterface
	audits    repository.AuditInterface
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)

	flagRepo := repository.NewFlagRepository(db)
	overrideRepo := repository.NewOverrideRepository(db)
	membershipRepo := repository.NewMembershipRepository(db)
	orgRepo := repository.NewOrganizationRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	userRepo := repository.NewUserRepository(db)

	hub := NewHub(nopObserver{}, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	idx := NewMembershipIndex(membershipRepo)
	guard := NewGuard(idx)
	trail := NewAuditTrail(auditRepo)
	resolver := NewResolver(overrideRepo)

	return &testEnv{
		db:        db,
		hub:       hub,
		idx:       idx,
		guard:     guard,
		resolver:  resolver,
		flags:     NewFlagService(db, flagRepo, overrideRepo, userRepo, orgRepo, trail, guard, idx, resolver, hub),
		orgs:      NewOrgService(db, orgRepo, membershipRepo, userRepo, idx, guard, trail),
		overrides: overrideRepo,
		audits:    auditRepo,
	}
}

func (e *testEnv) createUser(t *testing.T, username string) *model.User {
	t.Helper()
	u := &model.User{Username: username, PasswordHash: "x"}
	require.NoError(t, e.db.Create(u).Error)
	return u
}

// createOrg creates an organization with creator as its sole admin.
func (e *testEnv) createOrg(t *testing.T, name string, creatorID uint64) *model.Organization {
	t.Helper()
	org, err := e.orgs.CreateOrganization(context.Background(), name, creatorID)
	require.NoError(t, err)
	return org
}

func (e *testEnv) addMember(t *testing.T, orgID, userID uint64, role string, actorID uint64) {
	t.Helper()
	_, err := e.orgs.AddMember(context.Background(), orgID, userID, role, actorID)
	require.NoError(t, err)
}

func (e *testEnv) createPersonalFlag(t *testing.T, ownerID uint64, key, value string) *model.Flag {
	t.Helper()
	f, err := e.flags.CreateFlag(context.Background(), CreateFlagInput{
		Key:          key,
		Type:         constraints.TypeString,
		DefaultValue: value,
		OwnerID:      ownerID,
	})
	require.NoError(t, err)
	return f
}

func (e *testEnv) createOrgFlag(t *testing.T, adminID, orgID uint64, key, value string) *model.Flag {
	t.Helper()
	f, err := e.flags.CreateFlag(context.Background(), CreateFlagInput{
		Key:          key,
		Type:         constraints.TypeString,
		DefaultValue: value,
		OwnerID:      adminID,
		OrgID:        &orgID,
	})
	require.NoError(t, err)
	return f
}

// subscribe registers a hub client for userID and returns its event channel.
func (e *testEnv) subscribe(t *testing.T, connID string, userID uint64, orgIDs ...uint64) *Client {
	t.Helper()
	orgs := make(map[uint64]bool, len(orgIDs))
	for _, id := range orgIDs {
		orgs[id] = true
	}
	c := &Client{
		ID:     connID,
		UserID: userID,
		Orgs:   orgs,
		Send:   make(chan v1.ChangeEvent, 16),
	}
	// Hub.Run drains Broadcast and Register through one select, so an event
	// published before this call could otherwise be delivered to the new
	// client. Wait for the queue to empty so registration happens strictly
	// after earlier events; Register is unbuffered, so once the hub has
	// dequeued an event our send cannot be accepted until delivery finishes.
	deadline := time.Now().Add(2 * time.Second)
	for len(e.hub.Broadcast) > 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for hub broadcast queue to drain")
		}
		time.Sleep(time.Millisecond)
	}
	e.hub.Register <- c
	return c
}

func waitEvent(t *testing.T, c *Client) v1.ChangeEvent {
	t.Helper()
	select {
	case ev, ok := <-c.Send:
		require.True(t, ok, "subscriber channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
		return v1.ChangeEvent{}
	}
}

func expectNoEvent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case ev := <-c.Send:
		t.Fatalf("unexpected event delivered: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}
