package service

import (
	"context"
	"testing"

	"flagpost/internal/model"

	"github.com/stretchr/testify/require"
)

func TestResolve_DefaultWhenNoOverride(t *testing.T) {
	env := newTestEnv(t)
	owner := env.createUser(t, "alice")
	flag := env.createPersonalFlag(t, owner.ID, "checkout-redesign", "false")

	ev, err := env.resolver.Resolve(context.Background(), flag, owner.ID)
	require.NoError(t, err)
	require.Equal(t, "false", ev.Value)
	require.False(t, ev.IsOverridden)
}

func TestResolve_OverrideWins(t *testing.T) {
	env := newTestEnv(t)
	owner := env.createUser(t, "alice")
	flag := env.createPersonalFlag(t, owner.ID, "checkout-redesign", "false")

	_, err := env.flags.UpsertOverride(context.Background(), flag.ID, owner.ID, "true", owner.ID)
	require.NoError(t, err)

	ev, err := env.resolver.Resolve(context.Background(), flag, owner.ID)
	require.NoError(t, err)
	require.Equal(t, "true", ev.Value)
	require.True(t, ev.IsOverridden)
}

// The resolver never validates the stored text against the declared type. A
// boolean flag holding "42" resolves to "42".
func TestResolve_NoTypeCoercion(t *testing.T) {
	env := newTestEnv(t)
	owner := env.createUser(t, "alice")
	flag := env.createPersonalFlag(t, owner.ID, "rollout-percent", "42")

	ev, err := env.resolver.Resolve(context.Background(), flag, owner.ID)
	require.NoError(t, err)
	require.Equal(t, "42", ev.Value)
}

func TestResolveAll_MixedOverrides(t *testing.T) {
	env := newTestEnv(t)
	owner := env.createUser(t, "alice")
	plain := env.createPersonalFlag(t, owner.ID, "plain", "default-a")
	overridden := env.createPersonalFlag(t, owner.ID, "overridden", "default-b")

	_, err := env.flags.UpsertOverride(context.Background(), overridden.ID, owner.ID, "custom", owner.ID)
	require.NoError(t, err)

	out, err := env.resolver.ResolveAll(context.Background(), []model.Flag{*plain, *overridden}, owner.ID)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, EffectiveValue{Value: "default-a", IsOverridden: false}, out["plain"])
	require.Equal(t, EffectiveValue{Value: "custom", IsOverridden: true}, out["overridden"])
}

// Another user's override must never leak into the viewer's resolution.
func TestResolve_OverrideIsPerUser(t *testing.T) {
	env := newTestEnv(t)
	admin := env.createUser(t, "admin")
	member := env.createUser(t, "member")
	org := env.createOrg(t, "acme", admin.ID)
	env.addMember(t, org.ID, member.ID, "member", admin.ID)
	flag := env.createOrgFlag(t, admin.ID, org.ID, "beta-banner", "off")

	_, err := env.flags.UpsertOverride(context.Background(), flag.ID, member.ID, "on", admin.ID)
	require.NoError(t, err)

	forMember, err := env.resolver.Resolve(context.Background(), flag, member.ID)
	require.NoError(t, err)
	require.Equal(t, "on", forMember.Value)

	forAdmin, err := env.resolver.Resolve(context.Background(), flag, admin.ID)
	require.NoError(t, err)
	require.Equal(t, "off", forAdmin.Value)
	require.False(t, forAdmin.IsOverridden)
}
