package rbac

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/errs"
	"github.com/platinummonkey/warden/pkg/orgs"
	"github.com/platinummonkey/warden/pkg/storage"
)

func TestResolveACL_Levels(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.permissions(t, "order.read", "order.write", "org.manage")

	_, err := f.policy.AssignTemplate(ctx, LevelOrgAdmin, []string{"order.read", "order.write", "org.manage"})
	require.NoError(t, err)
	_, err = f.policy.AssignTemplate(ctx, LevelStandard, []string{"order.read"})
	require.NoError(t, err)

	super := f.member(t, "root", "ROOT", f.role(t, "super", LevelSuperAdmin, "").ID)
	admin := f.member(t, "alice", "ORG-A", f.role(t, "a-admin", LevelOrgAdmin, "ORG-A").ID)
	clerk := f.member(t, "bob", "ORG-A", f.role(t, "clerk", LevelStandard, "").ID)

	acl, err := f.resolver.ResolveACL(ctx, super.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{Wildcard}, acl.Capabilities)
	assert.Equal(t, ScopeAll, acl.Scope)
	assert.True(t, acl.HasCapability("anything.at.all"))

	acl, err = f.resolver.ResolveACL(ctx, admin.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"order.read", "order.write", "org.manage"}, acl.Capabilities)
	assert.Equal(t, ScopeOrg, acl.Scope)
	assert.Equal(t, "ORG-A", acl.OrgCode)
	assert.Equal(t, "a-admin", acl.RoleCode)

	acl, err = f.resolver.ResolveACL(ctx, clerk.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"order.read"}, acl.Capabilities)
	assert.Equal(t, ScopeSelf, acl.Scope)
	assert.Equal(t, clerk.ID, acl.MemberID)
}

func TestResolveACL_FailsClosed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.permissions(t, "order.read")
	_, err := f.policy.AssignTemplate(ctx, LevelStandard, []string{"order.read"})
	require.NoError(t, err)

	role := f.role(t, "clerk", LevelStandard, "")
	bob := f.member(t, "bob", "ORG-A", role.ID)
	carol := f.member(t, "carol", "ORG-A", role.ID)

	_, err = f.orgs.SetMemberStatus(ctx, bob.ID, orgs.StatusDisabled)
	require.NoError(t, err)
	acl, err := f.resolver.ResolveACL(ctx, bob.ID)
	require.NoError(t, err)
	assert.Empty(t, acl.Capabilities)
	assert.Equal(t, ScopeSelf, acl.Scope)

	_, err = f.policy.SetRoleStatus(ctx, role.ID, StatusDisabled)
	require.NoError(t, err)
	acl, err = f.resolver.ResolveACL(ctx, carol.ID)
	require.NoError(t, err)
	assert.Empty(t, acl.Capabilities)
	assert.False(t, acl.HasCapability("order.read"))

	_, err = f.resolver.ResolveACL(ctx, "no-such-member")
	assert.True(t, errs.IsNotFound(err))

	allowed, err := f.resolver.HasCapability(ctx, "no-such-member", "order.read")
	assert.Error(t, err)
	assert.False(t, allowed)
}

func TestResolveACL_Cached(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	bob := f.member(t, "bob", "ORG-A", f.role(t, "clerk", LevelStandard, "").ID)

	_, err := f.resolver.ResolveACL(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, f.cache.Len())

	_, ok, err := f.cache.Get(ctx, ACLKey(bob.ID))
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok, err = f.cache.Get(ctx, VersionKey(bob.ID))
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.resolver.ResolveACL(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.ACLCacheHitsTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.ACLCacheMissesTotal))
}

func TestPolicyMutations_InvalidateACLs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.permissions(t, "order.read", "order.write", "order.export")

	_, err := f.policy.AssignTemplate(ctx, LevelStandard, []string{"order.read"})
	require.NoError(t, err)
	role := f.role(t, "clerk", LevelStandard, "")
	bob := f.member(t, "bob", "ORG-A", role.ID)

	caps := func() []string {
		t.Helper()
		acl, err := f.resolver.ResolveACL(ctx, bob.ID)
		require.NoError(t, err)
		return acl.Capabilities
	}

	assert.Equal(t, []string{"order.read"}, caps())

	_, err = f.policy.AssignTemplate(ctx, LevelStandard, []string{"order.read", "order.write"})
	require.NoError(t, err)
	assert.Equal(t, []string{"order.read", "order.write"}, caps())

	require.NoError(t, f.policy.Grant(ctx, role.ID, []string{"order.export"}))
	assert.Equal(t, []string{"order.export", "order.read", "order.write"}, caps())

	require.NoError(t, f.policy.Revoke(ctx, role.ID, []string{"order.write", "order.export"}))
	assert.Equal(t, []string{"order.read"}, caps())

	// a grant replaces an earlier revoke of the same code
	require.NoError(t, f.policy.Grant(ctx, role.ID, []string{"order.write"}))
	assert.Equal(t, []string{"order.read", "order.write"}, caps())

	require.NoError(t, f.policy.SetPermissionStatus(ctx, "order.read", StatusDisabled))
	assert.Equal(t, []string{"order.write"}, caps())

	assert.Greater(t, testutil.ToFloat64(f.metrics.ACLInvalidationsTotal.WithLabelValues(TriggerGrant)), float64(0))
}

func TestInvalidate_DiscardsInFlightResolution(t *testing.T) {
	ctx := context.Background()
	gate := newGatedKV(storage.NewLocalKV(128))
	f := newFixtureWithKV(t, gate)
	f.permissions(t, "order.read", "order.write")

	_, err := f.policy.AssignTemplate(ctx, LevelStandard, []string{"order.read", "order.write"})
	require.NoError(t, err)
	bob := f.member(t, "bob", "ORG-A", f.role(t, "clerk", LevelStandard, "").ID)

	// the first resolution loads the wide template and parks before caching it
	done := make(chan error, 1)
	go func() {
		_, err := f.resolver.ResolveACL(ctx, bob.ID)
		done <- err
	}()
	<-gate.entered

	_, err = f.policy.AssignTemplate(ctx, LevelStandard, []string{"order.read"})
	require.NoError(t, err)

	close(gate.release)
	require.NoError(t, <-done)

	acl, err := f.resolver.ResolveACL(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"order.read"}, acl.Capabilities)
	assert.False(t, acl.HasCapability("order.write"))

	// the fresh result is cached and served from then on
	acl, err = f.resolver.ResolveACL(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"order.read"}, acl.Capabilities)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.ACLCacheHitsTotal))
}

func TestResolveACL_IgnoresUnversionedEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	bob := f.member(t, "bob", "ORG-A", f.role(t, "clerk", LevelStandard, "").ID)

	_, err := f.resolver.ResolveACL(ctx, bob.ID)
	require.NoError(t, err)
	require.NoError(t, f.cache.Del(ctx, VersionKey(bob.ID)))

	_, err = f.resolver.ResolveACL(ctx, bob.ID)
	require.NoError(t, err)
	assert.Zero(t, testutil.ToFloat64(f.metrics.ACLCacheHitsTotal))
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.ACLCacheMissesTotal))
}

func TestInvalidate_FailureIsTransient(t *testing.T) {
	ctx := context.Background()
	f := newFixtureWithKV(t, brokenKV{})
	f.permissions(t, "order.read")
	role := f.role(t, "clerk", LevelStandard, "")
	f.member(t, "bob", "ORG-A", role.ID)

	err := f.policy.Grant(ctx, role.ID, []string{"order.read"})
	require.Error(t, err)
	assert.Equal(t, errs.KindTransientStore, errs.KindOf(err))
	assert.True(t, errs.IsRetryable(err))

	// no members means nothing to invalidate
	empty := f.role(t, "empty", LevelStandard, "")
	require.NoError(t, f.policy.Grant(ctx, empty.ID, []string{"order.read"}))
}

func TestHasCapability_Decisions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.permissions(t, "order.read")
	_, err := f.policy.AssignTemplate(ctx, LevelStandard, []string{"order.read"})
	require.NoError(t, err)
	bob := f.member(t, "bob", "ORG-A", f.role(t, "clerk", LevelStandard, "").ID)

	allowed, err := f.resolver.HasCapability(ctx, bob.ID, "order.read")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = f.resolver.HasCapability(ctx, bob.ID, "order.write")
	require.NoError(t, err)
	assert.False(t, allowed)

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.AuthzDecisionsTotal.WithLabelValues("allow")))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.AuthzDecisionsTotal.WithLabelValues("deny")))
}
