package authz

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/contextkeys"
	"github.com/platinummonkey/warden/pkg/errs"
	"github.com/platinummonkey/warden/pkg/orgs"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/scope"
	"github.com/platinummonkey/warden/pkg/storage"
	"github.com/platinummonkey/warden/pkg/storage/storagetest"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fixture struct {
	svc      *Service
	orgs     *orgs.Manager
	policy   *rbac.Policy
	resolver *rbac.Resolver
	tokens   *auth.TokenManager
	recorder *audit.Recorder
	kv       *storage.LocalKV

	super, adminA, staff *rbac.Role
	root, alice, bob     *orgs.Member
}

func system() context.Context {
	return contextkeys.WithSystem(context.Background())
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := system()

	db := storagetest.NewSQLite(t)
	f := &fixture{kv: storage.NewLocalKV(128)}
	f.orgs = orgs.NewManager(orgs.NewStore(db))
	store := rbac.NewStore(db)
	f.resolver = rbac.NewResolver(store, f.orgs, rbac.WithCache(f.kv, time.Minute))
	f.policy = rbac.NewPolicy(store, f.resolver, f.orgs, nil)
	hasher := auth.NewBcryptHasher(bcrypt.MinCost)

	var err error
	f.tokens, err = auth.NewTokenManager([]byte(testSecret), f.kv,
		auth.WithSubjectLoader(SubjectLoader(f.orgs, store)))
	require.NoError(t, err)
	f.recorder = audit.NewRecorder(audit.NewSQLStore(db))

	f.svc, err = New(Config{
		Orgs:          f.orgs,
		Policy:        f.policy,
		Resolver:      f.resolver,
		Authenticator: auth.NewAuthenticator(f.orgs, hasher, nil, nil),
		Tokens:        f.tokens,
		Hasher:        hasher,
		Audit:         f.recorder,
	})
	require.NoError(t, err)

	for _, req := range []orgs.CreateOrgRequest{
		{Code: "ROOT", Name: "Root"},
		{Code: "ORG-A", Name: "A", ParentCode: "ROOT"},
		{Code: "ORG-B", Name: "B", ParentCode: "ROOT"},
	} {
		_, err := f.svc.CreateOrg(ctx, req)
		require.NoError(t, err)
	}

	f.super, err = f.svc.CreateRole(ctx, rbac.CreateRoleRequest{Code: "SUPER", Name: "Super", Level: rbac.LevelSuperAdmin})
	require.NoError(t, err)
	f.adminA, err = f.svc.CreateRole(ctx, rbac.CreateRoleRequest{Code: "ADMIN-A", Name: "Admin A", Level: rbac.LevelOrgAdmin, OrgCode: "ORG-A"})
	require.NoError(t, err)
	f.staff, err = f.svc.CreateRole(ctx, rbac.CreateRoleRequest{Code: "STAFF", Name: "Staff", Level: rbac.LevelStandard})
	require.NoError(t, err)

	f.root = f.createMember(t, ctx, "E001", "root", "ROOT", f.super.ID)
	f.alice = f.createMember(t, ctx, "E100", "alice", "ORG-A", f.adminA.ID)
	f.bob = f.createMember(t, ctx, "E200", "bob", "ORG-B", f.staff.ID)
	return f
}

func (f *fixture) createMember(t *testing.T, ctx context.Context, code, login, org, roleID string) *orgs.Member {
	t.Helper()
	m, err := f.svc.CreateMember(ctx, CreateMemberRequest{
		Code: code, LoginName: login, OrgCode: org, RoleID: roleID, Secret: "password-" + login,
	})
	require.NoError(t, err)
	return m
}

// as returns a context acting as member
func (f *fixture) as(t *testing.T, member *orgs.Member) context.Context {
	t.Helper()
	acl, err := f.svc.ResolveACL(context.Background(), member.ID)
	require.NoError(t, err)
	ctx := contextkeys.WithIdentity(context.Background(), contextkeys.Identity{MemberID: member.ID, OrgCode: member.OrgCode})
	return contextkeys.WithACL(ctx, acl)
}

func (f *fixture) records(t *testing.T, filter audit.Filter) []*audit.Record {
	t.Helper()
	page, err := f.recorder.List(context.Background(), filter)
	require.NoError(t, err)
	return page.Records
}

func TestNew_RequiresComponents(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestService_RequiresCaller(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateOrg(context.Background(), orgs.CreateOrgRequest{Code: "X", Name: "X"})
	assert.Equal(t, errs.KindAuthentication, errs.KindOf(err))

	_, err = f.svc.ListAudit(context.Background(), audit.Filter{})
	assert.Equal(t, errs.KindAuthentication, errs.KindOf(err))
}

func TestService_OrgScope(t *testing.T) {
	f := newFixture(t)
	aliceCtx := f.as(t, f.alice)

	t.Run("org admin creates under own org", func(t *testing.T) {
		org, err := f.svc.CreateOrg(aliceCtx, orgs.CreateOrgRequest{Code: "ORG-A1", Name: "A1", ParentCode: "ORG-A"})
		require.NoError(t, err)
		assert.Equal(t, 2, org.Depth)
		assert.Equal(t, "/ROOT/ORG-A/ORG-A1/", org.Path)
	})

	t.Run("org admin cannot create elsewhere", func(t *testing.T) {
		_, err := f.svc.CreateOrg(aliceCtx, orgs.CreateOrgRequest{Code: "ORG-B1", Name: "B1", ParentCode: "ORG-B"})
		assert.Equal(t, errs.ScopeDenied, errs.ReasonOf(err))

		_, err = f.svc.CreateOrg(aliceCtx, orgs.CreateOrgRequest{Code: "TOP", Name: "Top"})
		assert.Equal(t, errs.KindAuthorization, errs.KindOf(err))
	})

	t.Run("denied attempts are audited", func(t *testing.T) {
		recs := f.records(t, audit.Filter{Module: audit.ModuleOrgs, Result: audit.ResultDenied})
		require.Len(t, recs, 2)
		assert.Equal(t, f.alice.ID, recs[0].Actor.ID)
	})

	t.Run("standard member cannot move", func(t *testing.T) {
		_, err := f.svc.MoveOrg(f.as(t, f.bob), "ORG-B", "ORG-A")
		assert.Equal(t, errs.KindAuthorization, errs.KindOf(err))
	})

	t.Run("super admin moves anything", func(t *testing.T) {
		res, err := f.svc.MoveOrg(f.as(t, f.root), "ORG-B", "ORG-A")
		require.NoError(t, err)
		assert.Equal(t, "/ROOT/ORG-A/ORG-B/", res.After.Path)

		recs := f.records(t, audit.Filter{Module: audit.ModuleOrgs, Operation: "move", Result: audit.ResultSuccess})
		require.Len(t, recs, 1)
		assert.Contains(t, string(recs[0].Before), `"/ROOT/ORG-B/"`)
		assert.Contains(t, string(recs[0].After), `"/ROOT/ORG-A/ORG-B/"`)
	})

	t.Run("cycle is a conflict", func(t *testing.T) {
		_, err := f.svc.MoveOrg(system(), "ORG-A", "ORG-A1")
		assert.Equal(t, errs.CycleDetected, errs.ReasonOf(err))
	})

	t.Run("delete with members is a conflict", func(t *testing.T) {
		_, err := f.svc.DeleteOrg(system(), "ORG-A1")
		require.NoError(t, err)
		_, err = f.svc.DeleteOrg(f.as(t, f.root), "ORG-B")
		assert.Equal(t, errs.HasMembers, errs.ReasonOf(err))
	})

	t.Run("tree", func(t *testing.T) {
		tree, err := f.svc.OrgTree(aliceCtx, "")
		require.NoError(t, err)
		require.Len(t, tree, 1)
		assert.Equal(t, "ORG-A", tree[0].Code)

		_, err = f.svc.OrgTree(aliceCtx, "ROOT")
		assert.Equal(t, errs.KindAuthorization, errs.KindOf(err))

		forest, err := f.svc.OrgTree(f.as(t, f.root), "")
		require.NoError(t, err)
		require.Len(t, forest, 1)
		assert.Equal(t, "ROOT", forest[0].Code)
	})
}

func TestService_MemberAdministration(t *testing.T) {
	f := newFixture(t)
	ctx := system()

	t.Run("org admin role must match the member org", func(t *testing.T) {
		_, err := f.svc.CreateMember(ctx, CreateMemberRequest{
			Code: "E300", LoginName: "carol", OrgCode: "ORG-B", RoleID: f.adminA.ID, Secret: "password-carol",
		})
		assert.Equal(t, errs.KindValidation, errs.KindOf(err))
	})

	t.Run("org admin cannot hand out super admin", func(t *testing.T) {
		_, err := f.svc.CreateMember(f.as(t, f.alice), CreateMemberRequest{
			Code: "E301", LoginName: "dave", OrgCode: "ORG-A", RoleID: f.super.ID, Secret: "password-dave",
		})
		assert.Equal(t, errs.KindAuthorization, errs.KindOf(err))
	})

	t.Run("secret is hashed and never audited", func(t *testing.T) {
		m, err := f.orgs.GetMember(context.Background(), f.bob.ID)
		require.NoError(t, err)
		assert.NotEqual(t, "password-bob", m.CredentialHash)
		for _, rec := range f.records(t, audit.Filter{Module: audit.ModuleMembers}) {
			assert.NotContains(t, string(rec.After), "password-")
		}
	})

	t.Run("role change invalidates the cached ACL", func(t *testing.T) {
		acl, err := f.svc.ResolveACL(context.Background(), f.bob.ID)
		require.NoError(t, err)
		assert.Equal(t, rbac.ScopeSelf, acl.Scope)

		changed, err := f.svc.ChangeMemberRole(ctx, f.bob.ID, f.super.ID)
		require.NoError(t, err)
		assert.Equal(t, f.super.ID, changed.RoleID)

		acl, err = f.svc.ResolveACL(context.Background(), f.bob.ID)
		require.NoError(t, err)
		assert.Equal(t, rbac.ScopeAll, acl.Scope)
	})

	t.Run("disable revokes the session", func(t *testing.T) {
		pair, err := f.svc.Login(context.Background(), auth.LoginRequest{Identifier: "alice", Secret: "password-alice"})
		require.NoError(t, err)

		_, err = f.svc.SetMemberStatus(ctx, f.alice.ID, orgs.StatusDisabled)
		require.NoError(t, err)

		_, err = f.svc.RefreshAccessToken(context.Background(), pair.RefreshToken)
		assert.Equal(t, errs.KindAuthentication, errs.KindOf(err))

		acl, err := f.svc.ResolveACL(context.Background(), f.alice.ID)
		require.NoError(t, err)
		assert.Empty(t, acl.Capabilities)
		assert.Equal(t, rbac.ScopeSelf, acl.Scope)
	})
}

func TestService_Sessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("wrong password", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			_, err := f.svc.Login(ctx, auth.LoginRequest{Identifier: "alice", Secret: "wrong"})
			assert.Equal(t, errs.InvalidCredentials, errs.ReasonOf(err))
		}
		m, err := f.orgs.GetMember(ctx, f.alice.ID)
		require.NoError(t, err)
		assert.Zero(t, m.LoginCount)

		recs := f.records(t, audit.Filter{Module: audit.ModuleAuth, Operation: "login", Result: audit.ResultFailure})
		assert.Len(t, recs, 3)
	})

	pair, err := f.svc.Login(ctx, auth.LoginRequest{Identifier: "alice", Secret: "password-alice"})
	require.NoError(t, err)

	t.Run("claims", func(t *testing.T) {
		claims, err := f.tokens.ParseAccess(pair.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, f.alice.ID, claims.MemberID())
		assert.Equal(t, "ADMIN-A", claims.Role)
		assert.Equal(t, "ORG-A", claims.Org)
	})

	t.Run("refresh does not rotate", func(t *testing.T) {
		first, err := f.svc.RefreshAccessToken(ctx, pair.RefreshToken)
		require.NoError(t, err)
		second, err := f.svc.RefreshAccessToken(ctx, pair.RefreshToken)
		require.NoError(t, err)
		assert.Equal(t, pair.RefreshToken, first.RefreshToken)
		assert.Equal(t, pair.RefreshToken, second.RefreshToken)
	})

	t.Run("others cannot revoke across orgs", func(t *testing.T) {
		err := f.svc.RevokeSession(f.as(t, f.bob), f.alice.ID)
		assert.Equal(t, errs.KindAuthorization, errs.KindOf(err))

		_, err = f.svc.Session(f.as(t, f.bob), f.alice.ID)
		assert.Equal(t, errs.KindAuthorization, errs.KindOf(err))
	})

	t.Run("own revoke ends refresh", func(t *testing.T) {
		aliceCtx := f.as(t, f.alice)
		session, err := f.svc.Session(aliceCtx, f.alice.ID)
		require.NoError(t, err)
		assert.True(t, session.Active)

		require.NoError(t, f.svc.RevokeSession(aliceCtx, f.alice.ID))
		_, err = f.svc.RefreshAccessToken(ctx, pair.RefreshToken)
		assert.Equal(t, errs.KindAuthentication, errs.KindOf(err))

		session, err = f.svc.Session(aliceCtx, f.alice.ID)
		require.NoError(t, err)
		assert.False(t, session.Active)
	})

	t.Run("new login supersedes the previous session", func(t *testing.T) {
		first, err := f.svc.Login(ctx, auth.LoginRequest{Identifier: "bob", Secret: "password-bob"})
		require.NoError(t, err)
		_, err = f.svc.Login(ctx, auth.LoginRequest{Identifier: "bob", Secret: "password-bob"})
		require.NoError(t, err)
		_, err = f.svc.RefreshAccessToken(ctx, first.RefreshToken)
		assert.Equal(t, errs.TokenRevoked, errs.ReasonOf(err))
	})

	t.Run("disabled role cannot refresh", func(t *testing.T) {
		current, err := f.svc.Login(ctx, auth.LoginRequest{Identifier: "bob", Secret: "password-bob"})
		require.NoError(t, err)
		require.NoError(t, f.svc.SetRoleStatus(system(), f.staff.ID, rbac.StatusDisabled))
		_, err = f.svc.RefreshAccessToken(ctx, current.RefreshToken)
		assert.Equal(t, errs.KindAuthentication, errs.KindOf(err))
	})
}

func TestService_Policy(t *testing.T) {
	f := newFixture(t)
	ctx := system()

	_, err := f.svc.CreatePermission(ctx, rbac.Permission{
		Code: "order.read", Name: "Read orders", ResourcePath: "/v1/orders/*", ResourceMethod: "get", Type: rbac.PermissionAPI,
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.AssignTemplate(ctx, rbac.LevelStandard, []string{"order.read"}))

	ok, err := f.svc.HasCapability(context.Background(), f.bob.ID, "order.read")
	require.NoError(t, err)
	assert.True(t, ok)

	code, found, err := f.svc.PermissionForRoute(context.Background(), "/v1/orders/42", "GET")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "order.read", code)

	t.Run("revoke", func(t *testing.T) {
		require.NoError(t, f.svc.Revoke(ctx, f.staff.ID, []string{"order.read"}))
		ok, err := f.svc.HasCapability(context.Background(), f.bob.ID, "order.read")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("only ALL scope administers policy", func(t *testing.T) {
		err := f.svc.Grant(f.as(t, f.alice), f.staff.ID, []string{"order.read"})
		assert.Equal(t, errs.ScopeDenied, errs.ReasonOf(err))

		_, err = f.svc.CreateRole(f.as(t, f.alice), rbac.CreateRoleRequest{Code: "X", Name: "X", Level: rbac.LevelStandard})
		assert.Equal(t, errs.KindAuthorization, errs.KindOf(err))
	})

	t.Run("second super admin", func(t *testing.T) {
		_, err := f.svc.CreateRole(ctx, rbac.CreateRoleRequest{Code: "SUPER2", Name: "Super 2", Level: rbac.LevelSuperAdmin})
		assert.Equal(t, errs.RoleLevelTaken, errs.ReasonOf(err))
	})

	recs := f.records(t, audit.Filter{Module: audit.ModuleRBAC, Operation: "assign_template"})
	require.Len(t, recs, 1)
	assert.JSONEq(t, `["order.read"]`, string(recs[0].After))
}

func TestService_ApplyScopeFilter(t *testing.T) {
	f := newFixture(t)
	acl, err := f.svc.ResolveACL(context.Background(), f.alice.ID)
	require.NoError(t, err)

	q, err := f.svc.ApplyScopeFilter(&scope.Query{Table: "orders"}, acl)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM orders WHERE org_code = 'ORG-A'", q.String())
}

func TestService_AuditReads(t *testing.T) {
	f := newFixture(t)

	f.svc.RecordAudit(f.as(t, f.alice), audit.Entry{Module: audit.ModuleOrgs, Operation: "export_orders"})
	f.svc.RecordAudit(f.as(t, f.bob), audit.Entry{Module: audit.ModuleOrgs, Operation: "export_orders"})

	filter := audit.Filter{Operation: "export_orders"}

	t.Run("super admin sees all", func(t *testing.T) {
		page, err := f.svc.ListAudit(f.as(t, f.root), filter)
		require.NoError(t, err)
		assert.Equal(t, 2, page.Total)
	})

	t.Run("org admin sees own org", func(t *testing.T) {
		page, err := f.svc.ListAudit(f.as(t, f.alice), filter)
		require.NoError(t, err)
		require.Equal(t, 1, page.Total)
		assert.Equal(t, "ORG-A", page.Records[0].Actor.OrgCode)
	})

	t.Run("standard member sees own records", func(t *testing.T) {
		page, err := f.svc.ListAudit(f.as(t, f.bob), filter)
		require.NoError(t, err)
		require.Equal(t, 1, page.Total)
		assert.Equal(t, f.bob.ID, page.Records[0].Actor.ID)

		data, err := f.svc.ExportAudit(f.as(t, f.bob), filter, audit.ExportFormatCSV)
		require.NoError(t, err)
		assert.NotContains(t, string(data), f.alice.ID)
	})

	t.Run("get hides records outside scope", func(t *testing.T) {
		page, err := f.svc.ListAudit(f.as(t, f.alice), filter)
		require.NoError(t, err)
		id := page.Records[0].ID

		_, err = f.svc.GetAudit(f.as(t, f.bob), id)
		assert.True(t, errs.IsNotFound(err))

		rec, err := f.svc.GetAudit(f.as(t, f.alice), id)
		require.NoError(t, err)
		assert.Equal(t, id, rec.ID)
	})
}

func TestService_Reads(t *testing.T) {
	f := newFixture(t)
	aliceCtx := f.as(t, f.alice)

	t.Run("ancestors are clipped to scope", func(t *testing.T) {
		chain, err := f.svc.OrgAncestors(aliceCtx, "ORG-A")
		require.NoError(t, err)
		require.Len(t, chain, 1)
		assert.Equal(t, "ORG-A", chain[0].Code)

		chain, err = f.svc.OrgAncestors(f.as(t, f.root), "ORG-A")
		require.NoError(t, err)
		assert.Len(t, chain, 2)
	})

	t.Run("members outside scope are not found", func(t *testing.T) {
		_, err := f.svc.GetMember(aliceCtx, f.bob.ID)
		assert.True(t, errs.IsNotFound(err))

		self, err := f.svc.GetMember(f.as(t, f.bob), f.bob.ID)
		require.NoError(t, err)
		assert.Equal(t, "bob", self.LoginName)

		members, err := f.svc.ListMembers(aliceCtx, "ORG-A")
		require.NoError(t, err)
		require.Len(t, members, 1)
		assert.Equal(t, f.alice.ID, members[0].ID)

		_, err = f.svc.ListMembers(aliceCtx, "ORG-B")
		assert.Equal(t, errs.KindAuthorization, errs.KindOf(err))
	})

	t.Run("update is audited with both snapshots", func(t *testing.T) {
		name := "Division A"
		org, err := f.svc.UpdateOrg(aliceCtx, "ORG-A", orgs.UpdateOrgRequest{Name: &name})
		require.NoError(t, err)
		assert.Equal(t, name, org.Name)

		recs := f.records(t, audit.Filter{Module: audit.ModuleOrgs, Operation: "update"})
		require.Len(t, recs, 1)
		assert.Contains(t, string(recs[0].Before), `"name":"A"`)
		assert.Contains(t, string(recs[0].After), `"name":"Division A"`)
	})
}

func TestOrgChildren(t *testing.T) {
	f := newFixture(t)

	all, err := f.svc.OrgChildren(f.as(t, f.root), "ROOT", false)
	require.NoError(t, err)
	var codes []string
	for _, o := range all {
		codes = append(codes, o.Code)
	}
	assert.Equal(t, []string{"ORG-A", "ORG-B"}, codes)

	own, err := f.svc.OrgChildren(f.as(t, f.alice), "ORG-A", true)
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, "ORG-A", own[0].Code)

	_, err = f.svc.OrgChildren(f.as(t, f.alice), "ROOT", false)
	assert.Equal(t, errs.KindAuthorization, errs.KindOf(err))
}
