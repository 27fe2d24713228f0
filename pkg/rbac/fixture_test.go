package rbac

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/orgs"
	"github.com/platinummonkey/warden/pkg/storage"
	"github.com/platinummonkey/warden/pkg/storage/storagetest"
)

type fixture struct {
	orgs     *orgs.Manager
	store    *Store
	policy   *Policy
	resolver *Resolver
	cache    *storage.LocalKV
	metrics  *observability.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithKV(t, nil)
}

func newFixtureWithKV(t *testing.T, kv storage.KV) *fixture {
	t.Helper()

	db := storagetest.NewSQLite(t)
	f := &fixture{
		orgs:    orgs.NewManager(orgs.NewStore(db)),
		store:   NewStore(db),
		cache:   storage.NewLocalKV(128),
		metrics: observability.NewMetrics(prometheus.NewRegistry()),
	}
	if kv == nil {
		kv = f.cache
	}
	f.resolver = NewResolver(f.store, f.orgs, WithCache(kv, time.Minute), WithResolverMetrics(f.metrics))
	f.policy = NewPolicy(f.store, f.resolver, f.orgs, nil)

	_, err := f.orgs.Create(context.Background(), orgs.CreateOrgRequest{Code: "ROOT", Name: "Root"})
	require.NoError(t, err)
	_, err = f.orgs.Create(context.Background(), orgs.CreateOrgRequest{Code: "ORG-A", Name: "A", ParentCode: "ROOT"})
	require.NoError(t, err)
	_, err = f.orgs.Create(context.Background(), orgs.CreateOrgRequest{Code: "ORG-B", Name: "B", ParentCode: "ROOT"})
	require.NoError(t, err)
	return f
}

func (f *fixture) role(t *testing.T, code string, level Level, orgCode string) *Role {
	t.Helper()
	role, err := f.policy.CreateRole(context.Background(), CreateRoleRequest{
		Code: code, Name: code, Level: level, OrgCode: orgCode,
	})
	require.NoError(t, err)
	return role
}

func (f *fixture) member(t *testing.T, code, orgCode, roleID string) *orgs.Member {
	t.Helper()
	m, err := f.orgs.CreateMember(context.Background(), orgs.CreateMemberRequest{
		Code: code, LoginName: code, OrgCode: orgCode, RoleID: roleID, CredentialHash: "x",
	})
	require.NoError(t, err)
	return m
}

func (f *fixture) permissions(t *testing.T, codes ...string) {
	t.Helper()
	for _, code := range codes {
		_, err := f.policy.CreatePermission(context.Background(), Permission{
			Code: code, Name: code, ResourcePath: "/v1/" + code, ResourceMethod: "GET", Type: PermissionAPI,
		})
		require.NoError(t, err)
	}
}

// brokenKV reads like an empty cache and fails every delete
type brokenKV struct{}

func (brokenKV) Get(context.Context, string) (string, bool, error) { return "", false, nil }

func (brokenKV) Set(context.Context, string, string, time.Duration) error { return nil }

func (brokenKV) Del(context.Context, ...string) error { return errors.New("connection refused") }

// gatedKV holds the first ACL write until release is closed
type gatedKV struct {
	storage.KV
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedKV(kv storage.KV) *gatedKV {
	return &gatedKV{KV: kv, entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if strings.HasPrefix(key, aclKeyPrefix) {
		first := false
		g.once.Do(func() { first = true })
		if first {
			close(g.entered)
			<-g.release
		}
	}
	return g.KV.Set(ctx, key, value, ttl)
}
