package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/authz"
	"github.com/platinummonkey/warden/pkg/contextkeys"
	"github.com/platinummonkey/warden/pkg/middleware"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/orgs"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/storage"
	"github.com/platinummonkey/warden/pkg/storage/storagetest"
)

type testServer struct {
	handler http.Handler
	svc     *authz.Service
}

func newTestServer(t *testing.T, limiter middleware.Limiter) *testServer {
	t.Helper()
	db := storagetest.NewSQLite(t)
	kv := storage.NewLocalKV(128)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	orgsMgr := orgs.NewManager(orgs.NewStore(db))
	store := rbac.NewStore(db)
	resolver := rbac.NewResolver(store, orgsMgr, rbac.WithCache(kv, time.Minute))
	policy := rbac.NewPolicy(store, resolver, orgsMgr, nil)
	hasher := auth.NewBcryptHasher(bcrypt.MinCost)
	tokens, err := auth.NewTokenManager([]byte("0123456789abcdef0123456789abcdef"), kv,
		auth.WithSubjectLoader(authz.SubjectLoader(orgsMgr, store)))
	require.NoError(t, err)

	svc, err := authz.New(authz.Config{
		Orgs:          orgsMgr,
		Policy:        policy,
		Resolver:      resolver,
		Authenticator: auth.NewAuthenticator(orgsMgr, hasher, nil, metrics),
		Tokens:        tokens,
		Hasher:        hasher,
		Audit:         audit.NewRecorder(audit.NewSQLStore(db)),
	})
	require.NoError(t, err)

	ctx := contextkeys.WithSystem(context.Background())
	_, err = svc.CreateOrg(ctx, orgs.CreateOrgRequest{Code: "ROOT", Name: "Root"})
	require.NoError(t, err)
	super, err := svc.CreateRole(ctx, rbac.CreateRoleRequest{Code: "SUPER", Name: "Super", Level: rbac.LevelSuperAdmin})
	require.NoError(t, err)
	staff, err := svc.CreateRole(ctx, rbac.CreateRoleRequest{Code: "STAFF", Name: "Staff", Level: rbac.LevelStandard})
	require.NoError(t, err)
	for _, m := range []authz.CreateMemberRequest{
		{Code: "E001", LoginName: "root", OrgCode: "ROOT", RoleID: super.ID, Secret: "root-password"},
		{Code: "E002", LoginName: "bob", OrgCode: "ROOT", RoleID: staff.ID, Secret: "bob-password"},
	} {
		_, err := svc.CreateMember(ctx, m)
		require.NoError(t, err)
	}

	handler, err := NewRouter(Config{
		Service:      svc,
		Auth:         middleware.NewAuthMiddleware(tokens, resolver, metrics),
		LoginLimiter: limiter,
		Metrics:      metrics,
	})
	require.NoError(t, err)
	return &testServer{handler: handler, svc: svc}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	return w
}

func (ts *testServer) login(t *testing.T, login, secret string) auth.TokenPair {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/v1/auth/login", "", auth.LoginRequest{Identifier: login, Secret: secret})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var pair auth.TokenPair
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pair))
	return pair
}

func TestNewRouter_Requires(t *testing.T) {
	_, err := NewRouter(Config{})
	assert.Error(t, err)
}

func TestServer_Login(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/v1/auth/login", "", auth.LoginRequest{Identifier: "root", Secret: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotContains(t, w.Body.String(), "wrong")

	w = ts.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"identifier": "root", "password": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	pair := ts.login(t, "root", "root-password")
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
}

func TestServer_LoginRecordsOrigin(t *testing.T) {
	ts := newTestServer(t, nil)

	body, err := json.Marshal(auth.LoginRequest{Identifier: "bob", Secret: "bob-password"})
	require.NoError(t, err)
	r := httptest.NewRequest(http.MethodPost, "/v1/auth/login", bytes.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("User-Agent", "warden-cli/1.0")
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	page, err := ts.svc.ListAudit(contextkeys.WithSystem(context.Background()),
		audit.Filter{Module: audit.ModuleAuth, Operation: "login"})
	require.NoError(t, err)
	require.NotEmpty(t, page.Records)
	for _, rec := range page.Records {
		assert.Equal(t, "192.0.2.1", rec.Origin.IPAddress)
		assert.Equal(t, "warden-cli/1.0", rec.Origin.UserAgent)
	}
}

func TestServer_SessionLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)
	pair := ts.login(t, "bob", "bob-password")

	w := ts.do(t, http.MethodPost, "/v1/auth/refresh", "", auth.RefreshRequest{RefreshToken: pair.RefreshToken})
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, "/v1/auth/session", pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"active":true`)

	w = ts.do(t, http.MethodPost, "/v1/auth/logout", pair.AccessToken, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(t, http.MethodPost, "/v1/auth/refresh", "", auth.RefreshRequest{RefreshToken: pair.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestServer_Guards(t *testing.T) {
	ts := newTestServer(t, nil)
	root := ts.login(t, "root", "root-password")
	bob := ts.login(t, "bob", "bob-password")

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   interface{}
		want   int
	}{
		{"no token", http.MethodGet, "/v1/orgs/tree", "", nil, http.StatusUnauthorized},
		{"garbage token", http.MethodGet, "/v1/orgs/tree", "not-a-jwt", nil, http.StatusUnauthorized},
		{"missing capability", http.MethodGet, "/v1/orgs/tree", bob.AccessToken, nil, http.StatusForbidden},
		{"audit needs capability", http.MethodGet, "/v1/audit/records", bob.AccessToken, nil, http.StatusForbidden},
		{"super admin reads tree", http.MethodGet, "/v1/orgs/tree", root.AccessToken, nil, http.StatusOK},
		{"super admin creates", http.MethodPost, "/v1/orgs", root.AccessToken,
			orgs.CreateOrgRequest{Code: "ORG-A", Name: "A", ParentCode: "ROOT"}, http.StatusCreated},
		{"duplicate code", http.MethodPost, "/v1/orgs", root.AccessToken,
			orgs.CreateOrgRequest{Code: "ORG-A", Name: "A", ParentCode: "ROOT"}, http.StatusConflict},
		{"unknown org", http.MethodGet, "/v1/orgs/NOPE", root.AccessToken, nil, http.StatusNotFound},
		{"unknown route", http.MethodGet, "/v1/nothing", root.AccessToken, nil, http.StatusNotFound},
		{"wrong method", http.MethodGet, "/v1/auth/login", "", nil, http.StatusMethodNotAllowed},
		{"wrong method on private route", http.MethodGet, "/v1/roles", root.AccessToken, nil, http.StatusMethodNotAllowed},
		{"wrong method on shared path", http.MethodPut, "/v1/orgs/ROOT", root.AccessToken, nil, http.StatusMethodNotAllowed},
		{"wrong method on audit route", http.MethodPost, "/v1/audit/records", root.AccessToken, nil, http.StatusMethodNotAllowed},
		{"private auth path", http.MethodGet, "/v1/auth/acl", bob.AccessToken, nil, http.StatusOK},
		{"bad level", http.MethodPut, "/v1/templates/9", root.AccessToken, map[string][]string{"codes": {}}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestServer_AdminFlow(t *testing.T) {
	ts := newTestServer(t, nil)
	root := ts.login(t, "root", "root-password")
	bob := ts.login(t, "bob", "bob-password")

	w := ts.do(t, http.MethodGet, "/v1/audit/records", bob.AccessToken, nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, http.MethodPost, "/v1/permissions", root.AccessToken, rbac.Permission{
		Code: "audit.read", Name: "Read audit records", ResourcePath: "/v1/audit/*", ResourceMethod: "GET", Type: rbac.PermissionAPI,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = ts.do(t, http.MethodPut, "/v1/templates/3", root.AccessToken, map[string][]string{"codes": {"audit.read"}})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	// same access token, fresh ACL
	w = ts.do(t, http.MethodGet, "/v1/audit/records", bob.AccessToken, nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodGet, "/v1/permissions/route?path=/v1/audit/records&method=GET", root.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"permission":"audit.read"`)

	w = ts.do(t, http.MethodGet, "/v1/audit/records?module=rbac", root.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page audit.Page
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.GreaterOrEqual(t, page.Total, 2)

	w = ts.do(t, http.MethodGet, "/v1/audit/export?format=csv&module=rbac", root.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
}

func TestServer_LoginRateLimit(t *testing.T) {
	ts := newTestServer(t, middleware.NewRateLimiter(&middleware.RateLimitConfig{
		RequestsPerWindow: 1,
		WindowDuration:    time.Hour,
	}))

	first := ts.do(t, http.MethodPost, "/v1/auth/login", "", auth.LoginRequest{Identifier: "root", Secret: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, first.Code)
	second := ts.do(t, http.MethodPost, "/v1/auth/login", "", auth.LoginRequest{Identifier: "root", Secret: "root-password"})
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
}

func TestServer_RequestID(t *testing.T) {
	ts := newTestServer(t, nil)
	r := httptest.NewRequest(http.MethodGet, "/v1/orgs/tree", nil)
	r.Header.Set("X-Request-ID", "trace-me")
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "trace-me", w.Header().Get("X-Request-ID"))
}
