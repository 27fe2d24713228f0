package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/contextkeys"
	"github.com/platinummonkey/warden/pkg/errs"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/rbac"
)

// TokenParser validates access tokens
type TokenParser interface {
	ParseAccess(token string) (*auth.Claims, error)
}

// ACLResolver resolves the ACL of an authenticated member
type ACLResolver interface {
	ResolveACL(ctx context.Context, memberID string) (*rbac.ACL, error)
}

// RouteGuard maps a request path and method to the permission guarding it
type RouteGuard interface {
	PermissionForRoute(ctx context.Context, path, method string) (string, bool, error)
}

// AuthMiddleware authenticates bearer tokens and attaches the caller's
// identity and ACL to the request context
type AuthMiddleware struct {
	tokens  TokenParser
	acls    ACLResolver
	metrics *observability.Metrics
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(tokens TokenParser, acls ACLResolver, metrics *observability.Metrics) *AuthMiddleware {
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	return &AuthMiddleware{tokens: tokens, acls: acls, metrics: metrics}
}

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const op = "middleware.Authenticate"
		token, err := bearerToken(r, op)
		if err != nil {
			httputil.WriteKindError(w, err)
			return
		}

		claims, err := m.tokens.ParseAccess(token)
		if err != nil {
			httputil.WriteKindError(w, err)
			return
		}

		ctx := r.Context()
		acl, err := m.acls.ResolveACL(ctx, claims.MemberID())
		if err != nil {
			observability.FromContext(ctx).WithError(err).
				WithField("member_id", claims.MemberID()).
				Warn("Failed to resolve ACL")
			httputil.WriteKindError(w, err)
			return
		}

		ctx = contextkeys.WithIdentity(ctx, contextkeys.Identity{
			MemberID: claims.MemberID(),
			RoleCode: claims.Role,
			OrgCode:  claims.Org,
			TokenID:  claims.ID,
		})
		ctx = contextkeys.WithACL(ctx, acl)
		ctx = observability.WithMemberID(ctx, claims.MemberID())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireCapability admits requests whose ACL holds code
func (m *AuthMiddleware) RequireCapability(code string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := m.check(r.Context(), "middleware.RequireCapability", code); err != nil {
				httputil.WriteKindError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRoutePermission looks the request up in the permission catalogue
// and requires the matching capability. Routes without a registered
// permission only need an authenticated caller.
func (m *AuthMiddleware) RequireRoutePermission(guard RouteGuard) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middleware.RequireRoutePermission"
			code, found, err := guard.PermissionForRoute(r.Context(), r.URL.Path, r.Method)
			if err != nil {
				httputil.WriteKindError(w, err)
				return
			}
			if !found {
				if contextkeys.GetACL(r.Context()) == nil {
					httputil.WriteKindError(w, errs.Authentication(op, errs.InvalidCredentials))
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			if err := m.check(r.Context(), op, code); err != nil {
				httputil.WriteKindError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m *AuthMiddleware) check(ctx context.Context, op, code string) error {
	acl := contextkeys.GetACL(ctx)
	if acl == nil {
		m.metrics.AuthzDecisionsTotal.WithLabelValues("unauthenticated").Inc()
		return errs.Authentication(op, errs.InvalidCredentials)
	}
	if !acl.HasCapability(code) {
		m.metrics.AuthzDecisionsTotal.WithLabelValues("denied").Inc()
		observability.FromContext(ctx).WithField("capability", code).Info("Capability denied")
		return errs.Authorization(op, errs.CapabilityDenied, "missing capability %s", code)
	}
	m.metrics.AuthzDecisionsTotal.WithLabelValues("allowed").Inc()
	return nil
}

func bearerToken(r *http.Request, op string) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errs.E(errs.KindAuthentication, op, errs.TokenMalformed, "missing authorization header")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errs.E(errs.KindAuthentication, op, errs.TokenMalformed, "invalid authorization header format")
	}
	return strings.TrimSpace(token), nil
}
