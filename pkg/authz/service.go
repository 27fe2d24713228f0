package authz

import (
	"context"
	"fmt"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/contextkeys"
	"github.com/platinummonkey/warden/pkg/errs"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/orgs"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/scope"
)

// Capability codes guarding the administrative API
const (
	CapOrgRead         = "org.read"
	CapOrgWrite        = "org.write"
	CapMemberWrite     = "member.write"
	CapRoleWrite       = "role.write"
	CapPermissionRead  = "permission.read"
	CapPermissionWrite = "permission.write"
	CapSessionRevoke   = "session.revoke"
	CapAuditRead       = "audit.read"
)

// Config wires the components behind the facade
type Config struct {
	Orgs          *orgs.Manager
	Policy        *rbac.Policy
	Resolver      *rbac.Resolver
	Filter        *scope.Filter
	Authenticator *auth.Authenticator
	Tokens        *auth.TokenManager
	Hasher        auth.Hasher
	Audit         *audit.Recorder
	Logger        *observability.Logger
}

// Service is the authorization core's public contract. Every mutation is
// checked against the caller's data scope and recorded in the audit trail.
//
// The caller is taken from the context: an ACL attached with
// contextkeys.WithACL, or contextkeys.WithSystem for trusted internal work.
// A context carrying neither is rejected.
type Service struct {
	orgs     *orgs.Manager
	policy   *rbac.Policy
	resolver *rbac.Resolver
	filter   *scope.Filter
	authn    *auth.Authenticator
	tokens   *auth.TokenManager
	hasher   auth.Hasher
	audit    *audit.Recorder
	logger   *observability.Logger
}

// New creates the facade
func New(cfg Config) (*Service, error) {
	switch {
	case cfg.Orgs == nil:
		return nil, fmt.Errorf("authz: orgs manager is required")
	case cfg.Policy == nil || cfg.Resolver == nil:
		return nil, fmt.Errorf("authz: policy and resolver are required")
	case cfg.Authenticator == nil || cfg.Tokens == nil || cfg.Hasher == nil:
		return nil, fmt.Errorf("authz: authenticator, token manager and hasher are required")
	case cfg.Audit == nil:
		return nil, fmt.Errorf("authz: audit recorder is required")
	}
	if cfg.Filter == nil {
		cfg.Filter = scope.NewFilter()
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}
	return &Service{
		orgs:     cfg.Orgs,
		policy:   cfg.Policy,
		resolver: cfg.Resolver,
		filter:   cfg.Filter,
		authn:    cfg.Authenticator,
		tokens:   cfg.Tokens,
		hasher:   cfg.Hasher,
		audit:    cfg.Audit,
		logger:   cfg.Logger,
	}, nil
}

// caller returns the ACL of the caller, or nil for system contexts
func (s *Service) caller(ctx context.Context, op string) (*rbac.ACL, error) {
	if contextkeys.IsSystem(ctx) {
		return nil, nil
	}
	acl := contextkeys.GetACL(ctx)
	if acl == nil {
		return nil, errs.E(errs.KindAuthentication, op, "", "no authenticated caller")
	}
	return acl, nil
}

// requireAll admits system callers and ALL scope only
func requireAll(op string, acl *rbac.ACL) error {
	if acl == nil || acl.Scope == rbac.ScopeAll {
		return nil
	}
	return errs.Authorization(op, errs.ScopeDenied, "operation requires unrestricted scope")
}

// requireOrg admits callers whose scope covers orgCode. An empty orgCode
// means the top of the forest, which only ALL covers.
func requireOrg(op string, acl *rbac.ACL, orgCode string) error {
	if acl == nil || acl.Scope == rbac.ScopeAll {
		return nil
	}
	if orgCode != "" && acl.Scope == rbac.ScopeOrg && acl.CanSeeOrg(orgCode) {
		return nil
	}
	if orgCode == "" {
		return errs.Authorization(op, errs.ScopeDenied, "root organizations are outside the caller's scope")
	}
	return errs.Authorization(op, errs.ScopeDenied, "organization %s is outside the caller's scope", orgCode)
}

// actor describes the caller for audit records
func actor(ctx context.Context, acl *rbac.ACL) audit.Actor {
	if id, ok := contextkeys.GetIdentity(ctx); ok {
		return audit.Actor{ID: id.MemberID, OrgCode: id.OrgCode}
	}
	if acl != nil {
		return audit.Actor{ID: acl.MemberID, OrgCode: acl.OrgCode}
	}
	return audit.Actor{Code: "system"}
}

func (s *Service) record(ctx context.Context, acl *rbac.ACL, module audit.Module, operation string, target audit.Target, before, after interface{}, err error) {
	e := audit.Entry{
		Actor:     actor(ctx, acl),
		Module:    module,
		Operation: operation,
		Target:    target,
		Err:       err,
	}
	// typed nil pointers would serialize as "null"
	if before != nil && !isNilSnapshot(before) {
		e.Before = before
	}
	if after != nil && !isNilSnapshot(after) {
		e.After = after
	}
	s.audit.Record(ctx, e)
}

func isNilSnapshot(v interface{}) bool {
	switch x := v.(type) {
	case *orgs.Organization:
		return x == nil
	case *orgs.Member:
		return x == nil
	case *rbac.Role:
		return x == nil
	case *rbac.Permission:
		return x == nil
	}
	return false
}
