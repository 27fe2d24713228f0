// Package contextkeys provides centralized context key definitions
//
// All request-scoped values shared between the HTTP adapter and the authz
// facade are defined here.
//
//	ctx = contextkeys.WithIdentity(ctx, contextkeys.Identity{MemberID: claims.MemberID()})
//	id, ok := contextkeys.GetIdentity(ctx)
package contextkeys

import (
	"context"

	"github.com/platinummonkey/warden/pkg/rbac"
)

// Key is the type for context keys to prevent collisions
type Key string

const (
	// IdentityKey contains Identity
	// Set by: middleware.Authenticate (pkg/middleware/auth.go)
	// Used by: authz facade (audit actor), rate limiting
	IdentityKey Key = "identity"

	// ACLKey contains *rbac.ACL
	// Set by: middleware.Authenticate after resolving the caller
	// Used by: capability guards, authz scope checks
	ACLKey Key = "acl"

	// SystemKey marks a context as acting for warden itself
	// Set by: cmd/warden for bootstrap and scheduled jobs
	SystemKey Key = "system"
)

// Identity is the authenticated caller, taken from access token claims
type Identity struct {
	MemberID string `json:"member_id"`
	RoleCode string `json:"role_code"`
	OrgCode  string `json:"org_code"`
	TokenID  string `json:"token_id,omitempty"`
}

// WithIdentity adds the caller identity to the context
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, id)
}

// GetIdentity retrieves the caller identity from context
func GetIdentity(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(IdentityKey).(Identity)
	return id, ok
}

// WithACL adds the caller's resolved ACL to the context
func WithACL(ctx context.Context, acl *rbac.ACL) context.Context {
	return context.WithValue(ctx, ACLKey, acl)
}

// GetACL retrieves the caller's ACL, or nil
func GetACL(ctx context.Context) *rbac.ACL {
	acl, _ := ctx.Value(ACLKey).(*rbac.ACL)
	return acl
}

// WithSystem marks ctx as a trusted internal caller
func WithSystem(ctx context.Context) context.Context {
	return context.WithValue(ctx, SystemKey, true)
}

// IsSystem reports whether ctx was marked by WithSystem
func IsSystem(ctx context.Context) bool {
	v, _ := ctx.Value(SystemKey).(bool)
	return v
}
