/*
Package authz is the facade the outer surfaces call. It composes the
organization hierarchy, the role policy and its ACL resolver, the token
lifecycle and the audit recorder.

The caller is taken from the context. contextkeys.WithACL sets an
authenticated caller; contextkeys.WithSystem marks internal work that runs
without one. A context carrying neither is rejected.

Capability checks happen before the facade is reached, in the HTTP
middleware. The facade enforces data scope:

	ALL   every organization
	ORG   the caller's organization subtree
	SELF  the caller's own records

Every mutation is audited, including the ones refused for scope. Audit
records can be read back through ListAudit, GetAudit and ExportAudit, which
apply the same scope to the actor of each record.

# Usage

	svc, err := authz.New(authz.Config{
		Orgs:          orgsManager,
		Policy:        policy,
		Resolver:      resolver,
		Authenticator: authenticator,
		Tokens:        tokens,
		Hasher:        hasher,
		Audit:         recorder,
	})

	pair, err := svc.Login(ctx, auth.LoginRequest{Identifier: "alice", Secret: secret})
*/
package authz
