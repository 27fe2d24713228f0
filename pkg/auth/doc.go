// Package auth authenticates members and manages their access and refresh
// tokens.
//
// # Tokens
//
// Access tokens are HS256 JWTs carrying the member id (sub), role code, org
// code and expiry. They are validated cryptographically and never looked up,
// so revoking a session only stops future refreshes; an issued access token
// stays valid until it expires. The access TTL is therefore capped at 30
// minutes.
//
// Refresh tokens are JWTs too, but clients treat them as opaque. The SHA-256
// of the current refresh token is kept in the KV store under refresh:{member}
// with the refresh TTL:
//
//	pair, err := tokens.Issue(ctx, auth.Subject{MemberID: m.ID, RoleCode: "clerk", OrgCode: m.OrgCode})
//	...
//	next, err := tokens.Refresh(ctx, pair.RefreshToken)
//
// Issuing overwrites the entry, so each member has at most one live session.
// Refreshing does not rotate the refresh token.
//
// # Credentials
//
// Authenticator checks an identifier (login name or member code) and secret
// against the member's bcrypt hash. Unknown members, wrong secrets and
// disabled members all fail with the same InvalidCredentials reason.
package auth
