// Package server exposes the authz facade as a JSON admin API.
//
// Routes live under /v1. Login and refresh are public; everything else
// needs a bearer access token. Each private route also requires a
// capability, checked by middleware before the facade applies data scope:
//
//	POST   /v1/auth/login                      public, rate limited per client IP
//	POST   /v1/auth/refresh                    public
//	POST   /v1/auth/logout                     any member
//	GET    /v1/auth/session | /v1/auth/acl     any member
//	GET    /v1/sessions/{member_id}            session.revoke
//	DELETE /v1/sessions/{member_id}            session.revoke
//	POST   /v1/orgs                            org.write
//	GET    /v1/orgs/tree?root=CODE             org.read
//	GET    /v1/orgs/{code}[/ancestors|/children|/members] org.read
//	PATCH  /v1/orgs/{code}                     org.write
//	DELETE /v1/orgs/{code}                     org.write
//	POST   /v1/orgs/{code}/move | /enable      org.write
//	POST   /v1/members                         member.write
//	GET    /v1/members/{id}                    org.read
//	PUT    /v1/members/{id}/role | /status     member.write
//	POST   /v1/roles                           role.write
//	PUT    /v1/roles/{id}/status               role.write
//	POST   /v1/roles/{id}/grants | /revokes    role.write
//	PUT    /v1/templates/{level}               role.write
//	POST   /v1/permissions                     permission.write
//	GET    /v1/permissions/route               permission.read
//	PUT    /v1/permissions/{code}/status       permission.write
//	GET    /v1/audit/records[/{id}] | /export  audit.read
//
// Errors are rendered by httputil.WriteKindError.
package server
