// Package rbac resolves members into access control lists and manages the
// roles and permissions those lists are built from.
//
// # Levels and scopes
//
// Roles carry a level. Lower is more privileged:
//
//	1  super admin   capabilities {"*"}                      scope ALL
//	2  org admin     template(2) + grants - revokes          scope ORG
//	3  standard      template(3) + grants - revokes          scope SELF
//
// At most one active level 1 role exists, and at most one active level 2 role
// per organization. Partial unique indexes enforce both rules in the store.
//
// # Resolution
//
// Resolver.ResolveACL loads the member and its role and expands them into an
// ACL. A disabled member, a disabled role or a dangling role reference yields
// an empty capability set with SELF scope. Store failures are returned so the
// caller denies.
//
// Resolved ACLs are cached under acl:{member_id}. Every Policy mutation that
// can change an ACL deletes the cached entries of all affected members after
// commit and before returning. If that deletion fails the mutation reports a
// transient error.
//
// # Templates file
//
// Permissions and level templates can be seeded from YAML:
//
//	permissions:
//	  - code: org.create
//	    name: Create organization
//	    path: /v1/orgs
//	    method: POST
//	    type: api
//	templates:
//	  2: [org.create]
//	  3: []
//
// TemplateWatcher re-applies the file when it changes on disk.
package rbac
