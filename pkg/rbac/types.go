package rbac

import (
	"sort"
	"time"
)

// Level is a role's privilege tier. Lower is more privileged.
type Level int

const (
	LevelSuperAdmin Level = 1
	LevelOrgAdmin   Level = 2
	LevelStandard   Level = 3
)

// Valid reports whether l is a known level
func (l Level) Valid() bool {
	return l >= LevelSuperAdmin && l <= LevelStandard
}

func (l Level) String() string {
	switch l {
	case LevelSuperAdmin:
		return "super_admin"
	case LevelOrgAdmin:
		return "org_admin"
	case LevelStandard:
		return "standard"
	default:
		return "unknown"
	}
}

// Scope is the row visibility tier of an ACL
type Scope string

const (
	ScopeAll  Scope = "ALL"
	ScopeOrg  Scope = "ORG"
	ScopeSelf Scope = "SELF"
)

// ScopeForLevel returns the data scope a role level grants
func ScopeForLevel(l Level) Scope {
	switch l {
	case LevelSuperAdmin:
		return ScopeAll
	case LevelOrgAdmin:
		return ScopeOrg
	default:
		return ScopeSelf
	}
}

// Wildcard is the capability held by super admins. It matches every code.
const Wildcard = "*"

// Status is the lifecycle state of roles and permissions
type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
)

// Role is a named privilege level. Org admin roles belong to one organization.
type Role struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Level     Level     `json:"level"`
	OrgCode   string    `json:"org_code,omitempty"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsActive reports whether the role grants anything
func (r *Role) IsActive() bool {
	return r.Status == StatusActive
}

// PermissionType classifies what a permission guards
type PermissionType string

const (
	PermissionMenu   PermissionType = "menu"
	PermissionAPI    PermissionType = "api"
	PermissionButton PermissionType = "button"
)

// Permission guards one operation, usually an API route and method
type Permission struct {
	Code           string         `json:"code" yaml:"code" validate:"required,max=128"`
	Name           string         `json:"name" yaml:"name" validate:"max=255"`
	ResourcePath   string         `json:"resource_path" yaml:"path" validate:"required,startswith=/"`
	ResourceMethod string         `json:"resource_method" yaml:"method" validate:"required,oneof=GET POST PUT PATCH DELETE HEAD OPTIONS *"`
	Type           PermissionType `json:"type" yaml:"type" validate:"required,oneof=menu api button"`
	Status         Status         `json:"status" yaml:"-"`
	CreatedAt      time.Time      `json:"created_at" yaml:"-"`
}

// Effect is the direction of a role override
type Effect string

const (
	EffectGrant  Effect = "grant"
	EffectRevoke Effect = "revoke"
)

// CreateRoleRequest represents a request to create a role
type CreateRoleRequest struct {
	Code    string `json:"code" validate:"required,code,max=64"`
	Name    string `json:"name" validate:"required,max=255"`
	Level   Level  `json:"level" validate:"required,min=1,max=3"`
	OrgCode string `json:"org_code,omitempty" validate:"required_if=Level 2,max=64"`
}

// ACL is the resolved capability set and data scope of a member. It is derived
// data and never persisted outside the cache.
type ACL struct {
	MemberID string `json:"member_id"`
	RoleCode string `json:"role_code,omitempty"`
	Level    Level  `json:"level,omitempty"`
	OrgCode  string `json:"org_code"`
	// OrgCodes widens ScopeOrg to further organizations. The resolver
	// leaves it empty.
	OrgCodes     []string `json:"org_codes,omitempty"`
	Capabilities []string `json:"capabilities"`
	Scope        Scope    `json:"scope"`
}

// DenyAll returns the fail-closed ACL for a member
func DenyAll(memberID, orgCode string) *ACL {
	return &ACL{
		MemberID:     memberID,
		OrgCode:      orgCode,
		Capabilities: []string{},
		Scope:        ScopeSelf,
	}
}

// HasCapability reports whether acl holds code, directly or through the wildcard.
// A nil ACL holds nothing.
func HasCapability(acl *ACL, code string) bool {
	if acl == nil || code == "" {
		return false
	}
	for _, c := range acl.Capabilities {
		if c == Wildcard || c == code {
			return true
		}
	}
	return false
}

// HasCapability reports whether the ACL holds code
func (a *ACL) HasCapability(code string) bool {
	return HasCapability(a, code)
}

// CanSeeOrg reports whether the ACL's scope covers rows owned by orgCode
func (a *ACL) CanSeeOrg(orgCode string) bool {
	if a == nil {
		return false
	}
	switch a.Scope {
	case ScopeAll:
		return true
	case ScopeOrg:
		if orgCode == a.OrgCode {
			return true
		}
		for _, c := range a.OrgCodes {
			if c == orgCode {
				return true
			}
		}
	}
	return false
}

// capabilitySet resolves template, grants and revokes into a sorted list
func capabilitySet(template, grants, revokes []string) []string {
	set := make(map[string]struct{}, len(template)+len(grants))
	for _, c := range template {
		set[c] = struct{}{}
	}
	for _, c := range grants {
		set[c] = struct{}{}
	}
	for _, c := range revokes {
		delete(set, c)
	}

	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
