package authz

import (
	"context"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/scope"
)

const (
	targetRole       = "role"
	targetPermission = "permission"
	targetTemplate   = "template"
)

// ResolveACL returns the ACL of memberID. Failures deny.
func (s *Service) ResolveACL(ctx context.Context, memberID string) (*rbac.ACL, error) {
	return s.resolver.ResolveACL(ctx, memberID)
}

// HasCapability reports whether memberID holds code
func (s *Service) HasCapability(ctx context.Context, memberID, code string) (bool, error) {
	return s.resolver.HasCapability(ctx, memberID, code)
}

// PermissionForRoute returns the permission code guarding method on path
func (s *Service) PermissionForRoute(ctx context.Context, path, method string) (string, bool, error) {
	return s.policy.PermissionForRoute(ctx, path, method)
}

// ApplyScopeFilter restricts q to the rows acl may see
func (s *Service) ApplyScopeFilter(q *scope.Query, acl *rbac.ACL) (*scope.Query, error) {
	return s.filter.Apply(q, acl)
}

// CreateRole creates a role. Role administration needs ALL scope.
func (s *Service) CreateRole(ctx context.Context, req rbac.CreateRoleRequest) (*rbac.Role, error) {
	const op = "authz.CreateRole"
	acl, err := s.caller(ctx, op)
	if err != nil {
		return nil, err
	}

	var role *rbac.Role
	if err = requireAll(op, acl); err == nil {
		role, err = s.policy.CreateRole(ctx, req)
	}
	target := audit.Target{Type: targetRole, Name: req.Code}
	if role != nil {
		target.ID = role.ID
	}
	s.record(ctx, acl, audit.ModuleRBAC, "create_role", target, nil, role, err)
	return role, err
}

// SetRoleStatus enables or disables a role
func (s *Service) SetRoleStatus(ctx context.Context, roleID string, status rbac.Status) error {
	const op = "authz.SetRoleStatus"
	acl, err := s.caller(ctx, op)
	if err != nil {
		return err
	}

	var before *rbac.Role
	if err = requireAll(op, acl); err == nil {
		before, err = s.policy.SetRoleStatus(ctx, roleID, status)
	}
	s.record(ctx, acl, audit.ModuleRBAC, "set_role_status",
		audit.Target{Type: targetRole, ID: roleID}, before, map[string]rbac.Status{"status": status}, err)
	return err
}

// CreatePermission registers a permission
func (s *Service) CreatePermission(ctx context.Context, perm rbac.Permission) (*rbac.Permission, error) {
	const op = "authz.CreatePermission"
	acl, err := s.caller(ctx, op)
	if err != nil {
		return nil, err
	}

	var created *rbac.Permission
	if err = requireAll(op, acl); err == nil {
		created, err = s.policy.CreatePermission(ctx, perm)
	}
	s.record(ctx, acl, audit.ModuleRBAC, "create_permission",
		audit.Target{Type: targetPermission, ID: perm.Code, Name: perm.Name}, nil, created, err)
	return created, err
}

// SetPermissionStatus enables or disables a permission
func (s *Service) SetPermissionStatus(ctx context.Context, code string, status rbac.Status) error {
	const op = "authz.SetPermissionStatus"
	acl, err := s.caller(ctx, op)
	if err != nil {
		return err
	}

	if err = requireAll(op, acl); err == nil {
		err = s.policy.SetPermissionStatus(ctx, code, status)
	}
	s.record(ctx, acl, audit.ModuleRBAC, "set_permission_status",
		audit.Target{Type: targetPermission, ID: code}, nil, map[string]rbac.Status{"status": status}, err)
	return err
}

// AssignTemplate replaces the permission template of level
func (s *Service) AssignTemplate(ctx context.Context, level rbac.Level, codes []string) error {
	const op = "authz.AssignTemplate"
	acl, err := s.caller(ctx, op)
	if err != nil {
		return err
	}

	var previous []string
	if err = requireAll(op, acl); err == nil {
		previous, err = s.policy.AssignTemplate(ctx, level, codes)
	}
	var before interface{}
	if err == nil {
		before = previous
	}
	s.record(ctx, acl, audit.ModuleRBAC, "assign_template",
		audit.Target{Type: targetTemplate, ID: level.String()}, before, codes, err)
	return err
}

// Grant adds codes to a role on top of its template
func (s *Service) Grant(ctx context.Context, roleID string, codes []string) error {
	return s.override(ctx, "authz.Grant", "grant", roleID, codes, s.policy.Grant)
}

// Revoke removes codes from a role
func (s *Service) Revoke(ctx context.Context, roleID string, codes []string) error {
	return s.override(ctx, "authz.Revoke", "revoke", roleID, codes, s.policy.Revoke)
}

func (s *Service) override(ctx context.Context, op, operation, roleID string, codes []string,
	apply func(context.Context, string, []string) error) error {
	acl, err := s.caller(ctx, op)
	if err != nil {
		return err
	}

	if err = requireAll(op, acl); err == nil {
		err = apply(ctx, roleID, codes)
	}
	s.record(ctx, acl, audit.ModuleRBAC, operation,
		audit.Target{Type: targetRole, ID: roleID}, nil, codes, err)
	return err
}
