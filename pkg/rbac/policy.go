package rbac

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/platinummonkey/warden/pkg/errs"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/orgs"
	"github.com/platinummonkey/warden/pkg/validation"
)

// Invalidation triggers, used as metric labels
const (
	TriggerTemplate         = "template"
	TriggerGrant            = "grant"
	TriggerRevoke           = "revoke"
	TriggerRoleStatus       = "role_status"
	TriggerPermissionStatus = "permission_status"
	TriggerMemberRole       = "member_role"
	TriggerMemberStatus     = "member_status"
)

// OrgLookup finds organizations for role scoping
type OrgLookup interface {
	Get(ctx context.Context, code string) (*orgs.Organization, error)
}

// Policy mutates roles, permissions and the links between them. Every mutation
// that can change a resolved ACL invalidates the cached ACLs of all affected
// members after commit and before returning.
type Policy struct {
	store    *Store
	resolver *Resolver
	orgs     OrgLookup
	logger   *observability.Logger
	now      func() time.Time
}

// NewPolicy creates a new policy manager
func NewPolicy(store *Store, resolver *Resolver, orgLookup OrgLookup, logger *observability.Logger) *Policy {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Policy{
		store:    store,
		resolver: resolver,
		orgs:     orgLookup,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Store returns the underlying store
func (p *Policy) Store() *Store {
	return p.store
}

// CreateRole creates an active role. At most one active level 1 role may exist,
// and at most one active level 2 role per organization.
func (p *Policy) CreateRole(ctx context.Context, req CreateRoleRequest) (*Role, error) {
	const op = "rbac.CreateRole"
	if err := validation.Struct(op, req); err != nil {
		return nil, err
	}
	if req.Level == LevelSuperAdmin && req.OrgCode != "" {
		return nil, errs.Validation(op, "super admin roles are not scoped to an organization")
	}

	now := p.now()
	role := &Role{
		Code:      req.Code,
		Name:      req.Name,
		Level:     req.Level,
		OrgCode:   req.OrgCode,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := p.store.DB().InTx(ctx, func(ctx context.Context) error {
		if _, err := p.store.GetRoleByCode(ctx, req.Code); err == nil {
			return errs.Conflict(op, errs.DuplicateCode, "role %s already exists", req.Code)
		} else if !errs.IsNotFound(err) {
			return err
		}

		if role.OrgCode != "" {
			org, err := p.orgs.Get(ctx, role.OrgCode)
			if errs.IsNotFound(err) {
				return errs.Validation(op, "organization %s does not exist", role.OrgCode)
			}
			if err != nil {
				return err
			}
			if !org.IsActive() {
				return errs.Validation(op, "organization %s is disabled", role.OrgCode)
			}
		}

		if err := p.ensureLevelFree(ctx, op, role); err != nil {
			return err
		}
		return p.store.InsertRole(ctx, role)
	})
	if err != nil {
		return nil, err
	}

	p.logger.WithFields(map[string]interface{}{
		"role_code": role.Code,
		"level":     int(role.Level),
		"org_code":  role.OrgCode,
	}).Info("Role created")
	return role, nil
}

func (p *Policy) ensureLevelFree(ctx context.Context, op string, role *Role) error {
	switch role.Level {
	case LevelSuperAdmin:
		n, err := p.store.CountActiveRoles(ctx, LevelSuperAdmin, "")
		if err != nil {
			return err
		}
		if n > 0 {
			return errs.Conflict(op, errs.RoleLevelTaken, "an active super admin role already exists")
		}
	case LevelOrgAdmin:
		n, err := p.store.CountActiveRoles(ctx, LevelOrgAdmin, role.OrgCode)
		if err != nil {
			return err
		}
		if n > 0 {
			return errs.Conflict(op, errs.RoleLevelTaken, "organization %s already has an active admin role", role.OrgCode)
		}
	}
	return nil
}

// SetRoleStatus enables or disables a role and returns its previous state.
// Enabling re-checks the single admin rules.
func (p *Policy) SetRoleStatus(ctx context.Context, id string, status Status) (*Role, error) {
	const op = "rbac.SetRoleStatus"
	if status != StatusActive && status != StatusDisabled {
		return nil, errs.Validation(op, "invalid status %q", status)
	}

	var before *Role
	var affected []string
	err := p.store.DB().InTx(ctx, func(ctx context.Context) error {
		var err error
		before, err = p.store.GetRole(ctx, id)
		if err != nil {
			return err
		}
		if before.Status == status {
			return nil
		}
		if status == StatusActive {
			if err := p.ensureLevelFree(ctx, op, before); err != nil {
				return err
			}
		}
		if err := p.store.SetRoleStatus(ctx, id, status, p.now()); err != nil {
			return err
		}
		affected, err = p.store.MemberIDsByRole(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := p.resolver.Invalidate(ctx, TriggerRoleStatus, affected...); err != nil {
		return nil, err
	}
	return before, nil
}

// CreatePermission registers an active permission
func (p *Policy) CreatePermission(ctx context.Context, perm Permission) (*Permission, error) {
	const op = "rbac.CreatePermission"
	perm.ResourceMethod = strings.ToUpper(perm.ResourceMethod)
	if err := validation.Struct(op, perm); err != nil {
		return nil, err
	}
	perm.Status = StatusActive
	perm.CreatedAt = p.now()

	if err := p.store.InsertPermission(ctx, &perm); err != nil {
		return nil, err
	}
	return &perm, nil
}

// SetPermissionStatus enables or disables a permission. Disabled permissions
// drop out of every ACL.
func (p *Policy) SetPermissionStatus(ctx context.Context, code string, status Status) error {
	const op = "rbac.SetPermissionStatus"
	if status != StatusActive && status != StatusDisabled {
		return errs.Validation(op, "invalid status %q", status)
	}

	var affected []string
	err := p.store.DB().InTx(ctx, func(ctx context.Context) error {
		if err := p.store.SetPermissionStatus(ctx, code, status); err != nil {
			return err
		}
		var err error
		affected, err = p.store.MemberIDsByPermission(ctx, code)
		return err
	})
	if err != nil {
		return err
	}
	return p.resolver.Invalidate(ctx, TriggerPermissionStatus, affected...)
}

// AssignTemplate replaces the permission template of level and returns the
// previous codes. Super admins hold the wildcard and have no template.
func (p *Policy) AssignTemplate(ctx context.Context, level Level, codes []string) ([]string, error) {
	const op = "rbac.AssignTemplate"
	if level != LevelOrgAdmin && level != LevelStandard {
		return nil, errs.Validation(op, "templates exist for levels 2 and 3 only, got %d", int(level))
	}
	codes = normalizeCodes(codes)

	var previous, affected []string
	err := p.store.DB().InTx(ctx, func(ctx context.Context) error {
		if err := p.requirePermissions(ctx, op, codes); err != nil {
			return err
		}
		var err error
		if previous, err = p.store.TemplateCodes(ctx, level); err != nil {
			return err
		}
		if err := p.store.ReplaceTemplate(ctx, level, codes); err != nil {
			return err
		}
		affected, err = p.store.MemberIDsByLevel(ctx, level)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := p.resolver.Invalidate(ctx, TriggerTemplate, affected...); err != nil {
		return nil, err
	}
	p.logger.WithFields(map[string]interface{}{
		"level":       int(level),
		"permissions": len(codes),
		"members":     len(affected),
	}).Info("Permission template assigned")
	return previous, nil
}

// Template returns the active codes of a level template
func (p *Policy) Template(ctx context.Context, level Level) ([]string, error) {
	return p.store.TemplateCodes(ctx, level)
}

// Grant adds codes to a role on top of its level template
func (p *Policy) Grant(ctx context.Context, roleID string, codes []string) error {
	return p.override(ctx, "rbac.Grant", roleID, EffectGrant, TriggerGrant, codes)
}

// Revoke removes codes from a role even when its level template holds them
func (p *Policy) Revoke(ctx context.Context, roleID string, codes []string) error {
	return p.override(ctx, "rbac.Revoke", roleID, EffectRevoke, TriggerRevoke, codes)
}

func (p *Policy) override(ctx context.Context, op, roleID string, effect Effect, trigger string, codes []string) error {
	codes = normalizeCodes(codes)
	if len(codes) == 0 {
		return errs.Validation(op, "at least one permission code is required")
	}

	var affected []string
	err := p.store.DB().InTx(ctx, func(ctx context.Context) error {
		if _, err := p.store.GetRole(ctx, roleID); err != nil {
			return err
		}
		if err := p.requirePermissions(ctx, op, codes); err != nil {
			return err
		}
		if err := p.store.SetOverrides(ctx, roleID, effect, codes); err != nil {
			return err
		}
		var err error
		affected, err = p.store.MemberIDsByRole(ctx, roleID)
		return err
	})
	if err != nil {
		return err
	}
	return p.resolver.Invalidate(ctx, trigger, affected...)
}

func (p *Policy) requirePermissions(ctx context.Context, op string, codes []string) error {
	missing, err := p.store.MissingPermissions(ctx, codes)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return errs.NotFound(op, "unknown permissions: %s", strings.Join(missing, ", "))
	}
	return nil
}

// normalizeCodes trims, de-duplicates and sorts codes
func normalizeCodes(codes []string) []string {
	seen := make(map[string]bool, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
