package rbac

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/warden/pkg/errs"
	"github.com/platinummonkey/warden/pkg/storage"
)

const roleColumns = `id, code, name, level, org_code, status, created_at, updated_at`

const permissionColumns = `code, name, resource_path, resource_method, type, status, created_at`

// Store persists roles, permissions, level templates and role overrides
type Store struct {
	db *storage.DB
}

// NewStore creates a new RBAC store
func NewStore(db *storage.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database
func (s *Store) DB() *storage.DB {
	return s.db
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRole(row rowScanner) (*Role, error) {
	var role Role
	var orgCode sql.NullString
	var status string
	if err := row.Scan(&role.ID, &role.Code, &role.Name, &role.Level, &orgCode, &status,
		&role.CreatedAt, &role.UpdatedAt); err != nil {
		return nil, err
	}
	role.OrgCode = orgCode.String
	role.Status = Status(status)
	return &role, nil
}

func scanPermission(row rowScanner) (*Permission, error) {
	var p Permission
	var typ, status string
	if err := row.Scan(&p.Code, &p.Name, &p.ResourcePath, &p.ResourceMethod, &typ, &status, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Type = PermissionType(typ)
	p.Status = Status(status)
	return &p, nil
}

// roleConflictReason tells a duplicate role code apart from a taken admin slot
func roleConflictReason(err error) errs.Reason {
	msg := err.Error()
	if strings.Contains(msg, "roles.code") || strings.Contains(msg, "roles_code_key") {
		return errs.DuplicateCode
	}
	return errs.RoleLevelTaken
}

// InsertRole inserts a role. A missing ID is generated.
func (s *Store) InsertRole(ctx context.Context, role *Role) error {
	if role.ID == "" {
		role.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO roles (`+roleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, role.ID, role.Code, role.Name, int(role.Level), sql.NullString{String: role.OrgCode, Valid: role.OrgCode != ""},
		string(role.Status), role.CreatedAt, role.UpdatedAt)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return errs.Conflict("rbac.InsertRole", roleConflictReason(err), "role %s conflicts with an existing role", role.Code)
		}
		return storage.Classify("rbac.InsertRole", "", err)
	}
	return nil
}

// GetRole retrieves a role by ID
func (s *Store) GetRole(ctx context.Context, id string) (*Role, error) {
	role, err := scanRole(s.db.QueryRowContext(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("rbac.GetRole", "role %s not found", id)
	}
	if err != nil {
		return nil, storage.Classify("rbac.GetRole", "", err)
	}
	return role, nil
}

// GetRoleByCode retrieves a role by code
func (s *Store) GetRoleByCode(ctx context.Context, code string) (*Role, error) {
	role, err := scanRole(s.db.QueryRowContext(ctx, `SELECT `+roleColumns+` FROM roles WHERE code = ?`, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("rbac.GetRoleByCode", "role %s not found", code)
	}
	if err != nil {
		return nil, storage.Classify("rbac.GetRoleByCode", "", err)
	}
	return role, nil
}

// ListRoles returns every role ordered by level then code
func (s *Store) ListRoles(ctx context.Context) ([]*Role, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY level, code`)
	if err != nil {
		return nil, storage.Classify("rbac.ListRoles", "", err)
	}
	defer rows.Close()

	var roles []*Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, storage.Classify("rbac.ListRoles", "", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Classify("rbac.ListRoles", "", err)
	}
	return roles, nil
}

// CountActiveRoles counts active roles at level, restricted to orgCode when set
func (s *Store) CountActiveRoles(ctx context.Context, level Level, orgCode string) (int, error) {
	query := `SELECT COUNT(*) FROM roles WHERE level = ? AND status = ?`
	args := []interface{}{int(level), string(StatusActive)}
	if orgCode != "" {
		query += ` AND org_code = ?`
		args = append(args, orgCode)
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, storage.Classify("rbac.CountActiveRoles", "", err)
	}
	return n, nil
}

// SetRoleStatus changes a role's status
func (s *Store) SetRoleStatus(ctx context.Context, id string, status Status, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE roles SET status = ?, updated_at = ? WHERE id = ?`, string(status), at, id)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return errs.Conflict("rbac.SetRoleStatus", errs.RoleLevelTaken, "another active role holds this level")
		}
		return storage.Classify("rbac.SetRoleStatus", "", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storage.Classify("rbac.SetRoleStatus", "", err)
	}
	if n == 0 {
		return errs.NotFound("rbac.SetRoleStatus", "role %s not found", id)
	}
	return nil
}

// InsertPermission inserts a permission
func (s *Store) InsertPermission(ctx context.Context, p *Permission) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO permissions (`+permissionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.Code, p.Name, p.ResourcePath, p.ResourceMethod, string(p.Type), string(p.Status), p.CreatedAt)
	if err != nil {
		return storage.Classify("rbac.InsertPermission", errs.DuplicateCode, err)
	}
	return nil
}

// UpsertPermission inserts a permission or refreshes its descriptive fields.
// Status is left untouched on existing rows.
func (s *Store) UpsertPermission(ctx context.Context, p *Permission) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE permissions SET name = ?, resource_path = ?, resource_method = ?, type = ?
		WHERE code = ?
	`, p.Name, p.ResourcePath, p.ResourceMethod, string(p.Type), p.Code)
	if err != nil {
		return storage.Classify("rbac.UpsertPermission", "", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return storage.Classify("rbac.UpsertPermission", "", err)
	} else if n > 0 {
		return nil
	}
	return s.InsertPermission(ctx, p)
}

// GetPermission retrieves a permission by code
func (s *Store) GetPermission(ctx context.Context, code string) (*Permission, error) {
	p, err := scanPermission(s.db.QueryRowContext(ctx,
		`SELECT `+permissionColumns+` FROM permissions WHERE code = ?`, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("rbac.GetPermission", "permission %s not found", code)
	}
	if err != nil {
		return nil, storage.Classify("rbac.GetPermission", "", err)
	}
	return p, nil
}

// ListPermissions returns every permission ordered by code
func (s *Store) ListPermissions(ctx context.Context) ([]*Permission, error) {
	return s.queryPermissions(ctx, "rbac.ListPermissions",
		`SELECT `+permissionColumns+` FROM permissions ORDER BY code`)
}

// ListActivePermissionsByMethod returns active permissions guarding method,
// including permissions registered for any method.
func (s *Store) ListActivePermissionsByMethod(ctx context.Context, method string) ([]*Permission, error) {
	return s.queryPermissions(ctx, "rbac.ListActivePermissionsByMethod", `
		SELECT `+permissionColumns+` FROM permissions
		WHERE status = ? AND (resource_method = ? OR resource_method = '*')
		ORDER BY code
	`, string(StatusActive), method)
}

func (s *Store) queryPermissions(ctx context.Context, op, query string, args ...interface{}) ([]*Permission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.Classify(op, "", err)
	}
	defer rows.Close()

	var perms []*Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, storage.Classify(op, "", err)
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Classify(op, "", err)
	}
	return perms, nil
}

// SetPermissionStatus changes a permission's status
func (s *Store) SetPermissionStatus(ctx context.Context, code string, status Status) error {
	res, err := s.db.ExecContext(ctx, `UPDATE permissions SET status = ? WHERE code = ?`, string(status), code)
	if err != nil {
		return storage.Classify("rbac.SetPermissionStatus", "", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storage.Classify("rbac.SetPermissionStatus", "", err)
	}
	if n == 0 {
		return errs.NotFound("rbac.SetPermissionStatus", "permission %s not found", code)
	}
	return nil
}

// MissingPermissions returns the codes that have no permission row
func (s *Store) MissingPermissions(ctx context.Context, codes []string) ([]string, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	found, err := s.listStrings(ctx, "rbac.MissingPermissions",
		`SELECT code FROM permissions WHERE code IN (`+storage.Placeholders(len(codes))+`)`,
		toArgs(codes)...)
	if err != nil {
		return nil, err
	}

	have := make(map[string]bool, len(found))
	for _, c := range found {
		have[c] = true
	}
	var missing []string
	for _, c := range codes {
		if !have[c] {
			missing = append(missing, c)
		}
	}
	return missing, nil
}

// ReplaceTemplate sets the permission codes of a level template. Must run in a transaction.
func (s *Store) ReplaceTemplate(ctx context.Context, level Level, codes []string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM permission_templates WHERE role_level = ?`, int(level)); err != nil {
		return storage.Classify("rbac.ReplaceTemplate", "", err)
	}
	for _, code := range codes {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO permission_templates (role_level, permission_code) VALUES (?, ?)`,
			int(level), code); err != nil {
			return storage.Classify("rbac.ReplaceTemplate", "", err)
		}
	}
	return nil
}

// TemplateCodes returns the active permission codes of a level template
func (s *Store) TemplateCodes(ctx context.Context, level Level) ([]string, error) {
	return s.listStrings(ctx, "rbac.TemplateCodes", `
		SELECT t.permission_code FROM permission_templates t
		JOIN permissions p ON p.code = t.permission_code
		WHERE t.role_level = ? AND p.status = ?
		ORDER BY t.permission_code
	`, int(level), string(StatusActive))
}

// SetOverrides records effect for each code on a role, replacing any previous
// override for the same code. Must run in a transaction.
func (s *Store) SetOverrides(ctx context.Context, roleID string, effect Effect, codes []string) error {
	for _, code := range codes {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM role_permissions WHERE role_id = ? AND permission_code = ?`, roleID, code); err != nil {
			return storage.Classify("rbac.SetOverrides", "", err)
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO role_permissions (role_id, permission_code, effect) VALUES (?, ?, ?)`,
			roleID, code, string(effect)); err != nil {
			return storage.Classify("rbac.SetOverrides", "", err)
		}
	}
	return nil
}

// Overrides returns the active granted and revoked codes of a role
func (s *Store) Overrides(ctx context.Context, roleID string) (grants, revokes []string, err error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rp.permission_code, rp.effect FROM role_permissions rp
		JOIN permissions p ON p.code = rp.permission_code
		WHERE rp.role_id = ? AND p.status = ?
		ORDER BY rp.permission_code
	`, roleID, string(StatusActive))
	if err != nil {
		return nil, nil, storage.Classify("rbac.Overrides", "", err)
	}
	defer rows.Close()

	for rows.Next() {
		var code, effect string
		if err := rows.Scan(&code, &effect); err != nil {
			return nil, nil, storage.Classify("rbac.Overrides", "", err)
		}
		if Effect(effect) == EffectRevoke {
			revokes = append(revokes, code)
		} else {
			grants = append(grants, code)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, storage.Classify("rbac.Overrides", "", err)
	}
	return grants, revokes, nil
}

// MemberIDsByRole returns the members holding roleID
func (s *Store) MemberIDsByRole(ctx context.Context, roleID string) ([]string, error) {
	return s.listStrings(ctx, "rbac.MemberIDsByRole",
		`SELECT id FROM members WHERE role_id = ? ORDER BY id`, roleID)
}

// MemberIDsByLevel returns the members whose role has level
func (s *Store) MemberIDsByLevel(ctx context.Context, level Level) ([]string, error) {
	return s.listStrings(ctx, "rbac.MemberIDsByLevel", `
		SELECT m.id FROM members m JOIN roles r ON r.id = m.role_id
		WHERE r.level = ? ORDER BY m.id
	`, int(level))
}

// MemberIDsByPermission returns the members whose ACL can contain code through
// their level template or a role override
func (s *Store) MemberIDsByPermission(ctx context.Context, code string) ([]string, error) {
	return s.listStrings(ctx, "rbac.MemberIDsByPermission", `
		SELECT m.id FROM members m JOIN roles r ON r.id = m.role_id
		WHERE r.level IN (SELECT role_level FROM permission_templates WHERE permission_code = ?)
		   OR m.role_id IN (SELECT role_id FROM role_permissions WHERE permission_code = ?)
		ORDER BY m.id
	`, code, code)
}

func (s *Store) listStrings(ctx context.Context, op, query string, args ...interface{}) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.Classify(op, "", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, storage.Classify(op, "", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Classify(op, "", err)
	}
	return out, nil
}

func toArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
