package storage

import (
	"context"
	"fmt"
	"time"
)

// Migration represents a schema migration. SQL must be valid for both
// PostgreSQL and SQLite.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the warden schema migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create organizations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS organizations (
					code TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					parent_code TEXT REFERENCES organizations(code),
					depth INTEGER NOT NULL,
					path TEXT NOT NULL UNIQUE,
					status TEXT NOT NULL DEFAULT 'active',
					contact_name TEXT NOT NULL DEFAULT '',
					contact_email TEXT NOT NULL DEFAULT '',
					contact_phone TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_organizations_parent_code ON organizations(parent_code);
				CREATE INDEX IF NOT EXISTS idx_organizations_depth_code ON organizations(depth, code);
			`,
		},
		{
			Version:     2,
			Description: "Create roles table with single admin constraints",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id TEXT PRIMARY KEY,
					code TEXT NOT NULL UNIQUE,
					name TEXT NOT NULL,
					level INTEGER NOT NULL CHECK (level IN (1, 2, 3)),
					org_code TEXT REFERENCES organizations(code),
					status TEXT NOT NULL DEFAULT 'active',
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);

				CREATE UNIQUE INDEX IF NOT EXISTS uq_roles_active_super_admin
					ON roles(level) WHERE level = 1 AND status = 'active';
				CREATE UNIQUE INDEX IF NOT EXISTS uq_roles_active_org_admin
					ON roles(org_code) WHERE level = 2 AND status = 'active';
			`,
		},
		{
			Version:     3,
			Description: "Create permissions, templates and role overrides",
			SQL: `
				CREATE TABLE IF NOT EXISTS permissions (
					code TEXT PRIMARY KEY,
					name TEXT NOT NULL DEFAULT '',
					resource_path TEXT NOT NULL,
					resource_method TEXT NOT NULL,
					type TEXT NOT NULL,
					status TEXT NOT NULL DEFAULT 'active',
					created_at TIMESTAMP NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_permissions_resource ON permissions(resource_path, resource_method);

				CREATE TABLE IF NOT EXISTS permission_templates (
					role_level INTEGER NOT NULL,
					permission_code TEXT NOT NULL REFERENCES permissions(code),
					PRIMARY KEY (role_level, permission_code)
				);

				CREATE TABLE IF NOT EXISTS role_permissions (
					role_id TEXT NOT NULL REFERENCES roles(id),
					permission_code TEXT NOT NULL REFERENCES permissions(code),
					effect TEXT NOT NULL CHECK (effect IN ('grant', 'revoke')),
					PRIMARY KEY (role_id, permission_code)
				);
			`,
		},
		{
			Version:     4,
			Description: "Create members table",
			SQL: `
				CREATE TABLE IF NOT EXISTS members (
					id TEXT PRIMARY KEY,
					code TEXT NOT NULL UNIQUE,
					login_name TEXT NOT NULL UNIQUE,
					display_name TEXT NOT NULL DEFAULT '',
					org_code TEXT NOT NULL REFERENCES organizations(code),
					role_id TEXT NOT NULL REFERENCES roles(id),
					credential_hash TEXT NOT NULL,
					status TEXT NOT NULL DEFAULT 'active',
					last_login_at TIMESTAMP,
					login_count INTEGER NOT NULL DEFAULT 0,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_members_org_code ON members(org_code);
				CREATE INDEX IF NOT EXISTS idx_members_role_id ON members(role_id);
			`,
		},
		{
			Version:     5,
			Description: "Create audit_records table",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_records (
					id TEXT PRIMARY KEY,
					created_at TIMESTAMP NOT NULL,
					actor_id TEXT NOT NULL DEFAULT '',
					actor_code TEXT NOT NULL DEFAULT '',
					actor_org TEXT NOT NULL DEFAULT '',
					module TEXT NOT NULL,
					operation TEXT NOT NULL,
					target_type TEXT NOT NULL DEFAULT '',
					target_id TEXT NOT NULL DEFAULT '',
					target_name TEXT NOT NULL DEFAULT '',
					before_data TEXT,
					after_data TEXT,
					result TEXT NOT NULL,
					error_message TEXT NOT NULL DEFAULT '',
					request_id TEXT NOT NULL DEFAULT '',
					ip_address TEXT NOT NULL DEFAULT '',
					user_agent TEXT NOT NULL DEFAULT ''
				);

				CREATE INDEX IF NOT EXISTS idx_audit_records_created_at ON audit_records(created_at);
				CREATE INDEX IF NOT EXISTS idx_audit_records_actor_id ON audit_records(actor_id);
				CREATE INDEX IF NOT EXISTS idx_audit_records_module ON audit_records(module, operation);
			`,
		},
	}
}

// Migrate applies pending migrations, each in its own transaction.
func Migrate(ctx context.Context, db *DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS warden_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM warden_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}
	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	for _, m := range GetMigrations() {
		if applied[m.Version] {
			continue
		}
		m := m
		err := db.InTx(ctx, func(ctx context.Context) error {
			if _, err := db.Conn(ctx).ExecContext(ctx, m.SQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", m.Version, err)
			}
			if _, err := db.ExecContext(ctx,
				"INSERT INTO warden_migrations (version, description, applied_at) VALUES (?, ?, ?)",
				m.Version, m.Description, time.Now().UTC(),
			); err != nil {
				return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
