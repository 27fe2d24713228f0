package orgs

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/warden/pkg/errs"
	"github.com/platinummonkey/warden/pkg/storage"
)

const memberColumns = `id, code, login_name, display_name, org_code, role_id, credential_hash,
	status, last_login_at, login_count, created_at, updated_at`

func scanMember(row rowScanner) (*Member, error) {
	m := &Member{}
	var status string
	var lastLogin sql.NullTime
	if err := row.Scan(
		&m.ID, &m.Code, &m.LoginName, &m.DisplayName, &m.OrgCode, &m.RoleID, &m.CredentialHash,
		&status, &lastLogin, &m.LoginCount, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	m.Status = Status(status)
	if lastLogin.Valid {
		t := lastLogin.Time
		m.LastLoginAt = &t
	}
	return m, nil
}

// InsertMember inserts a member. A missing ID is generated.
func (s *Store) InsertMember(ctx context.Context, m *Member) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Status == "" {
		m.Status = StatusActive
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO members (`+memberColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.ID, m.Code, m.LoginName, m.DisplayName, m.OrgCode, m.RoleID, m.CredentialHash,
		string(m.Status), m.LastLoginAt, m.LoginCount, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return storage.Classify("orgs.InsertMember", errs.DuplicateCode, err)
	}
	return nil
}

// GetMember retrieves a member by ID
func (s *Store) GetMember(ctx context.Context, id string) (*Member, error) {
	m, err := scanMember(s.db.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM members WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("orgs.GetMember", "member %s not found", id)
	}
	if err != nil {
		return nil, storage.Classify("orgs.GetMember", "", err)
	}
	return m, nil
}

// FindMemberByLogin retrieves a member by login name or member code
func (s *Store) FindMemberByLogin(ctx context.Context, identifier string) (*Member, error) {
	m, err := scanMember(s.db.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM members WHERE login_name = ? OR code = ?
		ORDER BY CASE WHEN login_name = ? THEN 0 ELSE 1 END LIMIT 1`,
		identifier, identifier, identifier))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("orgs.FindMemberByLogin", "member %s not found", identifier)
	}
	if err != nil {
		return nil, storage.Classify("orgs.FindMemberByLogin", "", err)
	}
	return m, nil
}

// RecordLogin increments the login counter and stamps the login time
func (s *Store) RecordLogin(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE members SET login_count = login_count + 1, last_login_at = ?, updated_at = ?
		WHERE id = ?
	`, at, at, id)
	if err != nil {
		return storage.Classify("orgs.RecordLogin", "", err)
	}
	return requireAffected(res, "orgs.RecordLogin", id)
}

// UpdateMemberRole changes a member's role
func (s *Store) UpdateMemberRole(ctx context.Context, id, roleID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE members SET role_id = ?, updated_at = ? WHERE id = ?`, roleID, at, id)
	if err != nil {
		return storage.Classify("orgs.UpdateMemberRole", "", err)
	}
	return requireAffected(res, "orgs.UpdateMemberRole", id)
}

// SetMemberStatus changes a member's status
func (s *Store) SetMemberStatus(ctx context.Context, id string, status Status, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE members SET status = ?, updated_at = ? WHERE id = ?`, string(status), at, id)
	if err != nil {
		return storage.Classify("orgs.SetMemberStatus", "", err)
	}
	return requireAffected(res, "orgs.SetMemberStatus", id)
}

// ListMembers returns the members of orgCode ordered by code
func (s *Store) ListMembers(ctx context.Context, orgCode string) ([]*Member, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memberColumns+` FROM members WHERE org_code = ? ORDER BY code`, orgCode)
	if err != nil {
		return nil, storage.Classify("orgs.ListMembers", "", err)
	}
	defer rows.Close()

	var members []*Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, storage.Classify("orgs.ListMembers", "", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Classify("orgs.ListMembers", "", err)
	}
	return members, nil
}

func requireAffected(res sql.Result, op, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storage.Classify(op, "", err)
	}
	if n == 0 {
		return errs.NotFound(op, "member %s not found", id)
	}
	return nil
}
