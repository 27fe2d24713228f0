package orgs

import (
	"context"
	"database/sql"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/platinummonkey/warden/pkg/errs"
	"github.com/platinummonkey/warden/pkg/storage"
)

// hierarchyLockKey is the postgres advisory lock serializing structural changes
const hierarchyLockKey int64 = 0x77617264656e

const orgColumns = `code, name, parent_code, depth, path, status,
	contact_name, contact_email, contact_phone, created_at, updated_at`

// Store persists organizations and members
type Store struct {
	db *storage.DB
}

// NewStore creates a new store
func NewStore(db *storage.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database
func (s *Store) DB() *storage.DB {
	return s.db
}

// lockHierarchy takes the transaction scoped hierarchy lock. SQLite holds a
// database wide write lock for the whole transaction instead.
func (s *Store) lockHierarchy(ctx context.Context) error {
	if s.db.Dialect() != storage.DialectPostgres {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `SELECT pg_advisory_xact_lock(?)`, hierarchyLockKey); err != nil {
		return storage.Classify("orgs.lockHierarchy", "", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrg(row rowScanner) (*Organization, error) {
	org := &Organization{}
	var parent sql.NullString
	var status string
	if err := row.Scan(
		&org.Code, &org.Name, &parent, &org.Depth, &org.Path, &status,
		&org.Contact.Name, &org.Contact.Email, &org.Contact.Phone,
		&org.CreatedAt, &org.UpdatedAt,
	); err != nil {
		return nil, err
	}
	org.ParentCode = parent.String
	org.Status = Status(status)
	return org, nil
}

func scanOrgs(rows *sql.Rows) ([]Organization, error) {
	defer rows.Close()

	var out []Organization
	for rows.Next() {
		org, err := scanOrg(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *org)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// GetOrg retrieves an organization by code, locking the row when forUpdate is
// set and ctx carries a transaction.
func (s *Store) GetOrg(ctx context.Context, code string, forUpdate bool) (*Organization, error) {
	query := `SELECT ` + orgColumns + ` FROM organizations WHERE code = ?`
	if forUpdate {
		query += s.db.ForUpdate()
	}

	org, err := scanOrg(s.db.QueryRowContext(ctx, query, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("orgs.GetOrg", "organization %s not found", code)
	}
	if err != nil {
		return nil, storage.Classify("orgs.GetOrg", "", err)
	}
	return org, nil
}

// InsertOrg inserts a new organization
func (s *Store) InsertOrg(ctx context.Context, org *Organization) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO organizations (`+orgColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		org.Code, org.Name, nullString(org.ParentCode), org.Depth, org.Path, string(org.Status),
		org.Contact.Name, org.Contact.Email, org.Contact.Phone, org.CreatedAt, org.UpdatedAt,
	)
	if err != nil {
		return storage.Classify("orgs.InsertOrg", errs.DuplicateCode, err)
	}
	return nil
}

// UpdatePlacement writes a node's parent, depth and path
func (s *Store) UpdatePlacement(ctx context.Context, org *Organization, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE organizations SET parent_code = ?, depth = ?, path = ?, updated_at = ?
		WHERE code = ?
	`, nullString(org.ParentCode), org.Depth, org.Path, at, org.Code)
	if err != nil {
		return storage.Classify("orgs.UpdatePlacement", "", err)
	}
	return nil
}

// UpdateDetails writes the descriptive fields of an organization
func (s *Store) UpdateDetails(ctx context.Context, org *Organization) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE organizations
		SET name = ?, contact_name = ?, contact_email = ?, contact_phone = ?, updated_at = ?
		WHERE code = ?
	`, org.Name, org.Contact.Name, org.Contact.Email, org.Contact.Phone, org.UpdatedAt, org.Code)
	if err != nil {
		return storage.Classify("orgs.UpdateDetails", "", err)
	}
	return nil
}

// SetOrgStatus changes an organization's status
func (s *Store) SetOrgStatus(ctx context.Context, code string, status Status, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE organizations SET status = ?, updated_at = ? WHERE code = ?`,
		string(status), at, code)
	if err != nil {
		return storage.Classify("orgs.SetOrgStatus", "", err)
	}
	return nil
}

// ListSubtree returns every organization whose path starts with pathPrefix,
// ordered by (depth, code).
func (s *Store) ListSubtree(ctx context.Context, pathPrefix string, forUpdate bool) ([]Organization, error) {
	// substr keeps the match case sensitive on SQLite, where LIKE is not
	query := `SELECT ` + orgColumns + ` FROM organizations
		WHERE substr(path, 1, ?) = ?
		ORDER BY depth, code`
	if forUpdate {
		query += s.db.ForUpdate()
	}

	rows, err := s.db.QueryContext(ctx, query, utf8.RuneCountInString(pathPrefix), pathPrefix)
	if err != nil {
		return nil, storage.Classify("orgs.ListSubtree", "", err)
	}
	out, err := scanOrgs(rows)
	if err != nil {
		return nil, storage.Classify("orgs.ListSubtree", "", err)
	}
	return out, nil
}

// ListByCodes returns the organizations with the given codes ordered by (depth, code)
func (s *Store) ListByCodes(ctx context.Context, codes []string) ([]Organization, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	args := make([]interface{}, len(codes))
	for i, c := range codes {
		args[i] = c
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+orgColumns+` FROM organizations
		WHERE code IN (`+storage.Placeholders(len(codes))+`)
		ORDER BY depth, code`, args...)
	if err != nil {
		return nil, storage.Classify("orgs.ListByCodes", "", err)
	}
	out, err := scanOrgs(rows)
	if err != nil {
		return nil, storage.Classify("orgs.ListByCodes", "", err)
	}
	return out, nil
}

// ListAll returns every organization ordered by (depth, code)
func (s *Store) ListAll(ctx context.Context) ([]Organization, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+orgColumns+` FROM organizations ORDER BY depth, code`)
	if err != nil {
		return nil, storage.Classify("orgs.ListAll", "", err)
	}
	out, err := scanOrgs(rows)
	if err != nil {
		return nil, storage.Classify("orgs.ListAll", "", err)
	}
	return out, nil
}

// CountActiveChildren counts active direct children of code
func (s *Store) CountActiveChildren(ctx context.Context, code string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM organizations WHERE parent_code = ? AND status = ?`,
		code, string(StatusActive)).Scan(&n)
	if err != nil {
		return 0, storage.Classify("orgs.CountActiveChildren", "", err)
	}
	return n, nil
}

// CountActiveMembers counts active members owned by orgCode
func (s *Store) CountActiveMembers(ctx context.Context, orgCode string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM members WHERE org_code = ? AND status = ?`,
		orgCode, string(StatusActive)).Scan(&n)
	if err != nil {
		return 0, storage.Classify("orgs.CountActiveMembers", "", err)
	}
	return n, nil
}
