package audit

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/platinummonkey/warden/pkg/errs"
	"github.com/platinummonkey/warden/pkg/scope"
	"github.com/platinummonkey/warden/pkg/storage"
)

// Table is the audit table. Its actor_org and actor_id columns carry the
// org and owner of a record for scope filtering.
const Table = "audit_records"

// Columns used to scope audit reads
const (
	OrgColumn   = "actor_org"
	OwnerColumn = "actor_id"
)

var recordColumns = []string{
	"id", "created_at", "actor_id", "actor_code", "actor_org", "module", "operation",
	"target_type", "target_id", "target_name", "before_data", "after_data",
	"result", "error_message", "request_id", "ip_address", "user_agent",
}

// Store persists audit records. There is no update or delete.
type Store interface {
	Insert(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	List(ctx context.Context, q *scope.Query) (*Page, error)
}

// SQLStore implements Store on the relational store
type SQLStore struct {
	db *storage.DB
}

// NewSQLStore creates a new SQL-backed audit store
func NewSQLStore(db *storage.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Query translates f into a read of the audit table, newest first
func (f Filter) Query() (*scope.Query, error) {
	const op = "audit.Filter"
	if f.Limit < 0 || f.Offset < 0 {
		return nil, errs.Validation(op, "limit and offset must not be negative")
	}
	if f.Start != nil && f.End != nil && f.End.Before(*f.Start) {
		return nil, errs.Validation(op, "end is before start")
	}

	limit := f.Limit
	if limit == 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	q := &scope.Query{
		Table:   Table,
		Columns: recordColumns,
		OrderBy: []string{"created_at DESC", "id DESC"},
		Limit:   limit,
		Offset:  f.Offset,
	}
	if f.Start != nil {
		q.And(scope.Predicate{Column: "created_at", Op: scope.OpGte, Values: []interface{}{f.Start.UTC()}})
	}
	if f.End != nil {
		q.And(scope.Predicate{Column: "created_at", Op: scope.OpLt, Values: []interface{}{f.End.UTC()}})
	}
	for _, eq := range [...]struct{ col, v string }{
		{"actor_id", f.ActorID},
		{"module", string(f.Module)},
		{"operation", f.Operation},
		{"target_type", f.TargetType},
		{"target_id", f.TargetID},
		{"result", string(f.Result)},
	} {
		if eq.v != "" {
			q.And(scope.Eq(eq.col, eq.v))
		}
	}
	return q, nil
}

// Insert appends rec
func (s *SQLStore) Insert(ctx context.Context, rec *Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_records (
			id, created_at, actor_id, actor_code, actor_org, module, operation,
			target_type, target_id, target_name, before_data, after_data,
			result, error_message, request_id, ip_address, user_agent
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID, rec.Timestamp.UTC(), rec.Actor.ID, rec.Actor.Code, rec.Actor.OrgCode,
		string(rec.Module), rec.Operation,
		rec.Target.Type, rec.Target.ID, rec.Target.Name,
		nullJSON(rec.Before), nullJSON(rec.After),
		string(rec.Result), rec.ErrorMessage,
		rec.Origin.RequestID, rec.Origin.IPAddress, rec.Origin.UserAgent,
	)
	if err != nil {
		return storage.Classify("audit.Insert", errs.DuplicateCode, err)
	}
	return nil
}

// Get retrieves a record by id
func (s *SQLStore) Get(ctx context.Context, id string) (*Record, error) {
	q := &scope.Query{Table: Table, Columns: recordColumns, Where: []scope.Predicate{scope.Eq("id", id)}}
	query, args := q.ToSQL()

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("audit.Get", "audit record %s not found", id)
	}
	if err != nil {
		return nil, storage.Classify("audit.Get", "", err)
	}
	return rec, nil
}

// List runs q, which must read the audit table, and counts its matches
func (s *SQLStore) List(ctx context.Context, q *scope.Query) (*Page, error) {
	const op = "audit.List"
	if q == nil || q.Table != Table {
		return nil, errs.Validation(op, "query must read %s", Table)
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	page := &Page{Records: []*Record{}, Limit: q.Limit, Offset: q.Offset}

	countSQL, countArgs := q.CountSQL()
	if err := s.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&page.Total); err != nil {
		return nil, storage.Classify(op, "", err)
	}
	if page.Total == 0 {
		return page, nil
	}

	query, args := q.ToSQL()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.Classify(op, "", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, storage.Classify(op, "", err)
		}
		page.Records = append(page.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Classify(op, "", err)
	}
	return page, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec           Record
		module        string
		result        string
		before, after sql.NullString
		createdAt     time.Time
	)
	if err := row.Scan(
		&rec.ID, &createdAt, &rec.Actor.ID, &rec.Actor.Code, &rec.Actor.OrgCode, &module, &rec.Operation,
		&rec.Target.Type, &rec.Target.ID, &rec.Target.Name, &before, &after,
		&result, &rec.ErrorMessage, &rec.Origin.RequestID, &rec.Origin.IPAddress, &rec.Origin.UserAgent,
	); err != nil {
		return nil, err
	}
	rec.Timestamp = createdAt.UTC()
	rec.Module = Module(module)
	rec.Result = Result(result)
	if before.Valid {
		rec.Before = []byte(before.String)
	}
	if after.Valid {
		rec.After = []byte(after.String)
	}
	return &rec, nil
}

func nullJSON(raw []byte) sql.NullString {
	return sql.NullString{String: string(raw), Valid: len(raw) > 0}
}
