package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Dialect selects placeholder style and locking clauses.
type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

func (d Dialect) String() string {
	if d == DialectSQLite {
		return "sqlite3"
	}
	return "postgres"
}

// ParseDialect maps a database/sql driver name to a Dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "pq":
		return DialectPostgres, nil
	case "sqlite3", "sqlite":
		return DialectSQLite, nil
	default:
		return DialectPostgres, fmt.Errorf("unsupported database driver %q", driver)
	}
}

type txKey struct{}

// DB wraps *sql.DB with dialect-aware query helpers and a transaction carried in the context.
// Queries are written with '?' placeholders and rebound for the active dialect.
type DB struct {
	db      *sql.DB
	dialect Dialect
}

// NewDB wraps an already opened handle.
func NewDB(db *sql.DB, dialect Dialect) *DB {
	return &DB{db: db, dialect: dialect}
}

// OpenSQLite opens an SQLite database and limits it to one connection so that
// in-memory databases are shared by every query.
func OpenSQLite(ctx context.Context, dsn string) (*DB, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	return NewDB(db, DialectSQLite), nil
}

// Raw returns the underlying handle.
func (d *DB) Raw() *sql.DB { return d.db }

func (d *DB) Dialect() Dialect { return d.dialect }

// Close closes the underlying handle.
func (d *DB) Close() error { return d.db.Close() }

// PingContext checks connectivity.
func (d *DB) PingContext(ctx context.Context) error { return d.db.PingContext(ctx) }

// Rebind converts '?' placeholders into the dialect's positional form.
// Question marks inside single-quoted literals are left alone.
func (d *DB) Rebind(query string) string {
	if d.dialect != DialectPostgres {
		return query
	}
	return Rebind(query)
}

// Rebind rewrites '?' placeholders as $1, $2, ...
func Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// ForUpdate returns the row locking clause for SELECT statements.
// SQLite serializes writers at the database level and has no row locks.
func (d *DB) ForUpdate() string {
	if d.dialect == DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

// InTx runs fn inside a transaction. If ctx already carries a transaction, fn joins it.
// The transaction commits when fn returns nil and rolls back otherwise.
func (d *DB) InTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Conn returns the transaction carried by ctx, or the pool.
func (d *DB) Conn(ctx context.Context) Querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return d.db
}

// ExecContext rebinds and executes on the connection selected by ctx.
func (d *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return d.Conn(ctx).ExecContext(ctx, d.Rebind(query), args...)
}

// QueryContext rebinds and queries on the connection selected by ctx.
func (d *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return d.Conn(ctx).QueryContext(ctx, d.Rebind(query), args...)
}

// QueryRowContext rebinds and queries a single row on the connection selected by ctx.
func (d *DB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return d.Conn(ctx).QueryRowContext(ctx, d.Rebind(query), args...)
}

// Placeholders returns n comma separated '?' placeholders.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
