package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/errs"
)

// newTestDB opens a migrated in-memory SQLite database.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, Migrate(context.Background(), db))
	return db
}

func TestRebind(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"no placeholders", "SELECT 1", "SELECT 1"},
		{"sequential", "SELECT * FROM t WHERE a = ? AND b = ?", "SELECT * FROM t WHERE a = $1 AND b = $2"},
		{"quoted literal untouched", "SELECT '?' FROM t WHERE a = ?", "SELECT '?' FROM t WHERE a = $1"},
		{"in list", "WHERE code IN (?, ?, ?)", "WHERE code IN ($1, $2, $3)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Rebind(tt.query))
		})
	}
}

func TestDBRebindByDialect(t *testing.T) {
	pg := NewDB(nil, DialectPostgres)
	lite := NewDB(nil, DialectSQLite)

	assert.Equal(t, "a = $1", pg.Rebind("a = ?"))
	assert.Equal(t, "a = ?", lite.Rebind("a = ?"))
	assert.Equal(t, " FOR UPDATE", pg.ForUpdate())
	assert.Equal(t, "", lite.ForUpdate())
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "", Placeholders(0))
	assert.Equal(t, "?", Placeholders(1))
	assert.Equal(t, "?, ?, ?", Placeholders(3))
}

func TestParseDialect(t *testing.T) {
	d, err := ParseDialect("postgres")
	require.NoError(t, err)
	assert.Equal(t, DialectPostgres, d)

	d, err = ParseDialect("sqlite3")
	require.NoError(t, err)
	assert.Equal(t, DialectSQLite, d)

	_, err = ParseDialect("mysql")
	assert.Error(t, err)
}

func TestInTx(t *testing.T) {
	t.Run("commits on success", func(t *testing.T) {
		mockDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer mockDB.Close()
		db := NewDB(mockDB, DialectPostgres)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE organizations SET name = \$1`).
			WithArgs("n").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err = db.InTx(context.Background(), func(ctx context.Context) error {
			_, err := db.ExecContext(ctx, "UPDATE organizations SET name = ?", "n")
			return err
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		mockDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer mockDB.Close()
		db := NewDB(mockDB, DialectPostgres)

		mock.ExpectBegin()
		mock.ExpectRollback()

		boom := errors.New("boom")
		err = db.InTx(context.Background(), func(ctx context.Context) error {
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nested calls join the outer transaction", func(t *testing.T) {
		mockDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer mockDB.Close()
		db := NewDB(mockDB, DialectPostgres)

		mock.ExpectBegin()
		mock.ExpectCommit()

		err = db.InTx(context.Background(), func(ctx context.Context) error {
			return db.InTx(ctx, func(ctx context.Context) error { return nil })
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMigrateSQLite(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	var count int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM warden_migrations").Scan(&count))
	assert.Equal(t, len(GetMigrations()), count)

	// running again is a no-op
	require.NoError(t, Migrate(ctx, db))
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM warden_migrations").Scan(&count))
	assert.Equal(t, len(GetMigrations()), count)
}

func TestClassify(t *testing.T) {
	t.Run("unique violation is a conflict", func(t *testing.T) {
		err := Classify("orgs.Create", errs.DuplicateCode, &pq.Error{Code: "23505"})
		assert.True(t, errs.IsConflict(err))
		assert.Equal(t, errs.DuplicateCode, errs.ReasonOf(err))
	})

	t.Run("serialization failure is transient", func(t *testing.T) {
		err := Classify("orgs.Move", "", &pq.Error{Code: "40001"})
		assert.True(t, errs.IsRetryable(err))
	})

	t.Run("sqlite unique violation", func(t *testing.T) {
		db := newTestDB(t)
		ctx := context.Background()
		insert := "INSERT INTO permissions (code, resource_path, resource_method, type, created_at) VALUES ('p', '/x', 'GET', 'api', CURRENT_TIMESTAMP)"
		_, err := db.ExecContext(ctx, insert)
		require.NoError(t, err)
		_, err = db.ExecContext(ctx, insert)
		require.Error(t, err)
		assert.True(t, IsUniqueViolation(err))
	})

	t.Run("already classified errors pass through", func(t *testing.T) {
		in := errs.NotFound("orgs.Get", "missing")
		assert.Same(t, in, Classify("x", "", in))
	})
}
