// Package storage provides the persistence backends of warden.
//
// # Relational store
//
// DB wraps database/sql for PostgreSQL and SQLite. Transactions travel in the
// context: code running inside DB.InTx picks up the transaction through
// ExecContext, QueryContext and QueryRowContext without threading a *sql.Tx
// through every call. Queries are written with ? placeholders and rebound for
// the active dialect.
//
//	db, err := storage.OpenSQLite(ctx, cfg.SQLitePath)
//	err = db.InTx(ctx, func(ctx context.Context) error {
//		_, err := db.ExecContext(ctx, "UPDATE roles SET status = ? WHERE id = ?", "disabled", id)
//		return err
//	})
//
// postgres.NewConnectionManager opens the PostgreSQL pool. Migrate applies the embedded schema (organizations, members, roles,
// permissions, templates, overrides and audit records).
//
// # Cache store
//
// KV is the small key/value contract used for refresh-token state and the ACL
// cache. LocalKV is an in-process expirable LRU for single node deployments and
// tests. postgres.RedisKV backs it with Redis for multi-node deployments.
//
// # Object store
//
// ObjectWriter receives immutable audit archives. FileObjectStore writes them
// under a local directory and postgres.S3Client writes them to S3 or MinIO.
//
// # Testing
//
// The storagetest package opens in-memory SQLite databases with the schema
// applied, and sqlmock-backed DBs for error paths.
package storage
