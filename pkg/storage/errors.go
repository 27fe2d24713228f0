package storage

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/platinummonkey/warden/pkg/errs"
)

// IsUniqueViolation reports whether err is a unique or primary key violation.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// IsTransient reports whether err signals an unavailable or contended store.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		// connection exceptions, serialization failures, deadlocks, admin shutdown
		return strings.HasPrefix(code, "08") || code == "40001" || code == "40P01" ||
			code == "57P01" || code == "53300"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}
	return errs.KindOf(err) == errs.KindTransientStore
}

// Classify wraps a store error with the matching error kind. Unique violations become
// conflicts carrying reason, connectivity problems become transient errors and anything
// else is returned wrapped with op.
func Classify(op string, reason errs.Reason, err error) error {
	if err == nil {
		return nil
	}
	if errs.KindOf(err) != errs.KindUnknown {
		return err
	}
	switch {
	case IsUniqueViolation(err):
		return &errs.Error{Kind: errs.KindConflict, Op: op, Reason: reason, Err: err}
	case IsTransient(err):
		return &errs.Error{Kind: errs.KindTransientStore, Op: op, Err: err}
	default:
		return &errs.Error{Kind: errs.KindUnknown, Op: op, Err: err}
	}
}
