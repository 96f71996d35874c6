package loader

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/GGPrompts/vibe4vets-sub003/dbopen"
)

// StorageError marks a failure raised by the database. Errors without this
// wrapper are non-storage failures.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *StorageError) Unwrap() error { return e.Err }

// failure classifies err into res:
//   - integrity violation: skipped, not retriable
//   - transient storage (busy, timeout, lost connection): failed, retriable
//   - other storage: failed, not retriable
//   - anything else: failed, not retriable, "Unexpected error"
func failure(res Result, err error) Result {
	res.Err = err
	res.Retriable = false

	var se *StorageError
	switch {
	case !errors.As(err, &se):
		res.Action = Failed
		res.Error = "Unexpected error: " + err.Error()
	case IsIntegrity(se.Err):
		res.Action = Skipped
		res.Error = "duplicate: " + err.Error()
	case IsTransient(se.Err):
		res.Action = Failed
		res.Retriable = true
		res.Error = err.Error()
	default:
		res.Action = Failed
		res.Error = err.Error()
	}
	return res
}

// IsIntegrity reports a uniqueness, foreign-key or other constraint
// violation from SQLite or Postgres.
func IsIntegrity(err error) bool {
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "23")
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "constraint failed") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key")
}

// IsTransient reports storage errors worth retrying on the next run:
// lock contention, timeouts and lost connections.
func IsTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) || dbopen.IsBusy(err) {
		return true
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_IOERR:
			return true
		}
		return false
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "08") ||
			pgErr.Code == "57014" || // query_canceled
			pgErr.Code == "40001" || // serialization_failure
			pgErr.Code == "40P01" // deadlock_detected
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "server closed the connection")
}

// String renders a result for logs.
func (r Result) String() string {
	if r.Error != "" {
		return fmt.Sprintf("%s (%s)", r.Action, r.Error)
	}
	return string(r.Action)
}
