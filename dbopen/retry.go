package dbopen

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Retry controls RunTx backoff: attempt n waits n×Backoff.
type Retry struct {
	Attempts int           // Default: 3.
	Backoff  time.Duration // Default: 100ms.
}

// DefaultRetry is used by RunTx.
var DefaultRetry = Retry{Attempts: 3, Backoff: 100 * time.Millisecond}

// IsBusy reports lock contention: SQLITE_BUSY or SQLITE_LOCKED, typed or
// as driver text.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code() & 0xff
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// RunTx runs fn in a transaction with DefaultRetry. fn may run more than
// once and must only touch tx.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	return DefaultRetry.RunTx(ctx, db, fn)
}

// RunTx runs fn in a transaction, retrying while the database is busy.
func (r Retry) RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	attempts, backoff := r.Attempts, r.Backoff
	if attempts <= 0 {
		attempts = DefaultRetry.Attempts
	}
	if backoff <= 0 {
		backoff = DefaultRetry.Backoff
	}

	var err error
	for i := 1; i <= attempts; i++ {
		if err = txOnce(ctx, db, fn); err == nil || !IsBusy(err) {
			return err
		}
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("dbopen: retry cancelled: %w", ctx.Err())
		case <-time.After(time.Duration(i) * backoff):
		}
	}
	return fmt.Errorf("dbopen: still busy after %d attempts: %w", attempts, err)
}

func txOnce(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dbopen: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dbopen: commit: %w", err)
	}
	return nil
}
