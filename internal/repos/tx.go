package repos

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"storefront/internal/domain"
)

// InTx runs fn in one transaction. A nil return commits; anything else rolls
// back. Lock timeouts, deadlocks and busy databases come back as
// domain.ErrConflict so callers can retry them.
func InTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return classify(err)
	}
	return classify(tx.Commit())
}

// IsConflict reports whether err is a retryable concurrency failure from the store.
func IsConflict(err error) bool {
	if errors.Is(err, domain.ErrConflict) {
		return true
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}
	var pe *pq.Error
	if errors.As(err, &pe) {
		switch pe.Code {
		case "40001", "40P01", "55P03": // serialization_failure, deadlock_detected, lock_not_available
			return true
		}
	}
	return false
}

// Savepoint runs fn under a savepoint of tx. When fn fails only its own
// writes are undone and tx can still commit the rest.
func Savepoint(ctx context.Context, tx *sqlx.Tx, name string, fn func() error) error {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return classify(err)
	}
	if err := fn(); err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return errors.Join(err, classify(rbErr))
		}
		_, _ = tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name)
		return err
	}
	_, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name)
	return classify(err)
}

// IsDuplicate reports a unique-key violation.
func IsDuplicate(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			return strings.Contains(se.Error(), "UNIQUE constraint failed")
		}
		return false
	}
	var pe *pq.Error
	if errors.As(err, &pe) {
		return pe.Code == "23505"
	}
	return false
}

func classify(err error) error {
	if err == nil || errors.Is(err, domain.ErrConflict) {
		return err
	}
	if IsConflict(err) {
		return fmt.Errorf("%w: %v", domain.ErrConflict, err)
	}
	return err
}

func isPostgres(q sqlx.ExtContext) bool { return q.DriverName() == "postgres" }

// forUpdate is the row-lock suffix for the current dialect. sqlite already
// holds the writer lock from BEGIN IMMEDIATE.
func forUpdate(q sqlx.ExtContext) string {
	if isPostgres(q) {
		return " FOR UPDATE"
	}
	return ""
}
