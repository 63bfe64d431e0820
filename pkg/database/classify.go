package database

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// undefinedTableCode is the Postgres SQLSTATE for "undefined_table" —
// the structural signal that a pool's tables have not been created yet.
// Checking the code is portable across error message wording, unlike
// matching the error string.
const undefinedTableCode = "42P01"

// ErrUndefinedTable reports whether err corresponds to SQLSTATE 42P01.
func ErrUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == undefinedTableCode
	}
	return false
}

// NoPoolError indicates a query ran against a pool whose tables have not
// been created yet. It wraps the underlying driver error for logging.
type NoPoolError struct {
	Pool  string
	Cause error
}

func (e *NoPoolError) Error() string {
	return "voucher pool does not exist: " + e.Pool
}

func (e *NoPoolError) Unwrap() error { return e.Cause }
