// Package apperr defines the small, closed set of caller-visible error
// kinds produced by the voucher pool engine, independent of how they are
// eventually serialized at the HTTP boundary.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNoPool means the pool's tables do not exist yet. Surfaced as 404.
	ErrNoPool = errors.New("voucher pool does not exist")

	// ErrNoVoucher means no unused voucher matched the requested operator
	// and denomination. This is a normal outcome, not a storage failure,
	// but the wire contract surfaces it as a 500 (see design notes).
	ErrNoVoucher = errors.New("no voucher available")

	// ErrAuditMismatch means a request_id was reused with different
	// parameters than the original request.
	ErrAuditMismatch = errors.New("request already performed with different parameters")
)

// NoPool wraps ErrNoPool with the offending pool name so logs and
// errors.Is(err, ErrNoPool) both keep working.
func NoPool(pool string) error {
	return fmt.Errorf("%w: %s", ErrNoPool, pool)
}

// BadRequestError is a caller-visible validation failure carrying the
// exact message to surface to the client.
type BadRequestError struct {
	Msg string
}

func (e *BadRequestError) Error() string { return e.Msg }

// BadRequest constructs a BadRequestError.
func BadRequest(msg string) error { return &BadRequestError{Msg: msg} }

// BadRequestf is BadRequest with fmt.Sprintf formatting.
func BadRequestf(format string, args ...any) error {
	return &BadRequestError{Msg: fmt.Sprintf(format, args...)}
}

// AsBadRequest reports whether err is (or wraps) a BadRequestError.
func AsBadRequest(err error) (*BadRequestError, bool) {
	var br *BadRequestError
	ok := errors.As(err, &br)
	return br, ok
}
