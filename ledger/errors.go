package ledger

import "errors"

// Every rejected operation wraps exactly one of these sentinels so callers
// can distinguish permanent failures (authorization, state) from transient
// ones (deadline, transfer) with errors.Is.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidState       = errors.New("invalid state for operation")
	ErrNotAuthorized      = errors.New("caller not authorized")
	ErrDeadlineExpired    = errors.New("deadline expired")
	ErrDeadlineNotExpired = errors.New("deadline not expired")
	ErrNotFound           = errors.New("payment not found")
	ErrTransferFailure    = errors.New("fund transfer failed")
)
