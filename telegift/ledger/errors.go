package ledger

import "errors"

// Precondition failures are values, not faults: the API layer maps them to
// user-facing responses. Anything else coming out of this package is an
// infrastructure error wrapped with %w.
var (
	ErrGiftNotFound        = errors.New("gift not found")
	ErrGiftAlreadyReceived = errors.New("gift already received")
	ErrGiftOwn             = errors.New("cannot receive your own gift")
	ErrSoldOut             = errors.New("gift sold out")
	ErrProvider            = errors.New("payment provider error")
	ErrNotFound            = errors.New("not found")
	ErrInvalidArgument     = errors.New("invalid argument")
)
