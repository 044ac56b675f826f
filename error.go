package exodb

import "fmt"

// ErrorCode classifies an Error. The zero value is Unknown.
type ErrorCode int

const (
	Unknown ErrorCode = iota
	// NotFound is returned opening a nonexistent store without creation,
	// or removing/truncating an unknown store.
	NotFound
	// ConfigMismatch is returned opening an existing store with a
	// different duplicates flag or an incompatible prefixing setting.
	ConfigMismatch
	// ReadonlyViolation is returned for any write attempted on a readonly
	// environment.
	ReadonlyViolation
	// Inoperative is returned once the environment has entered its
	// permanent inoperative state after an unrecoverable commit failure.
	Inoperative
	// Closed is returned for any operation attempted after Close.
	Closed
	// StillActive is returned by Clear or a non-forced Close while
	// transactions are still live.
	StillActive
	// IO wraps an underlying log or filesystem failure.
	IO
)

// Error is the exodb custom error. Code classifies the failure, Err carries
// the underlying cause (if any), and UserData carries caller-supplied
// context attached when the error was raised.
type Error struct {
	Code     ErrorCode
	Err      error
	UserData any
}

func (e Error) Error() string {
	return fmt.Errorf("error code: %d, user data: %v, details: %w", e.Code, e.UserData, e.Err).Error()
}

// Unwrap allows errors.Is/errors.As to see through to the underlying cause.
func (e Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an Error of the same Code, so callers can
// errors.Is-match a sentinel (e.g. env.ErrConfigMismatch) against an
// occurrence carrying different UserData or a different wrapped cause.
func (e Error) Is(target error) bool {
	t, ok := target.(Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}
