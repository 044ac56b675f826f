package env

import (
	"errors"

	"github.com/sharedcode/exodb"
)

// Sentinel errors for the coordinator's error kinds. Each wraps an
// exodb.Error so callers can both errors.Is-match the kind and
// errors.As-extract UserData carried on the specific occurrence.

var (
	// ErrClosed is returned for any operation attempted after Close.
	ErrClosed = exodb.Error{Code: exodb.Closed, Err: errors.New("environment is closed")}
	// ErrInoperative is returned once the environment has permanently
	// entered its inoperative state after an unrecoverable commit failure.
	ErrInoperative = exodb.Error{Code: exodb.Inoperative, Err: errors.New("environment is inoperative")}
	// ErrStillActive is returned by Clear or a non-forced Close while
	// transactions are still live.
	ErrStillActive = exodb.Error{Code: exodb.StillActive, Err: errors.New("live transactions still active")}
	// ErrReadonly is returned for any write attempted on a readonly
	// environment.
	ErrReadonly = exodb.Error{Code: exodb.ReadonlyViolation, Err: errors.New("environment is readonly")}
	// ErrStoreNotFound is returned opening a nonexistent store without
	// creation, or removing/truncating an unknown store.
	ErrStoreNotFound = exodb.Error{Code: exodb.NotFound, Err: errors.New("store not found")}
	// ErrConfigMismatch is returned opening an existing store with a
	// different duplicates flag or an incompatible prefixing setting.
	ErrConfigMismatch = exodb.Error{Code: exodb.ConfigMismatch, Err: errors.New("store config mismatch")}
)

// wrapIO wraps an underlying log/filesystem failure as an exodb.Error with
// the IO code.
func wrapIO(err error) error {
	if err == nil {
		return nil
	}
	return exodb.Error{Code: exodb.IO, Err: err}
}

// withUserData returns a copy of an exodb.Error sentinel carrying ud as its
// UserData, so callers doing errors.As can recover context about the
// specific failure (e.g. the store name).
func withUserData(e exodb.Error, ud any) error {
	e.UserData = ud
	return e
}
