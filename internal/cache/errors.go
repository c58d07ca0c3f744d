package cache

import (
	"errors"
	"fmt"
)

// Sentinel errors for expected lookup outcomes. These are not storage
// failures; callers branch on them with errors.Is.
var (
	// ErrNotFound indicates no record matched the lookup.
	ErrNotFound = errors.New("cache: not found")

	// ErrDuplicateEntry indicates an attendance row already exists for the
	// (external_id, course_code, date) key.
	ErrDuplicateEntry = errors.New("cache: duplicate attendance entry")

	// ErrAmbiguousTag indicates the case-insensitive fallback matched more
	// than one identity. Two tags differing only by case is a data
	// integrity violation; the scan is rejected rather than resolved.
	ErrAmbiguousTag = errors.New("cache: ambiguous tag")
)

// StorageError wraps a local I/O or corruption failure. It is fatal to the
// current operation only: callers log it and retry on the next scheduled
// cycle, leaving the cache in its last-known-good state.
type StorageError struct {
	// Op names the failed cache operation, e.g. "replace directory".
	Op  string
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("cache: %s: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying driver error for errors.Is/As.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err is (or wraps) a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// storageErr wraps a driver failure into a *StorageError.
func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
