package registry

import (
	"errors"
	"fmt"

	"github.com/eldlib/shelfreg/internal/db"
)

// The four failure kinds every operation resolves to. The gateway maps each
// onto exactly one HTTP status; nothing else escapes this package.

// ErrNotFound re-exports the store sentinel so callers only import registry.
var ErrNotFound = db.ErrNotFound

// ErrConflict is returned when a compare-and-set write raced with a writer
// outside this process. Under the in-process per-name locks it never fires.
var ErrConflict = errors.New("registry: concurrent write conflict")

// ValidationError rejects malformed input before it reaches storage.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StorageError wraps an underlying persistence failure. Retrying the whole
// logical request is safe: pushes are idempotent per content checksum.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
