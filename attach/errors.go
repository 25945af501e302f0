package attach

import (
	"errors"
	"fmt"
	"strings"

	"github.com/affixlabs/affix/internal/algorithms"
)

var (
	// ErrMalformedReference reports attachment data whose storage or id
	// is missing. It is never coerced to an empty attachment.
	ErrMalformedReference = errors.New("malformed file reference")

	// ErrConflict reports that a compare-and-set found the live
	// attachment diverged from the expected one. The losing writer
	// deletes its own uploads and stops; retrying with the same
	// expectation would promote stale data over a legitimate change.
	ErrConflict = errors.New("attachment changed concurrently")

	// ErrRecordMissing reports that the host record vanished before the
	// compare-and-set could run. Handled exactly like ErrConflict.
	ErrRecordMissing = errors.New("record not found")

	// ErrUnknownStorage reports a registry lookup for a key nothing was
	// registered under.
	ErrUnknownStorage = errors.New("unknown storage")

	// ErrNoFile reports an operation that needs an attached file on an
	// empty attachment.
	ErrNoFile = errors.New("no file attached")
)

// A StorageError wraps a failure at the storage boundary. Storage
// failures are not retried here; retry policy belongs to the caller.
type StorageError struct {
	Storage string
	Op      string
	ID      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %s %s: %v", e.Storage, e.Op, e.ID, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// A ValidationError collects the reasons an assigned file was rejected.
// The cached file stays attached so the caller can redisplay it and let
// the user try again.
type ValidationError struct {
	Errors []error
}

func (e *ValidationError) Error() string {
	msgs := algorithms.Map(e.Errors, func(err error) string { return err.Error() })
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Unwrap() []error { return e.Errors }

// recoverable reports whether err is an expected outcome of the
// optimistic protocol rather than a real failure.
func recoverable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrRecordMissing)
}
