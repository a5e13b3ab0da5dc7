// Package errs defines the error taxonomy shared by every engine component.
//
// Validation errors are sentinels so callers can branch with errors.Is and show
// a user-facing message. Persistence failures are wrapped in *StorageError and
// are never retried by the engine.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports an unknown mission, combination code or flow kind.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateCode reports reuse of a combination code.
	ErrDuplicateCode = errors.New("duplicate code")
	// ErrInvalidEntry reports a malformed combination, mission or flow definition.
	ErrInvalidEntry = errors.New("invalid entry")
	// ErrSessionAlreadyActive is returned by Start when the user is mid-flow.
	ErrSessionAlreadyActive = errors.New("session already active")
	// ErrSessionNotFound is returned by Advance/Cancel without an active session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrAlreadyAnswered is returned when a user answers a quiz a second time.
	ErrAlreadyAnswered = errors.New("quiz already answered")
	// ErrStorage matches any *StorageError via errors.Is.
	ErrStorage = errors.New("storage error")
)

// StorageError wraps an underlying persistence failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("storage error: %v", e.Err)
	}
	return fmt.Sprintf("storage error: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrStorage) hold for every StorageError.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// Storage wraps err as a StorageError for op. A nil err stays nil, and an error
// that already is a StorageError is returned unchanged.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// Invalid returns ErrInvalidEntry annotated with a reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidEntry, fmt.Sprintf(format, args...))
}

// IsValidation reports whether err belongs to the user-facing validation group.
func IsValidation(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrDuplicateCode) ||
		errors.Is(err, ErrInvalidEntry) ||
		errors.Is(err, ErrSessionAlreadyActive) ||
		errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrAlreadyAnswered)
}
