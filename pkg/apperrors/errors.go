package apperrors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the referenced entity does not exist or is
	// excluded by a scope filter (wrong project, archived).
	ErrNotFound = errors.New("not found")

	// ErrVersionLocked indicates a mutation was attempted against a locked
	// scenario version.
	ErrVersionLocked = errors.New("version is locked")
)

// ValidationError indicates structurally invalid input or a violated
// business invariant. It is always raised before any write.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidation creates a ValidationError with a formatted message.
func NewValidation(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
