package service

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrInvalidTransition is returned when a todo cannot move to the requested status.
var ErrInvalidTransition = errors.New("invalid status transition")

// ValidationError reports bad input, optionally tied to a field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr)
}
