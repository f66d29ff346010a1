package messaging

import (
	"errors"
	"fmt"
)

var (
	ErrAccessDenied = errors.New("access denied")
	// ErrBlocked is an ErrAccessDenied with a distinct reason, so callers
	// matching either sentinel with errors.Is get the expected result.
	ErrBlocked    = fmt.Errorf("%w: interaction blocked", ErrAccessDenied)
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
)

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
