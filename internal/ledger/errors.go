package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")

	// ErrVersionConflict is returned when every compare-and-swap attempt lost
	// to a concurrent writer.
	ErrVersionConflict = fmt.Errorf("%w: version changed concurrently", ErrConflict)

	ErrExists   = fmt.Errorf("%w: execution already exists", ErrConflict)
	ErrTerminal = fmt.Errorf("%w: execution is finished", ErrConflict)
)

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
