package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrDuplicateID          = errors.New("duplicate id")
	ErrAlreadyDivided       = errors.New("cell already divided")
	ErrNonEmpty             = errors.New("cell holds stock")
	ErrNotAvailable         = errors.New("target is not available")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrInsufficientQuantity = errors.New("insufficient quantity")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrInvalidSubCell       = errors.New("invalid sub-cell")
	ErrValidation           = errors.New("validation error")
	ErrStorage              = errors.New("storage error")
	ErrForbidden            = errors.New("forbidden")
)

// ItemError reports which element of a batch failed. It unwraps to the
// underlying error kind so callers can still match with errors.Is.
type ItemError struct {
	Index     int
	CellID    string
	ProductID string
	Err       error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %d (cell %s, product %s): %v", e.Index, e.CellID, e.ProductID, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// IsKnown reports whether err carries one of the expected error kinds, as
// opposed to an unexpected storage failure.
func IsKnown(err error) bool {
	for _, kind := range []error{
		ErrNotFound, ErrDuplicateID, ErrAlreadyDivided, ErrNonEmpty, ErrNotAvailable,
		ErrInvalidTransition, ErrInsufficientQuantity, ErrInsufficientStock,
		ErrInvalidSubCell, ErrValidation, ErrStorage, ErrForbidden,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
