package orders

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidStatus     = errors.New("invalid status")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrInvalidAmount     = errors.New("invalid amount")
)

// InsufficientStockError reports the shortfall of a rejected placement.
type InsufficientStockError struct {
	ProductID   int64
	Description string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("not enough stock for %q (requested: %d, available: %d)", e.Description, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// IsBusiness reports whether err is a caller mistake rather than an infrastructure failure.
func IsBusiness(err error) bool {
	return errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrIllegalTransition) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidAmount)
}

func notFound(entity string, id int64) error {
	return fmt.Errorf("%s %d: %w", entity, id, ErrNotFound)
}
