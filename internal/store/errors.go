package store

import (
	"errors"
	"fmt"
)

// ErrContractViolation is wrapped by every error caused by a caller breaking
// the store contract. These are programming errors, not remote failures.
var ErrContractViolation = errors.New("store contract violation")

var (
	// ErrDuplicateID is returned by Insert when the identifier already exists.
	ErrDuplicateID = fmt.Errorf("%w: duplicate identifier", ErrContractViolation)

	// ErrPlaceNotFound is returned when no place has the requested identifier.
	ErrPlaceNotFound = fmt.Errorf("%w: place not found", ErrContractViolation)

	// ErrOrderOutOfRange is returned when a position is outside 0..count-1.
	ErrOrderOutOfRange = fmt.Errorf("%w: order out of range", ErrContractViolation)
)

func checkOrder(order, count int) error {
	if order < 0 || order >= count {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrOrderOutOfRange, order, count)
	}
	return nil
}
