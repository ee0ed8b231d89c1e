package repository

import (
	"errors"
	"fmt"

	"github.com/i474232898/weather-places/internal/store"
)

var (
	// ErrShuttingDown is returned for commands issued after Shutdown.
	ErrShuttingDown = errors.New("repository is shutting down")

	// ErrInvalidLocation is returned by FindAndAdd for an empty city or country.
	ErrInvalidLocation = fmt.Errorf("%w: city and country are required", store.ErrContractViolation)

	errUnknownPlace = errors.New("no such place")
)

// PlaceError ties a failed refresh to the place it was for.
type PlaceError struct {
	PlaceID int64
	Err     error
}

func (e *PlaceError) Error() string {
	return fmt.Sprintf("place %d: %v", e.PlaceID, e.Err)
}

func (e *PlaceError) Unwrap() error {
	return e.Err
}

// PlaceIDOf returns the place a refresh error belongs to.
func PlaceIDOf(err error) (int64, bool) {
	var pe *PlaceError
	if errors.As(err, &pe) {
		return pe.PlaceID, true
	}
	return 0, false
}
