package weather

import (
	"errors"
	"fmt"
)

// Status is the closed set of terminal fetch failures reported to callers.
type Status string

const (
	StatusNoAnswer        Status = "NO_ANSWER"
	StatusNotConnected    Status = "NOT_CONNECTED"
	StatusTooManyRequests Status = "TOO_MANY_REQUESTS"
	StatusNotFound        Status = "NOT_FOUND"
	StatusAuthFailed      Status = "AUTH_FAILED"
	StatusAlreadyPresent  Status = "ALREADY_PRESENT"
	StatusUnknown         Status = "UNKNOWN_ERROR"
)

// Transient reports whether a later attempt may succeed without any change
// on the caller's side.
func (s Status) Transient() bool {
	return s == StatusNoAnswer || s == StatusTooManyRequests || s == StatusNotConnected
}

// Stage names the pipeline step that produced a FetchError.
type Stage string

const (
	StageResolve    Stage = "resolve"
	StagePrimary    Stage = "weather"
	StageSecondary  Stage = "air_quality"
	StageRepository Stage = "repository"
)

// FetchError carries a taxonomy status alongside the underlying cause.
type FetchError struct {
	Status Status
	Stage  Stage
	Err    error
}

// NewFetchError builds a FetchError. Err may be nil.
func NewFetchError(status Status, stage Stage, err error) *FetchError {
	return &FetchError{Status: status, Stage: stage, Err: err}
}

func (e *FetchError) Error() string {
	prefix := string(e.Status)
	if e.Stage != "" {
		prefix = string(e.Stage) + ": " + prefix
	}
	if e.Err == nil {
		return prefix
	}
	return fmt.Sprintf("%s: %v", prefix, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// StatusOf extracts the taxonomy status from err. Errors that carry no status
// map to StatusUnknown; a nil error has no status.
func StatusOf(err error) Status {
	if err == nil {
		return ""
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Status
	}
	return StatusUnknown
}

// withStage returns err as a FetchError tagged with stage. Errors without a
// status become StatusUnknown.
func withStage(err error, stage Stage) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		return &FetchError{Status: fe.Status, Stage: stage, Err: fe.Err}
	}
	return &FetchError{Status: StatusUnknown, Stage: stage, Err: err}
}
