package weather

// Outcome tags a Result.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomePartial
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomePartial:
		return "partial"
	case OutcomeError:
		return "error"
	default:
		return "unknown"
	}
}

// Result is the outcome of a fetch or a repository command.
//
//   - Success: Place is set, Err is nil.
//   - Partial: Place carries the new weather data, Err is the air quality failure.
//   - Error:   Place is nil, Err describes the failure.
type Result struct {
	Outcome Outcome
	Place   *Place
	Err     error
}

func Success(p Place) Result {
	return Result{Outcome: OutcomeSuccess, Place: &p}
}

func PartialSuccess(p Place, reason error) Result {
	return Result{Outcome: OutcomePartial, Place: &p, Err: reason}
}

func Failure(err error) Result {
	return Result{Outcome: OutcomeError, Err: err}
}

// Status returns the taxonomy status of a non-successful result.
func (r Result) Status() Status {
	if r.Outcome == OutcomeSuccess {
		return ""
	}
	return StatusOf(r.Err)
}

// Committed reports whether the result carries data that belongs in the store.
func (r Result) Committed() bool {
	return r.Outcome != OutcomeError && r.Place != nil
}
