package haul

import (
	"fmt"
	"time"
)

// OutcomeKind enumerates the terminal states of one Run invocation.
type OutcomeKind int

const (
	// OutcomeSuccess means the file was fully downloaded (and extracted,
	// for archived tasks).
	OutcomeSuccess OutcomeKind = iota

	// OutcomeRetry means a transient failure occurred and the caller should
	// re-invoke Run after Delay.
	OutcomeRetry

	// OutcomeFailure means the task failed and should not be re-invoked.
	OutcomeFailure

	// OutcomeCancelled means the transfer was stopped cooperatively,
	// typically by Pause. Not a failure, consumes no retry budget.
	OutcomeCancelled

	// OutcomeAbandoned means the task carried a generation token from an
	// earlier process and was not executed. Distinct from Success so the
	// scheduler can requeue a fresh task instead of dropping the work.
	OutcomeAbandoned
)

// Outcome is the closed result type returned by Engine.Run. No raw transport
// or filesystem errors cross the engine boundary; Err is always one of the
// package sentinel classes (or wraps one).
type Outcome struct {
	Kind OutcomeKind

	// Delay is how long the caller should wait before re-invoking Run.
	// Set only for OutcomeRetry.
	Delay time.Duration

	// Attempt is the attempt count consumed so far, for OutcomeRetry.
	Attempt int

	// Err carries the failure class for OutcomeFailure and OutcomeRetry.
	Err error
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetry:
		return fmt.Sprintf("retry in %s (attempt %d): %v", o.Delay, o.Attempt, o.Err)
	case OutcomeFailure:
		return fmt.Sprintf("failure: %v", o.Err)
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeAbandoned:
		return "abandoned"
	}
	return "unknown"
}
