// Package tutor implements the concept-progression dialogue core: the
// sequencer, the model-backed judge and mentor, the retrying invoker, the
// conversation log with deferred persistence, and the session controller
// tying them together.
package tutor

import (
	"errors"
)

var (
	// ErrMalformedOutput marks model output that failed schema validation.
	// The retrying invoker retries these up to its attempt bound.
	ErrMalformedOutput = errors.New("malformed model output")

	// ErrEvaluationFailed is returned when retries on malformed output are
	// exhausted. Terminal for the current turn only: the concept index is
	// unchanged and no log entries are added.
	ErrEvaluationFailed = errors.New("evaluation failed")

	// ErrNoConcepts is returned when a topic has no active concepts.
	ErrNoConcepts = errors.New("topic has no active concepts")

	// ErrPoolClosed is returned when work is submitted after shutdown.
	ErrPoolClosed = errors.New("worker pool closed")

	// ErrPoolSaturated is returned when the task queue is full. The caller
	// rolls back and the turn can be resubmitted.
	ErrPoolSaturated = errors.New("worker pool saturated")
)

// FailureKind classifies a recoverable per-turn failure for the caller.
type FailureKind string

const (
	// FailureTransport is a transport/timeout error from the model service.
	FailureTransport FailureKind = "model_transport"
	// FailureEvaluation means schema-retry exhaustion on model output.
	FailureEvaluation FailureKind = "evaluation_failed"
)

// TurnFailure is surfaced to the caller when a turn fails recoverably.
// The learner may resubmit.
type TurnFailure struct {
	Kind FailureKind
	Err  error
}

func (f TurnFailure) Error() string {
	return string(f.Kind) + ": " + f.Err.Error()
}

func (f TurnFailure) Unwrap() error {
	return f.Err
}
