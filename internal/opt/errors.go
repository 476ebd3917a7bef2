package opt

import (
	"errors"
	"fmt"
)

// ErrDiagnostics matches every error raised while turning the solver's
// diagnostic stream into a cost history. Such errors mean the search
// itself may have succeeded; use errors.Is(err, ErrDiagnostics).
var ErrDiagnostics = errors.New("diagnostic stream error")

// ParseError reports diagnostic text that does not follow the expected
// per-iteration layout.
type ParseError struct {
	Iteration int
	Token     string
	Reason    string
}

func (e *ParseError) Error() string {
	if e.Token != "" {
		return fmt.Sprintf("diagnostics: iteration %d: %s (token %q)", e.Iteration, e.Reason, e.Token)
	}
	return fmt.Sprintf("diagnostics: iteration %d: %s", e.Iteration, e.Reason)
}

func (e *ParseError) Is(target error) bool {
	return target == ErrDiagnostics
}

// AlignmentError reports a parameter history and a cost history whose
// lengths disagree.
type AlignmentError struct {
	Params int
	Costs  int
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("diagnostics: %d parameter vectors but %d parsed costs", e.Params, e.Costs)
}

func (e *AlignmentError) Is(target error) bool {
	return target == ErrDiagnostics
}

// ObjectiveError wraps a failure of the objective function that halted
// the solver.
type ObjectiveError struct {
	Evaluation int
	Err        error
}

func (e *ObjectiveError) Error() string {
	return fmt.Sprintf("objective evaluation %d failed: %v", e.Evaluation, e.Err)
}

func (e *ObjectiveError) Unwrap() error {
	return e.Err
}

// SolverError wraps a failure raised by the solver itself.
type SolverError struct {
	Err error
}

func (e *SolverError) Error() string {
	return fmt.Sprintf("solver failed: %v", e.Err)
}

func (e *SolverError) Unwrap() error {
	return e.Err
}
