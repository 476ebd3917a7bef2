package opt

import (
	"context"
	"fmt"
	"time"
)

// Objective is the scalar function minimized by an Optimizer.
type Objective func(ctx context.Context, x []float64) (float64, error)

// Callback is invoked after every accepted iteration with the iteration
// number (starting at 1) and a copy of the accepted point.
type Callback func(iter int, x []float64)

// Optimizer defines a local optimization algorithm.
type Optimizer interface {
	// Minimize runs one search from guess. The returned Run always has
	// the guess as Params[0].
	Minimize(ctx context.Context, f Objective, guess []float64, cb Callback) (*Run, error)
}

// State is the lifecycle state of a single optimizer run.
type State int

const (
	StateInit State = iota
	StateRunning
	StateConverged
	StateMaxIter
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRunning:
		return "running"
	case StateConverged:
		return "converged"
	case StateMaxIter:
		return "max_iter"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Run is the outcome of a single optimizer invocation.
type Run struct {
	// X and F are the final point and objective value reported by the solver.
	X []float64
	F float64

	// Params holds the guess followed by one accepted point per iteration.
	Params [][]float64

	// Diagnostics is the solver's captured diagnostic text, verbatim.
	Diagnostics string

	Duration time.Duration
	NIt      int // iterations reported by the solver
	NFev     int // objective evaluations, finite-difference evaluations included
	State    State
	Success  bool   // solver-side convergence flag
	Message  string // solver termination message
}
