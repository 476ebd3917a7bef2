package opt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/curioloop/optimizer/lbfgsb"
	"github.com/curioloop/optimizer/numdiff"
)

// machineEpsilon is the spacing of float64 values near one.
var machineEpsilon = math.Nextafter(1, 2) - 1

// Settings control a single L-BFGS-B search.
type Settings struct {
	MaxIterations  int     `yaml:"max_iterations" json:"max_iterations" validate:"gte=1"`
	MaxEvaluations int     `yaml:"max_evaluations" json:"max_evaluations" validate:"gte=0"` // 0 means unlimited
	MaxSeconds     int64   `yaml:"max_seconds" json:"max_seconds" validate:"gte=0"`         // 0 means unlimited
	Corrections    int     `yaml:"corrections" json:"corrections" validate:"gte=1"`
	FTol           float64 `yaml:"ftol" json:"ftol" validate:"gt=0"`
	GTol           float64 `yaml:"gtol" json:"gtol" validate:"gte=0"`

	// Lower and Upper bound every coordinate. A nil slice or a NaN entry
	// leaves that side unbounded.
	Lower []float64 `yaml:"lower,omitempty" json:"lower,omitempty"`
	Upper []float64 `yaml:"upper,omitempty" json:"upper,omitempty"`
}

// DefaultSettings returns the settings used when none are configured.
func DefaultSettings() Settings {
	return Settings{
		MaxIterations: 15000,
		Corrections:   10,
		FTol:          1e-12,
		GTol:          1e-10,
	}
}

// Bounds returns the per-coordinate bounds for an n-dimensional problem.
func (s Settings) Bounds(n int) (lower, upper []float64, err error) {
	lower, upper = make([]float64, n), make([]float64, n)
	for i := range n {
		lower[i], upper[i] = math.Inf(-1), math.Inf(1)
	}
	for _, side := range []struct {
		name string
		src  []float64
		dst  []float64
	}{{"lower", s.Lower, lower}, {"upper", s.Upper, upper}} {
		if side.src == nil {
			continue
		}
		if len(side.src) != n {
			return nil, nil, fmt.Errorf("%s bounds have %d entries, want %d", side.name, len(side.src), n)
		}
		for i, v := range side.src {
			if !math.IsNaN(v) {
				side.dst[i] = v
			}
		}
	}
	for i := range n {
		if lower[i] > upper[i] {
			return nil, nil, fmt.Errorf("bound %d is empty: [%g, %g]", i, lower[i], upper[i])
		}
	}
	return lower, upper, nil
}

// Validate checks the settings against an n-dimensional problem.
func (s Settings) Validate(n int) error {
	if n < 1 {
		return errors.New("problem dimension must be at least 1")
	}
	if s.MaxIterations < 1 {
		return fmt.Errorf("max iterations must be at least 1, got %d", s.MaxIterations)
	}
	if s.Corrections < 1 {
		return fmt.Errorf("corrections must be at least 1, got %d", s.Corrections)
	}
	if s.FTol < machineEpsilon {
		return fmt.Errorf("ftol must be at least %g, got %g", machineEpsilon, s.FTol)
	}
	if s.GTol < 0 {
		return fmt.Errorf("gtol must not be negative, got %g", s.GTol)
	}
	_, _, err := s.Bounds(n)
	return err
}

// LBFGSB is a box-constrained quasi-Newton optimizer. Gradients are
// estimated by forward differences, so every gradient costs len(x)
// additional objective evaluations.
type LBFGSB struct {
	Settings Settings
}

// NewLBFGSB creates an optimizer with the given settings.
func NewLBFGSB(s Settings) *LBFGSB {
	return &LBFGSB{Settings: s}
}

// haltSignal is panicked from the evaluation callback to stop the solver.
type haltSignal struct{}

// evaluator adapts an Objective to the solver's value-and-gradient
// callback and tracks the most recently evaluated point.
type evaluator struct {
	ctx   context.Context
	f     Objective
	grad  numdiff.ApproxSpec
	calls int
	last  []float64
	err   error
}

func (e *evaluator) value(x []float64) float64 {
	if err := e.ctx.Err(); err != nil {
		e.err = err
		panic(haltSignal{})
	}
	e.calls++
	v, err := e.f(e.ctx, x)
	if err != nil {
		e.err = err
		panic(haltSignal{})
	}
	return v
}

func (e *evaluator) eval(x, g []float64) float64 {
	f := e.value(x)
	at := slices.Clone(x)
	e.grad.Object = func(xp, y []float64) {
		if slices.Equal(xp, at) {
			y[0] = f
			return
		}
		y[0] = e.value(xp)
	}
	if err := e.grad.Diff(x, g); err != nil {
		e.err = fmt.Errorf("gradient: %w", err)
		panic(haltSignal{})
	}
	e.last = at
	return f
}

// Minimize implements Optimizer.
func (o *LBFGSB) Minimize(ctx context.Context, f Objective, guess []float64, cb Callback) (*Run, error) {
	n := len(guess)
	if err := o.Settings.Validate(n); err != nil {
		return nil, fmt.Errorf("invalid solver settings: %w", err)
	}
	lower, upper, _ := o.Settings.Bounds(n)
	for i, v := range guess {
		if math.IsNaN(v) || v < lower[i] || v > upper[i] {
			return nil, fmt.Errorf("initial guess coordinate %d = %g outside [%g, %g]", i, v, lower[i], upper[i])
		}
	}

	bounds := make([]lbfgsb.Bound, n)
	diffBounds := make([]numdiff.Bound, n)
	for i := range n {
		bounds[i] = lbfgsb.Bound{Lower: math.NaN(), Upper: math.NaN()}
		if !math.IsInf(lower[i], 0) {
			bounds[i].Lower = lower[i]
		}
		if !math.IsInf(upper[i], 0) {
			bounds[i].Upper = upper[i]
		}
		diffBounds[i] = numdiff.Bound{lower[i], upper[i]}
	}

	ev := &evaluator{
		ctx: ctx,
		f:   f,
		grad: numdiff.ApproxSpec{
			N:         n,
			M:         1,
			Method:    numdiff.Forward,
			Bounds:    diffBounds,
			NotChkBnd: true,
		},
	}

	run := &Run{
		State:  StateInit,
		Params: [][]float64{slices.Clone(guess)},
	}
	hook := newIterationHook(func(iter int) {
		x := slices.Clone(ev.last)
		run.Params = append(run.Params, x)
		if cb != nil {
			cb(iter, slices.Clone(x))
		}
	})

	problem := lbfgsb.Problem{
		N:    n,
		M:    o.Settings.Corrections,
		Eval: ev.eval,
		Stop: lbfgsb.Termination{
			MaxIterations:        o.Settings.MaxIterations,
			MaxEvaluations:       o.Settings.MaxEvaluations,
			MaxComputations:      o.Settings.MaxSeconds,
			EpsAccuracyFactor:    o.Settings.FTol / machineEpsilon,
			ProjGradTolerance:    o.Settings.GTol,
			GradDescentThreshold: math.NaN(),
		},
		Bounds: bounds,
	}

	slog.Debug("Starting L-BFGS-B", "n", n, "corrections", problem.M, "max_iter", problem.Stop.MaxIterations)

	run.State = StateRunning
	start := time.Now()
	var res *lbfgsb.Result
	text, err := Capture(func() (err error) {
		solver, err := problem.New(&lbfgsb.Logger{
			Level: lbfgsb.LogTrace,
			Msg:   Diagnostics,
			Out:   hook,
		})
		if err != nil {
			return &SolverError{Err: err}
		}
		defer func() {
			if r := recover(); r != nil {
				err = &SolverError{Err: fmt.Errorf("panic: %v", r)}
			}
		}()
		res = solver.Fit(slices.Clone(guess), solver.Init())
		return nil
	})
	hook.Flush()
	run.Duration = time.Since(start)
	run.Diagnostics = text
	run.NFev = ev.calls

	if ev.err != nil {
		run.State = StateFailed
		slog.Warn("Objective halted the solver", "evaluations", ev.calls, "error", ev.err)
		return nil, &ObjectiveError{Evaluation: ev.calls, Err: ev.err}
	}
	if err != nil {
		run.State = StateFailed
		return nil, err
	}

	run.X = slices.Clone(res.X)
	run.F = res.F
	run.NIt = res.NumIter
	run.Success = res.OK
	run.Message = statusMessage(res)
	run.State = statusState(res)

	if run.State == StateFailed {
		return nil, &SolverError{Err: errors.New(run.Message)}
	}
	if res.Status == lbfgsb.StopAbnormalSearch {
		slog.Warn("Line search could not improve further, keeping the last iterate",
			"message", run.Message,
			"nit", run.NIt,
			"f", run.F)
	}

	slog.Debug("L-BFGS-B finished",
		"state", run.State,
		"message", run.Message,
		"nit", run.NIt,
		"nfev", run.NFev,
		"f", run.F,
		"duration", run.Duration)
	return run, nil
}

func statusState(res *lbfgsb.Result) State {
	switch res.Status {
	case lbfgsb.ConvGradProgNorm, lbfgsb.ConvEnoughAccuracy, lbfgsb.OverGradThresh:
		return StateConverged
	case lbfgsb.StopAbnormalSearch:
		// reported as converged with Success false
		return StateConverged
	case lbfgsb.OverIterLimit, lbfgsb.OverEvalLimit, lbfgsb.OverTimeLimit:
		return StateMaxIter
	default:
		return StateFailed
	}
}

func statusMessage(res *lbfgsb.Result) string {
	switch res.Status {
	case lbfgsb.ConvGradProgNorm:
		return "CONVERGENCE: NORM_OF_PROJECTED_GRADIENT_<=_PGTOL"
	case lbfgsb.ConvEnoughAccuracy:
		return "CONVERGENCE: REL_REDUCTION_OF_F_<=_FACTR*EPSMCH"
	case lbfgsb.OverGradThresh:
		return "STOP: THE PROJECTED GRADIENT IS SUFFICIENTLY SMALL"
	case lbfgsb.StopAbnormalSearch:
		return "ABNORMAL_TERMINATION_IN_LNSRCH"
	case lbfgsb.OverIterLimit:
		return "STOP: TOTAL NO. of ITERATIONS REACHED LIMIT"
	case lbfgsb.OverEvalLimit:
		return "STOP: TOTAL NO. of f AND g EVALUATIONS EXCEEDS LIMIT"
	case lbfgsb.OverTimeLimit:
		return "STOP: CPU EXCEEDING THE TIME LIMIT"
	case lbfgsb.HaltEvalPanic:
		return "STOP: CALLBACK REQUESTED HALT"
	default:
		return "UNKNOWN TERMINATION"
	}
}
