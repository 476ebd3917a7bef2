package fit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/cwbudde/axialfit/internal/metrics"
	"github.com/cwbudde/axialfit/internal/opt"
	"github.com/cwbudde/axialfit/internal/pool"
)

// Options control how a fit is executed.
type Options struct {
	// Parallel distributes planes over Workers goroutines; otherwise a
	// single worker evaluates them in turn.
	Parallel bool
	Workers  int // 0 selects pool.DefaultSize()

	Solver opt.Settings

	// OnIteration is called after every accepted iteration of start run.
	OnIteration func(run, iter int, x []float64)

	objective []objectiveOption
}

// DefaultOptions runs in parallel with the default solver settings.
func DefaultOptions() Options {
	return Options{
		Parallel: true,
		Solver:   opt.DefaultSettings(),
	}
}

func (o Options) poolSize() int {
	if !o.Parallel {
		return 1
	}
	if o.Workers > 0 {
		return o.Workers
	}
	return pool.DefaultSize()
}

// Outcome is one completed local search.
type Outcome struct {
	Run     *opt.Run
	Records []opt.IterationRecord
	Guess   []float64
}

// GlobalOptions control a multi-start search.
type GlobalOptions struct {
	Starts      int     // total number of starts, the configured guess included
	Seed        uint64  // seed for the random start guesses
	Spread      float64 // random guesses are drawn from [-Spread, Spread] per coefficient
	Convergence ConvergenceConfig
}

// DefaultGlobalOptions runs up to ten starts within ±0.25 waves.
func DefaultGlobalOptions() GlobalOptions {
	return GlobalOptions{
		Starts:      10,
		Seed:        1,
		Spread:      0.25,
		Convergence: DefaultConvergenceConfig(),
	}
}

// startPool launches the worker pool for c. Each worker builds its own
// simulator exactly once.
func startPool(c *Context, opts Options) (*pool.Pool[*Worker], error) {
	p, err := pool.New(opts.poolSize(), func(id int) (*Worker, error) {
		return NewWorker(c, id)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start worker pool: %w", err)
	}
	metrics.ActiveWorkers.Set(float64(pool.LiveWorkers()))
	return p, nil
}

func stopPool(p *pool.Pool[*Worker]) {
	p.Close()
	metrics.ActiveWorkers.Set(float64(pool.LiveWorkers()))
}

// Solve runs one local search from guess. The worker pool lives exactly as
// long as the call and is torn down on every return path.
func Solve(ctx context.Context, c *Context, guess []float64, opts Options) (*Outcome, error) {
	if err := checkGuess(c, guess, opts.Solver); err != nil {
		return nil, err
	}

	p, err := startPool(c, opts)
	if err != nil {
		return nil, err
	}
	defer stopPool(p)

	slog.Info("Starting fit",
		"terms", c.Dim(),
		"planes", c.Planes(),
		"workers", p.Size(),
	)
	return solveOnce(ctx, c, p, 0, guess, opts)
}

// SolveGlobal runs several local searches, the first from guess and the
// rest from seeded random guesses, sharing one worker pool. It stops early
// when the convergence tracker reports that new starts no longer help.
// Any failed start aborts the whole search.
func SolveGlobal(ctx context.Context, c *Context, guess []float64, opts Options, g GlobalOptions) ([]*Outcome, error) {
	if g.Starts < 1 {
		return nil, configErrorf("starts", "need at least one start, got %d", g.Starts)
	}
	if err := checkGuess(c, guess, opts.Solver); err != nil {
		return nil, err
	}
	lower, upper, err := opts.Solver.Bounds(c.Dim())
	if err != nil {
		return nil, configErrorf("bounds", "%v", err)
	}

	p, err := startPool(c, opts)
	if err != nil {
		return nil, err
	}
	defer stopPool(p)

	slog.Info("Starting multi-start fit",
		"starts", g.Starts,
		"terms", c.Dim(),
		"planes", c.Planes(),
		"workers", p.Size(),
	)

	rng := rand.New(rand.NewPCG(g.Seed, g.Seed^0x9e3779b97f4a7c15))
	tracker := NewConvergenceTracker(g.Convergence)
	outcomes := make([]*Outcome, 0, g.Starts)

	for run := range g.Starts {
		start := guess
		if run > 0 {
			start = randomGuess(rng, g.Spread, lower, upper)
		}
		out, err := solveOnce(ctx, c, p, run, start, opts)
		if err != nil {
			return nil, fmt.Errorf("start %d: %w", run, err)
		}
		outcomes = append(outcomes, out)

		if tracker.Update(out.Run.F) {
			break
		}
	}

	slog.Info("Multi-start fit complete",
		"starts", len(outcomes),
		"best_cost", tracker.BestCost(),
	)
	return outcomes, nil
}

func solveOnce(ctx context.Context, c *Context, p *pool.Pool[*Worker], run int, guess []float64, opts Options) (*Outcome, error) {
	objective := NewObjective(c, p, opts.objective...)

	var cb opt.Callback
	if opts.OnIteration != nil {
		cb = func(iter int, x []float64) { opts.OnIteration(run, iter, x) }
	}

	began := time.Now()
	result, err := opt.NewLBFGSB(opts.Solver).Minimize(ctx, objective.Evaluate, guess, cb)
	if err != nil {
		metrics.SolverRuns.WithLabelValues(opt.StateFailed.String()).Inc()
		return nil, err
	}
	metrics.SolverRuns.WithLabelValues(result.State.String()).Inc()
	metrics.SolverIterations.Observe(float64(result.NIt))

	costs, err := opt.ParseCosts(result.Diagnostics)
	if err != nil {
		metrics.DiagnosticErrors.WithLabelValues("parse").Inc()
		return nil, err
	}
	records, err := opt.Align(result.Params, costs)
	if err != nil {
		metrics.DiagnosticErrors.WithLabelValues("alignment").Inc()
		return nil, err
	}

	slog.Info("Local search finished",
		"run", run,
		"state", result.State,
		"message", result.Message,
		"nit", result.NIt,
		"nfev", objective.Calls(),
		"cost", result.F,
		"elapsed", time.Since(began),
	)
	return &Outcome{
		Run:     result,
		Records: records,
		Guess:   slices.Clone(guess),
	}, nil
}

func checkGuess(c *Context, guess []float64, s opt.Settings) error {
	if len(guess) != c.Dim() {
		return configErrorf("guess", "got %d coefficients for %d ring terms", len(guess), c.Dim())
	}
	if err := s.Validate(c.Dim()); err != nil {
		return configErrorf("solver", "%v", err)
	}
	lower, upper, _ := s.Bounds(c.Dim())
	for i, v := range guess {
		if math.IsNaN(v) || v < lower[i] || v > upper[i] {
			return configErrorf("guess", "coefficient %d = %g outside [%g, %g]", i, v, lower[i], upper[i])
		}
	}
	return nil
}

func randomGuess(rng *rand.Rand, spread float64, lower, upper []float64) []float64 {
	x := make([]float64, len(lower))
	for i := range x {
		v := spread * (2*rng.Float64() - 1)
		x[i] = math.Min(math.Max(v, lower[i]), upper[i])
	}
	return x
}

// IsDiagnosticError reports whether err came from turning solver output
// into a cost history rather than from the search itself.
func IsDiagnosticError(err error) bool {
	return errors.Is(err, opt.ErrDiagnostics)
}
