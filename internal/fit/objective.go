package fit

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/cwbudde/axialfit/internal/metrics"
	"github.com/cwbudde/axialfit/internal/pool"
)

// Objective is the scalar function handed to the optimizer: it builds the
// trial wavefront, evaluates every focus plane on the pool and reduces
// the per-plane costs to one value.
type Objective struct {
	ctx  *Context
	pool *pool.Pool[*Worker]
	eval func(*Worker, PlaneTask) (float64, error)

	// order in which planes are submitted
	schedule []int
	calls    atomic.Int64
}

type objectiveOption func(*Objective)

// withEvaluator replaces EvaluatePlane as the per-plane cost.
func withEvaluator(eval func(*Worker, PlaneTask) (float64, error)) objectiveOption {
	return func(o *Objective) { o.eval = eval }
}

// withSchedule submits planes in the given order instead of by index.
func withSchedule(order []int) objectiveOption {
	return func(o *Objective) { o.schedule = slices.Clone(order) }
}

// NewObjective binds an objective to a context and a running pool.
func NewObjective(c *Context, p *pool.Pool[*Worker], opts ...objectiveOption) *Objective {
	schedule := make([]int, c.Planes())
	for i := range schedule {
		schedule[i] = i
	}
	o := &Objective{
		ctx:      c,
		pool:     p,
		eval:     EvaluatePlane,
		schedule: schedule,
	}
	for _, apply := range opts {
		apply(o)
	}
	return o
}

// Evaluate returns the total cost of a coefficient vector. It blocks until
// every plane has been evaluated.
func (o *Objective) Evaluate(ctx context.Context, coefs []float64) (float64, error) {
	start := time.Now()
	o.calls.Add(1)
	metrics.ObjectiveEvaluations.Inc()

	base, err := o.ctx.Wavefront(coefs)
	if err != nil {
		return 0, err
	}

	tasks := make([]PlaneTask, len(o.schedule))
	for i, plane := range o.schedule {
		tasks[i] = PlaneTask{Plane: plane, Base: base}
	}

	costs, err := pool.Map(ctx, o.pool, o.eval, tasks)
	if err != nil {
		return 0, fmt.Errorf("evaluating focus planes: %w", err)
	}

	total := ReduceCosts(costs)
	metrics.ObjectiveDuration.Observe(time.Since(start).Seconds())
	return total, nil
}

// Calls returns the number of Evaluate calls so far.
func (o *Objective) Calls() int {
	return int(o.calls.Load())
}
