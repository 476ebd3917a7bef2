package fit

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"

	"github.com/cwbudde/axialfit/internal/metrics"
)

// EvaluationError reports a focus plane whose cost could not be computed.
type EvaluationError struct {
	Plane int
	Err   error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("plane %d: %v", e.Plane, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// EvaluatePlane computes the cost of one focus plane: the sum of squared
// differences between simulated and measured tangential and sagittal MTF,
// both divided by the diffraction-limited MTF.
func EvaluatePlane(w *Worker, t PlaneTask) (float64, error) {
	c := w.ctx
	if t.Plane < 0 || t.Plane >= len(c.Defocus) {
		metrics.PlaneEvaluations.WithLabelValues("error").Inc()
		return 0, &EvaluationError{Plane: t.Plane, Err: fmt.Errorf("no such plane, have %d", len(c.Defocus))}
	}

	defocus := c.Defocus[t.Plane]
	for _, i := range c.Grid.Inside {
		w.trial[i] = t.Base[i] + defocus[i]
	}

	tan, sag := w.sim.MTF(w.trial, c.Config.Freqs, c.Cutoff)
	tanTruth, sagTruth := c.tanNorm[t.Plane], c.sagNorm[t.Plane]

	var cost float64
	for k, dl := range c.Diffraction {
		dt := tan[k]/dl - tanTruth[k]
		ds := sag[k]/dl - sagTruth[k]
		cost += dt*dt + ds*ds
	}

	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		metrics.PlaneEvaluations.WithLabelValues("error").Inc()
		return 0, &EvaluationError{Plane: t.Plane, Err: fmt.Errorf("cost is not finite (%v)", cost)}
	}
	metrics.PlaneEvaluations.WithLabelValues("ok").Inc()
	return cost, nil
}

// ReduceCosts sums per-plane costs. The values are sorted before summing
// so the result does not depend on the order planes were evaluated in.
func ReduceCosts(costs []float64) float64 {
	sorted := slices.Clone(costs)
	slices.Sort(sorted)
	return floats.Sum(sorted)
}
