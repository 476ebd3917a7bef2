// Package experiment runs a prepared plan through the engine and assembles
// its result document.
package experiment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cwbudde/axialfit/internal/config"
	"github.com/cwbudde/axialfit/internal/document"
	"github.com/cwbudde/axialfit/internal/fit"
)

// Mode selects a single local search or a multi-start search.
type Mode string

const (
	ModeSingle Mode = "single"
	ModeGlobal Mode = "global"
)

// ParseMode accepts "single", "global" or an empty string (single).
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeSingle:
		return ModeSingle, nil
	case ModeGlobal:
		return ModeGlobal, nil
	}
	return "", &fit.ConfigError{Field: "mode", Reason: fmt.Sprintf("unknown mode %q (want single or global)", s)}
}

// Result is a finished experiment. Exactly one of Single and Global is set.
type Result struct {
	Mode     Mode
	Single   *document.Single
	Global   *document.Global
	Outcomes []*fit.Outcome
	Traces   []document.Trace
}

// IterationFunc receives every accepted iteration while the search runs.
type IterationFunc func(run, iter int, x []float64)

// Run executes plan in the given mode. No document is produced for a
// failed search.
func Run(ctx context.Context, plan *config.Plan, mode Mode, onIter IterationFunc) (*Result, error) {
	opts := plan.Options
	opts.OnIteration = onIter

	var outcomes []*fit.Outcome
	switch mode {
	case ModeSingle:
		out, err := fit.Solve(ctx, plan.Context, plan.Guess, opts)
		if err != nil {
			return nil, err
		}
		outcomes = []*fit.Outcome{out}
	case ModeGlobal:
		var err error
		outcomes, err = fit.SolveGlobal(ctx, plan.Context, plan.Guess, opts, plan.Global)
		if err != nil {
			return nil, err
		}
	default:
		return nil, &fit.ConfigError{Field: "mode", Reason: fmt.Sprintf("unknown mode %q", mode)}
	}

	meta, err := document.NewMeta(plan.Context, plan.TruthParams)
	if err != nil {
		return nil, err
	}
	traces := make([]document.Trace, len(outcomes))
	for i, out := range outcomes {
		if traces[i], err = document.NewTrace(plan.Context, out, plan.TruthParams); err != nil {
			return nil, fmt.Errorf("start %d: %w", i, err)
		}
	}

	res := &Result{Mode: mode, Outcomes: outcomes, Traces: traces}
	if mode == ModeSingle {
		res.Single, err = document.NewSingle(meta, traces[0])
	} else {
		res.Global, err = document.NewGlobal(meta, traces)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to assemble document: %w", err)
	}

	slog.Debug("Document assembled", "mode", mode, "starts", len(outcomes), "cost_final", res.CostFinal())
	return res, nil
}

// CostFinal returns the final cost reported by the document.
func (r *Result) CostFinal() float64 {
	if r.Global != nil {
		return r.Global.CostFinal
	}
	return r.Single.CostFinal
}

// RRMSWFEFinal returns the final residual RMS WFE, nil when the truth is
// unknown.
func (r *Result) RRMSWFEFinal() *float64 {
	if r.Global != nil {
		return r.Global.RRMSWFEFinal
	}
	return r.Single.RRMSWFEFinal
}
