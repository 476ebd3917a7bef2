// Package document assembles the result documents of a fit: the
// simulation setup, the truth (when known) and the iteration-aligned
// parameter, cost and residual wavefront error histories.
//
// A Single document describes one local search. A Global document
// describes several searches from different starting guesses and reports
// as final the iterate with the lowest residual RMS wavefront error over
// all of them, which is not necessarily the last iterate of the last run.
package document

import (
	"errors"
	"fmt"
	"slices"

	"github.com/cwbudde/axialfit/internal/fit"
	"github.com/cwbudde/axialfit/internal/opt"
)

// Header holds the fields shared by both document kinds.
type Header struct {
	Global      bool                 `json:"global"`
	SimParams   fit.SimulationConfig `json:"sim_params"`
	Codex       map[int]string       `json:"codex"`
	TruthParams []float64            `json:"truth_params"`
	TruthRMSWFE *float64             `json:"truth_rmswfe"`
	Normed      bool                 `json:"zernike_normed"`
}

// Meta describes the experiment a document belongs to.
type Meta struct {
	SimParams   fit.SimulationConfig
	Codex       fit.DecoderRing
	TruthParams []float64 // nil when the truth is not known
	TruthRMSWFE *float64
	Normed      bool
}

// NewMeta builds the experiment description for a context. When truth is
// given its RMS wavefront error is computed on the context's pupil.
func NewMeta(c *fit.Context, truth []float64) (Meta, error) {
	m := Meta{
		SimParams:   c.Config,
		Codex:       slices.Clone(c.Ring),
		TruthParams: slices.Clone(truth),
		Normed:      c.Normed,
	}
	if truth != nil {
		rms, err := c.RMSWFE(truth)
		if err != nil {
			return Meta{}, fmt.Errorf("truth parameters: %w", err)
		}
		m.TruthRMSWFE = &rms
	}
	return m, nil
}

func (m Meta) header(global bool) Header {
	return Header{
		Global:      global,
		SimParams:   m.SimParams,
		Codex:       m.Codex.Map(),
		TruthParams: m.TruthParams,
		TruthRMSWFE: m.TruthRMSWFE,
		Normed:      m.Normed,
	}
}

// Trace is the history of one local search.
type Trace struct {
	Params    [][]float64
	Costs     []float64
	RRMSWFE   []float64 // residual RMS WFE per iteration; nil when truth is unknown
	Final     []float64
	FinalCost float64
	Time      float64 // seconds
	NIt       int
	NFev      int
}

// NewTrace converts a finished search into a Trace. When truth is given
// the residual RMS wavefront error of every iterate is computed.
func NewTrace(c *fit.Context, out *fit.Outcome, truth []float64) (Trace, error) {
	tr := Trace{
		Params:    make([][]float64, len(out.Records)),
		Costs:     make([]float64, len(out.Records)),
		Final:     slices.Clone(out.Run.X),
		FinalCost: out.Run.F,
		Time:      out.Run.Duration.Seconds(),
		NIt:       out.Run.NIt,
		NFev:      out.Run.NFev,
	}
	for i, rec := range out.Records {
		tr.Params[i] = rec.Params
		tr.Costs[i] = rec.Cost
	}
	if truth != nil {
		tr.RRMSWFE = make([]float64, len(tr.Params))
		for i, p := range tr.Params {
			rms, err := c.ResidualRMSWFE(p, truth)
			if err != nil {
				return Trace{}, fmt.Errorf("iteration %d: %w", i, err)
			}
			tr.RRMSWFE[i] = rms
		}
	}
	return tr, nil
}

func (t Trace) validate() error {
	if len(t.Params) != len(t.Costs) {
		return &opt.AlignmentError{Params: len(t.Params), Costs: len(t.Costs)}
	}
	if len(t.Params) == 0 {
		return errors.New("trace has no iterations")
	}
	if t.RRMSWFE != nil && len(t.RRMSWFE) != len(t.Params) {
		return fmt.Errorf("trace has %d residual values for %d iterations", len(t.RRMSWFE), len(t.Params))
	}
	return nil
}

// Single is the document of one local search.
type Single struct {
	Header
	ResultIter   [][]float64 `json:"result_iter"`
	CostIter     []float64   `json:"cost_iter"`
	RRMSWFEIter  []float64   `json:"rrmswfe_iter"`
	ResultFinal  []float64   `json:"result_final"`
	CostFirst    float64     `json:"cost_first"`
	CostFinal    float64     `json:"cost_final"`
	RRMSWFEFirst *float64    `json:"rrmswfe_first"`
	RRMSWFEFinal *float64    `json:"rrmswfe_final"`
	Time         float64     `json:"time"`
	NIt          int         `json:"nit"`
	NFev         int         `json:"nfev"`
	NRandomStart int         `json:"nrandomstart"` // always 0
}

// NewSingle assembles a single-start document.
func NewSingle(m Meta, t Trace) (*Single, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	d := &Single{
		Header:      m.header(false),
		ResultIter:  t.Params,
		CostIter:    t.Costs,
		RRMSWFEIter: t.RRMSWFE,
		ResultFinal: t.Final,
		CostFirst:   t.Costs[0],
		CostFinal:   t.FinalCost,
		Time:        t.Time,
		NIt:         t.NIt,
		NFev:        t.NFev,
	}
	if t.RRMSWFE != nil {
		d.RRMSWFEFirst = ptr(t.RRMSWFE[0])
		d.RRMSWFEFinal = ptr(t.RRMSWFE[len(t.RRMSWFE)-1])
	}
	return d, nil
}

// Global is the document of a multi-start search. The *_iter fields hold
// one inner sequence per start.
type Global struct {
	Header
	ResultIter   [][][]float64 `json:"result_iter"`
	CostIter     [][]float64   `json:"cost_iter"`
	RRMSWFEIter  [][]float64   `json:"rrmswfe_iter"`
	ResultFinal  []float64     `json:"result_final"`
	CostFirst    float64       `json:"cost_first"`
	CostFinal    float64       `json:"cost_final"`
	RRMSWFEFirst *float64      `json:"rrmswfe_first"`
	RRMSWFEFinal *float64      `json:"rrmswfe_final"`
	Time         float64       `json:"time"`
	NIt          int           `json:"nit"`
	NFev         int           `json:"nfev"`
	NRandomStart int           `json:"nrandomstart"`
	BestRun      int           `json:"best_run"`
	BestIter     int           `json:"best_iter"`
}

// NewGlobal assembles a multi-start document. The "first" values come
// from the first iteration of the first start; the "final" values from
// the iterate with the lowest residual RMS WFE over all starts, or the
// lowest cost when the truth is unknown.
func NewGlobal(m Meta, traces []Trace) (*Global, error) {
	if len(traces) == 0 {
		return nil, errors.New("global document needs at least one trace")
	}
	hasTruth := traces[0].RRMSWFE != nil
	d := &Global{
		Header:       m.header(true),
		NRandomStart: len(traces),
	}
	for i, t := range traces {
		if err := t.validate(); err != nil {
			return nil, fmt.Errorf("start %d: %w", i, err)
		}
		if (t.RRMSWFE != nil) != hasTruth {
			return nil, fmt.Errorf("start %d: residual history present in some starts only", i)
		}
		d.ResultIter = append(d.ResultIter, t.Params)
		d.CostIter = append(d.CostIter, t.Costs)
		if hasTruth {
			d.RRMSWFEIter = append(d.RRMSWFEIter, t.RRMSWFE)
		}
		d.Time += t.Time
		d.NIt += len(t.Costs)
		d.NFev += t.NFev
	}

	d.CostFirst = d.CostIter[0][0]
	if hasTruth {
		d.RRMSWFEFirst = ptr(d.RRMSWFEIter[0][0])
	}
	d.applyMinimum()
	return d, nil
}

// ranking returns the per-iteration values the best iterate is chosen by.
func (d *Global) ranking() [][]float64 {
	if d.RRMSWFEIter != nil {
		return d.RRMSWFEIter
	}
	return d.CostIter
}

// applyMinimum scans every iterate of every start in order and takes the
// first strict minimum as final.
func (d *Global) applyMinimum() {
	bestRun, bestIter := 0, 0
	found := false
	var lowest float64
	for r, run := range d.ranking() {
		for i, v := range run {
			if !found || v < lowest {
				bestRun, bestIter, lowest, found = r, i, v, true
			}
		}
	}
	if !found {
		return
	}

	d.BestRun, d.BestIter = bestRun, bestIter
	d.CostFinal = d.CostIter[bestRun][bestIter]
	if d.RRMSWFEIter != nil {
		d.RRMSWFEFinal = ptr(d.RRMSWFEIter[bestRun][bestIter])
	}
	if bestRun < len(d.ResultIter) && bestIter < len(d.ResultIter[bestRun]) {
		d.ResultFinal = slices.Clone(d.ResultIter[bestRun][bestIter])
	}
}

// CorrectGlobal returns a copy of d whose final values are recomputed from
// the stored histories. Applying it to its own output changes nothing.
func CorrectGlobal(d *Global) *Global {
	out := d.clone()
	out.applyMinimum()
	return out
}

// RecheckMinimum returns a copy of d whose rrmswfe_final is the minimum
// residual over all starts and iterations. Other fields are unchanged.
func RecheckMinimum(d *Global) *Global {
	out := d.clone()
	if out.RRMSWFEIter == nil {
		return out
	}
	found := false
	var lowest float64
	for _, run := range out.RRMSWFEIter {
		for _, v := range run {
			if !found || v < lowest {
				lowest, found = v, true
			}
		}
	}
	if found {
		out.RRMSWFEFinal = ptr(lowest)
	}
	return out
}

func (d *Global) clone() *Global {
	out := *d
	out.ResultFinal = slices.Clone(d.ResultFinal)
	if d.RRMSWFEFinal != nil {
		out.RRMSWFEFinal = ptr(*d.RRMSWFEFinal)
	}
	return &out
}

func ptr(v float64) *float64 {
	return &v
}
