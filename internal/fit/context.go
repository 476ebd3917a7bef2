package fit

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/cwbudde/axialfit/internal/optics"
)

// Context is everything a worker needs to evaluate one focus plane. It is
// built once before the pool starts and never mutated afterwards, so it
// is shared by reference between workers.
type Context struct {
	Config SimulationConfig
	Ring   DecoderRing
	Normed bool

	Grid    *optics.Grid
	Terms   []optics.Wavefront // one basis map per ring entry
	Defocus []optics.Wavefront // one map per focus plane

	Cutoff      float64
	Diffraction []float64 // diffraction-limited MTF at Config.Freqs

	// truth divided by the diffraction limit
	tanNorm [][]float64
	sagNorm [][]float64
}

// NewContext resolves and validates the configuration and precomputes the
// pupil bases. Every consistency check happens here, before any worker is
// started.
func NewContext(cfg SimulationConfig, ring DecoderRing, truth TruthData, normed bool) (*Context, error) {
	cfg, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	indices, err := ring.Indices()
	if err != nil {
		return nil, err
	}
	if err := truth.validate(len(cfg.FocusPositions), len(cfg.Freqs)); err != nil {
		return nil, err
	}

	grid, err := optics.NewGrid(cfg.Samples)
	if err != nil {
		return nil, configErrorf("samples", "%v", err)
	}

	c := &Context{
		Config:      cfg,
		Ring:        append(DecoderRing(nil), ring...),
		Normed:      normed,
		Grid:        grid,
		Terms:       make([]optics.Wavefront, len(indices)),
		Defocus:     make([]optics.Wavefront, len(cfg.FocusPositions)),
		Cutoff:      cfg.Cutoff(),
		Diffraction: optics.DiffractionLimitedMTF(cfg.FNo, cfg.Wavelength, cfg.Freqs),
		tanNorm:     make([][]float64, len(cfg.FocusPositions)),
		sagNorm:     make([][]float64, len(cfg.FocusPositions)),
	}
	for i, idx := range indices {
		c.Terms[i] = grid.Term(idx, normed)
	}
	for p, z := range cfg.FocusPositions {
		w020 := optics.DisplacementToDefocus(z, cfg.FNo, cfg.Wavelength, false, false)
		c.Defocus[p] = grid.Defocus(w020)
		c.tanNorm[p] = c.normalize(truth.Tan[p])
		c.sagNorm[p] = c.normalize(truth.Sag[p])
	}

	slog.Debug("Simulation context ready",
		"planes", len(c.Defocus),
		"freqs", len(cfg.Freqs),
		"terms", len(c.Terms),
		"samples", cfg.Samples,
	)
	return c, nil
}

func (c *Context) normalize(mtf []float64) []float64 {
	out := make([]float64, len(mtf))
	for k, v := range mtf {
		out[k] = v / c.Diffraction[k]
	}
	return out
}

// Planes returns the number of focus planes.
func (c *Context) Planes() int {
	return len(c.Defocus)
}

// Dim returns the length of a coefficient vector.
func (c *Context) Dim() int {
	return len(c.Ring)
}

// Wavefront builds the pupil wavefront for a coefficient vector.
func (c *Context) Wavefront(coefs []float64) (optics.Wavefront, error) {
	if len(coefs) != len(c.Ring) {
		return nil, configErrorf("coefficients", "got %d values for %d ring terms", len(coefs), len(c.Ring))
	}
	return c.Grid.Combine(c.Terms, coefs), nil
}

// RMSWFE returns the RMS wavefront error of a coefficient vector in waves.
func (c *Context) RMSWFE(coefs []float64) (float64, error) {
	w, err := c.Wavefront(coefs)
	if err != nil {
		return 0, err
	}
	return c.Grid.RMS(w), nil
}

// ResidualRMSWFE returns the RMS of the wavefront difference between a
// fitted and a reference coefficient vector.
func (c *Context) ResidualRMSWFE(fitted, reference []float64) (float64, error) {
	a, err := c.Wavefront(fitted)
	if err != nil {
		return 0, err
	}
	b, err := c.Wavefront(reference)
	if err != nil {
		return 0, err
	}
	return c.Grid.ResidualRMS(a, b), nil
}

// Worker is the state owned by one pool worker: a reference to the shared
// Context plus a private simulator and scratch wavefront.
type Worker struct {
	ID    int
	ctx   *Context
	sim   *optics.Simulator
	trial optics.Wavefront
}

// NewWorker builds the worker-local state. It is the pool initializer and
// runs exactly once per worker.
func NewWorker(c *Context, id int) (*Worker, error) {
	if c == nil {
		return nil, fmt.Errorf("worker %d: nil context", id)
	}
	return &Worker{
		ID:    id,
		ctx:   c,
		sim:   optics.NewSimulator(c.Grid),
		trial: c.Grid.Zeros(),
	}, nil
}

// PlaneTask is one unit of work: evaluate the base wavefront at one focus
// plane. Base is shared read-only by all tasks of an objective call.
type PlaneTask struct {
	Plane int
	Base  optics.Wavefront
}

// RealisticFocusRange rounds the focus range of cfg to a whole multiple of
// roundTo microns, the step an MTF bench can actually realize, and returns
// the configuration with FocusRangeWaves updated.
func RealisticFocusRange(cfg SimulationConfig, roundTo float64) (SimulationConfig, error) {
	if !(roundTo > 0) {
		return cfg, configErrorf("round_focus_to", "must be positive, got %g", roundTo)
	}
	if !(cfg.FNo > 0) || !(cfg.Wavelength > 0) {
		return cfg, configErrorf("sim_params", "f-number and wavelength must be positive")
	}
	um := optics.DefocusToDisplacement(cfg.FocusRangeWaves, cfg.FNo, cfg.Wavelength, false, false)
	um = roundTo * math.Round(um/roundTo)
	cfg.FocusRangeWaves = optics.DisplacementToDefocus(um, cfg.FNo, cfg.Wavelength, false, false)
	cfg.FocusPositions = nil
	return cfg, nil
}
