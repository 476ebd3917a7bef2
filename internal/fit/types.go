package fit

import (
	"errors"
	"fmt"
	"math"

	"github.com/cwbudde/axialfit/internal/optics"
)

// ErrInvalidConfig matches every *ConfigError.
var ErrInvalidConfig = errors.New("invalid configuration")

// ConfigError reports an inconsistent simulation setup, detected before
// any worker is started.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

func configErrorf(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// SimulationConfig describes the lens and the through-focus measurement.
// Lengths are in millimeters except Wavelength and FocusPositions, which
// are in microns. Frequencies are in cycles/mm.
type SimulationConfig struct {
	EFL             float64   `json:"efl" yaml:"efl" validate:"gt=0"`
	FNo             float64   `json:"fno" yaml:"fno" validate:"gt=0"`
	Wavelength      float64   `json:"wavelength" yaml:"wavelength" validate:"gt=0"`
	Samples         int       `json:"samples" yaml:"samples" validate:"gte=8"`
	FocusPlanes     int       `json:"focus_planes" yaml:"focus_planes" validate:"gte=1"`
	FocusRangeWaves float64   `json:"focus_range_waves" yaml:"focus_range_waves" validate:"gte=0"`
	FocusPositions  []float64 `json:"focus_positions,omitempty" yaml:"focus_positions,omitempty"`
	Freqs           []float64 `json:"freqs,omitempty" yaml:"freqs,omitempty"`
	FreqStep        float64   `json:"freq_step" yaml:"freq_step" validate:"gte=0"`
}

// DefaultSimulationConfig returns a 50 mm f/2 lens at 0.55 µm sampled on
// 21 planes spanning ±2 waves of defocus.
func DefaultSimulationConfig() SimulationConfig {
	return SimulationConfig{
		EFL:             50,
		FNo:             2,
		Wavelength:      0.55,
		Samples:         128,
		FocusPlanes:     21,
		FocusRangeWaves: 2,
		FreqStep:        10,
	}
}

// Cutoff returns the incoherent cutoff frequency in cy/mm.
func (c SimulationConfig) Cutoff() float64 {
	return optics.CutoffFrequency(c.FNo, c.Wavelength)
}

// Resolve fills FocusPositions and Freqs when they are not given.
// Focus positions span ±FocusRangeWaves of defocus over FocusPlanes
// planes; frequencies run every FreqStep cy/mm from FreqStep up to, but
// excluding, the cutoff.
func (c SimulationConfig) Resolve() (SimulationConfig, error) {
	if c.FNo <= 0 || c.Wavelength <= 0 {
		return c, configErrorf("sim_params", "f-number and wavelength must be positive")
	}
	if len(c.FocusPositions) == 0 {
		if c.FocusPlanes < 1 {
			return c, configErrorf("focus_planes", "need at least one focus plane, got %d", c.FocusPlanes)
		}
		c.FocusPositions = make([]float64, c.FocusPlanes)
		span := optics.DefocusToDisplacement(c.FocusRangeWaves, c.FNo, c.Wavelength, false, false)
		for i := range c.FocusPositions {
			if c.FocusPlanes == 1 {
				break
			}
			c.FocusPositions[i] = -span + 2*span*float64(i)/float64(c.FocusPlanes-1)
		}
	} else {
		c.FocusPositions = append([]float64(nil), c.FocusPositions...)
	}
	c.FocusPlanes = len(c.FocusPositions)

	if len(c.Freqs) == 0 {
		if c.FreqStep <= 0 {
			return c, configErrorf("freq_step", "must be positive when no frequencies are given")
		}
		cutoff := c.Cutoff()
		for f := c.FreqStep; f < cutoff; f += c.FreqStep {
			c.Freqs = append(c.Freqs, f)
		}
	} else {
		c.Freqs = append([]float64(nil), c.Freqs...)
	}
	return c, nil
}

// Validate checks a resolved configuration.
func (c SimulationConfig) Validate() error {
	switch {
	case !(c.EFL > 0):
		return configErrorf("efl", "must be positive, got %g", c.EFL)
	case !(c.FNo > 0):
		return configErrorf("fno", "must be positive, got %g", c.FNo)
	case !(c.Wavelength > 0):
		return configErrorf("wavelength", "must be positive, got %g", c.Wavelength)
	case c.Samples < 8:
		return configErrorf("samples", "must be at least 8, got %d", c.Samples)
	case len(c.FocusPositions) == 0:
		return configErrorf("focus_positions", "no focus planes")
	case len(c.Freqs) == 0:
		return configErrorf("freqs", "no frequencies")
	}
	cutoff := c.Cutoff()
	for i, f := range c.Freqs {
		if !(f >= 0 && f < cutoff) {
			return configErrorf("freqs", "frequency %d = %g outside [0, %g)", i, f, cutoff)
		}
	}
	for i, z := range c.FocusPositions {
		if math.IsNaN(z) || math.IsInf(z, 0) {
			return configErrorf("focus_positions", "position %d is not finite", i)
		}
	}
	return nil
}

// DecoderRing maps coefficient-vector index i to a fringe Zernike term
// name such as "Z9". Its length fixes the problem dimension.
type DecoderRing []string

// DefaultDecoderRing is defocus plus third, fifth and seventh order
// spherical aberration.
func DefaultDecoderRing() DecoderRing {
	return DecoderRing{"Z4", "Z9", "Z16", "Z25"}
}

// Indices resolves every term name to its fringe index.
func (r DecoderRing) Indices() ([]int, error) {
	if len(r) == 0 {
		return nil, configErrorf("codex", "decoder ring is empty")
	}
	seen := make(map[int]bool, len(r))
	out := make([]int, len(r))
	for i, name := range r {
		idx, err := optics.ParseTerm(name)
		if err != nil {
			return nil, configErrorf("codex", "entry %d: %v", i, err)
		}
		if seen[idx] {
			return nil, configErrorf("codex", "term %s appears twice", name)
		}
		seen[idx] = true
		out[i] = idx
	}
	return out, nil
}

// Map returns the ring as an index to term map, the layout used in
// result documents.
func (r DecoderRing) Map() map[int]string {
	m := make(map[int]string, len(r))
	for i, name := range r {
		m[i] = name
	}
	return m
}

// TruthData holds measured MTF per focus plane: Tan[p][k] and Sag[p][k]
// are the tangential and sagittal MTF of plane p at frequency k.
type TruthData struct {
	Tan [][]float64 `json:"tan"`
	Sag [][]float64 `json:"sag"`
}

// Planes returns the number of focus planes.
func (t TruthData) Planes() int {
	return len(t.Tan)
}

func (t TruthData) validate(planes, freqs int) error {
	if len(t.Tan) != planes || len(t.Sag) != planes {
		return configErrorf("truth", "have %d tangential and %d sagittal planes, want %d", len(t.Tan), len(t.Sag), planes)
	}
	for p := range planes {
		if len(t.Tan[p]) != freqs || len(t.Sag[p]) != freqs {
			return configErrorf("truth", "plane %d has %d/%d samples, want %d", p, len(t.Tan[p]), len(t.Sag[p]), freqs)
		}
		for k := range freqs {
			if !isFinite(t.Tan[p][k]) || !isFinite(t.Sag[p][k]) {
				return configErrorf("truth", "plane %d frequency %d is not finite", p, k)
			}
		}
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
