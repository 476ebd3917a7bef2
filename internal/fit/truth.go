package fit

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/cwbudde/axialfit/internal/optics"
)

// SyntheticTruth is through-focus MTF simulated from known coefficients.
type SyntheticTruth struct {
	Config SimulationConfig // resolved configuration the data was simulated on
	Params []float64
	RMSWFE float64 // RMS wavefront error of Params, in waves
	Data   TruthData
}

// SimulateTruth computes the tangential and sagittal MTF at every focus
// plane for the wavefront described by ring and params.
func SimulateTruth(cfg SimulationConfig, ring DecoderRing, params []float64, normed bool) (*SyntheticTruth, error) {
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
	if len(params) != len(indices) {
		return nil, configErrorf("truth_params", "got %d values for %d ring terms", len(params), len(indices))
	}

	grid, err := optics.NewGrid(cfg.Samples)
	if err != nil {
		return nil, configErrorf("samples", "%v", err)
	}
	basis := make([]optics.Wavefront, len(indices))
	for i, idx := range indices {
		basis[i] = grid.Term(idx, normed)
	}
	base := grid.Combine(basis, params)

	sim := optics.NewSimulator(grid)
	cutoff := cfg.Cutoff()
	data := TruthData{
		Tan: make([][]float64, len(cfg.FocusPositions)),
		Sag: make([][]float64, len(cfg.FocusPositions)),
	}
	trial := grid.Zeros()
	for p, z := range cfg.FocusPositions {
		defocus := grid.Defocus(optics.DisplacementToDefocus(z, cfg.FNo, cfg.Wavelength, false, false))
		for _, i := range grid.Inside {
			trial[i] = base[i] + defocus[i]
		}
		data.Tan[p], data.Sag[p] = sim.MTF(trial, cfg.Freqs, cutoff)
	}

	return &SyntheticTruth{
		Config: cfg,
		Params: slices.Clone(params),
		RMSWFE: grid.RMS(base),
		Data:   data,
	}, nil
}

// AxialTruth is on-axis through-focus MTF read from a measurement file.
type AxialTruth struct {
	FocusPositions []float64 // microns, ascending
	Freqs          []float64 // cy/mm, ascending
	Data           TruthData
}

// Apply returns cfg with its focus positions and frequencies replaced by
// the measured ones.
func (a *AxialTruth) Apply(cfg SimulationConfig) SimulationConfig {
	cfg.FocusPositions = slices.Clone(a.FocusPositions)
	cfg.FocusPlanes = len(a.FocusPositions)
	cfg.Freqs = slices.Clone(a.Freqs)
	return cfg
}

var truthColumns = []string{"field", "focus", "azimuth", "freq", "mtf"}

// LoadTruthCSV reads long-format MTF data with the columns field, focus,
// azimuth, freq and mtf in any order. Only on-axis rows (field 0) are
// kept; azimuth is Tan or Sag. Every focus position must have a value for
// every frequency in both azimuths.
func LoadTruthCSV(r io.Reader) (*AxialTruth, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read truth CSV: %w", err)
	}
	if len(records) < 2 {
		return nil, errors.New("insufficient data in truth CSV")
	}

	col := make(map[string]int, len(truthColumns))
	for i, name := range records[0] {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range truthColumns {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("truth CSV header is missing column %q", name)
		}
	}

	type key struct {
		focus, freq float64
		tan         bool
	}
	values := make(map[key]float64)
	var focus, freqs []float64

	for i, record := range records[1:] {
		line := i + 2
		if len(record) != len(records[0]) {
			return nil, fmt.Errorf("invalid record at line %d: expected %d fields", line, len(records[0]))
		}
		field, err := strconv.ParseFloat(record[col["field"]], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid field at line %d: %w", line, err)
		}
		if field != 0 {
			continue
		}

		var k key
		switch strings.ToLower(record[col["azimuth"]]) {
		case "tan", "t", "tangential":
			k.tan = true
		case "sag", "s", "sagittal":
		default:
			return nil, fmt.Errorf("invalid azimuth %q at line %d", record[col["azimuth"]], line)
		}
		if k.focus, err = strconv.ParseFloat(record[col["focus"]], 64); err != nil {
			return nil, fmt.Errorf("invalid focus at line %d: %w", line, err)
		}
		if k.freq, err = strconv.ParseFloat(record[col["freq"]], 64); err != nil {
			return nil, fmt.Errorf("invalid freq at line %d: %w", line, err)
		}
		v, err := strconv.ParseFloat(record[col["mtf"]], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid mtf at line %d: %w", line, err)
		}
		if _, dup := values[k]; dup {
			return nil, fmt.Errorf("duplicate sample at line %d", line)
		}
		values[k] = v
		focus = append(focus, k.focus)
		freqs = append(freqs, k.freq)
	}
	if len(values) == 0 {
		return nil, errors.New("truth CSV has no on-axis rows")
	}

	slices.Sort(focus)
	slices.Sort(freqs)
	out := &AxialTruth{
		FocusPositions: slices.Compact(focus),
		Freqs:          slices.Compact(freqs),
	}
	out.Data.Tan = make([][]float64, len(out.FocusPositions))
	out.Data.Sag = make([][]float64, len(out.FocusPositions))
	for p, z := range out.FocusPositions {
		out.Data.Tan[p] = make([]float64, len(out.Freqs))
		out.Data.Sag[p] = make([]float64, len(out.Freqs))
		for f, nu := range out.Freqs {
			t, okT := values[key{z, nu, true}]
			s, okS := values[key{z, nu, false}]
			if !okT || !okS {
				return nil, fmt.Errorf("missing sample at focus %g, frequency %g", z, nu)
			}
			out.Data.Tan[p][f], out.Data.Sag[p][f] = t, s
		}
	}

	slog.Debug("Loaded axial truth", "planes", len(out.FocusPositions), "freqs", len(out.Freqs))
	return out, nil
}
