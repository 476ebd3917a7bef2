package fit

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/axialfit/internal/optics"
)

func TestSimulateTruthShapes(t *testing.T) {
	truth, err := SimulateTruth(smallConfig(5), DefaultDecoderRing(), []float64{0.05, 0.03, 0, 0}, false)
	require.NoError(t, err)

	assert.Equal(t, 5, truth.Data.Planes())
	for p := range 5 {
		assert.Len(t, truth.Data.Tan[p], 7)
		assert.Len(t, truth.Data.Sag[p], 7)
	}
	assert.Greater(t, truth.RMSWFE, 0.0)

	// rotationally symmetric terms give identical azimuths
	for p := range 5 {
		assert.InDeltaSlice(t, truth.Data.Tan[p], truth.Data.Sag[p], 1e-9)
	}
}

func TestSimulateTruthUnaberratedFocusIsDiffractionLimited(t *testing.T) {
	cfg := smallConfig(3)
	cfg.Samples = 64
	truth, err := SimulateTruth(cfg, DecoderRing{"Z9"}, []float64{0}, false)
	require.NoError(t, err)

	dl := optics.DiffractionLimitedMTF(cfg.FNo, cfg.Wavelength, truth.Config.Freqs)
	assert.InDeltaSlice(t, dl, truth.Data.Tan[1], 0.05, "middle plane is in focus")
	assert.Equal(t, 0.0, truth.RMSWFE)
}

func TestSimulateTruthRejectsWrongLength(t *testing.T) {
	_, err := SimulateTruth(smallConfig(3), DefaultDecoderRing(), []float64{0.1}, false)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

const truthCSV = `Field,Focus,Azimuth,Freq,MTF
0,-10,Tan,50,0.71
0,-10,Sag,50,0.72
0,-10,Tan,100,0.41
0,-10,Sag,100,0.42
0,0,Tan,50,0.91
0,0,Sag,50,0.92
0,0,Tan,100,0.81
0,0,Sag,100,0.82
0.5,0,Tan,50,0.11
0.5,0,Sag,50,0.12
`

func TestLoadTruthCSV(t *testing.T) {
	truth, err := LoadTruthCSV(strings.NewReader(truthCSV))
	require.NoError(t, err)

	assert.Equal(t, []float64{-10, 0}, truth.FocusPositions)
	assert.Equal(t, []float64{50, 100}, truth.Freqs)
	assert.Equal(t, [][]float64{{0.71, 0.41}, {0.91, 0.81}}, truth.Data.Tan)
	assert.Equal(t, [][]float64{{0.72, 0.42}, {0.92, 0.82}}, truth.Data.Sag)

	cfg := truth.Apply(DefaultSimulationConfig())
	assert.Equal(t, 2, cfg.FocusPlanes)
	assert.Equal(t, truth.Freqs, cfg.Freqs)
}

func TestLoadTruthCSVErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"missing column", "Field,Focus,Azimuth,MTF\n0,0,Tan,0.5\n", "missing column"},
		{"header only", "Field,Focus,Azimuth,Freq,MTF\n", "insufficient data"},
		{"bad azimuth", "Field,Focus,Azimuth,Freq,MTF\n0,0,Diag,50,0.5\n", "invalid azimuth"},
		{"bad value", "Field,Focus,Azimuth,Freq,MTF\n0,0,Tan,50,high\n", "invalid mtf"},
		{"missing sag", "Field,Focus,Azimuth,Freq,MTF\n0,0,Tan,50,0.5\n", "missing sample"},
		{"duplicate", "Field,Focus,Azimuth,Freq,MTF\n0,0,Tan,50,0.5\n0,0,Tan,50,0.6\n", "duplicate"},
		{"off axis only", "Field,Focus,Azimuth,Freq,MTF\n1,0,Tan,50,0.5\n", "no on-axis rows"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadTruthCSV(strings.NewReader(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNewContextRejectsMismatchedTruth(t *testing.T) {
	truth, err := SimulateTruth(smallConfig(3), DecoderRing{"Z9"}, []float64{0.01}, false)
	require.NoError(t, err)

	short := TruthData{Tan: truth.Data.Tan[:2], Sag: truth.Data.Sag[:2]}
	_, err = NewContext(truth.Config, DecoderRing{"Z9"}, short, false)
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "truth", cerr.Field)

	_, err = NewContext(truth.Config, DecoderRing{"Z4", "Z4"}, truth.Data, false)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
