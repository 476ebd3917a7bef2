package optics

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Simulator computes tangential and sagittal MTF from a pupil wavefront.
// The OTF is the autocorrelation of the complex pupil; it is obtained as
// the inverse transform of the PSF spectrum |FFT(pupil)|², evaluated only
// along the two principal axes.
//
// A Simulator owns FFT plans and scratch buffers and must not be shared
// between goroutines.
type Simulator struct {
	grid *Grid
	m    int
	fft  *fourier.CmplxFFT

	field  []complex128
	buf    []complex128
	col    []complex128
	px, py []complex128
	ax, ay []complex128
	lagX   []float64
	lagY   []float64
}

// NewSimulator allocates a simulator for the grid, zero-padded by 2x so
// that lags up to the full pupil diameter do not wrap.
func NewSimulator(g *Grid) *Simulator {
	m := 2 * g.N
	return &Simulator{
		grid:  g,
		m:     m,
		fft:   fourier.NewCmplxFFT(m),
		field: make([]complex128, m*m),
		buf:   make([]complex128, m),
		col:   make([]complex128, m),
		px:    make([]complex128, m),
		py:    make([]complex128, m),
		ax:    make([]complex128, m),
		ay:    make([]complex128, m),
		lagX:  make([]float64, g.N+1),
		lagY:  make([]float64, g.N+1),
	}
}

// MTF returns tangential and sagittal MTF of w at freqs (cy/mm), where
// cutoff is the incoherent cutoff frequency of the system.
func (s *Simulator) MTF(w Wavefront, freqs []float64, cutoff float64) (tan, sag []float64) {
	s.otfLags(w)
	tan = make([]float64, len(freqs))
	sag = make([]float64, len(freqs))
	for i, f := range freqs {
		lag := f / cutoff * float64(s.grid.N)
		tan[i] = interpLag(s.lagY, lag)
		sag[i] = interpLag(s.lagX, lag)
	}
	return tan, sag
}

// otfLags fills lagX/lagY with the normalized OTF modulus at integer lags
// 0..N along x (sagittal) and y (tangential).
func (s *Simulator) otfLags(w Wavefront) {
	n, m := s.grid.N, s.m

	for i := range s.field {
		s.field[i] = 0
	}
	for _, i := range s.grid.Inside {
		r, c := i/n, i%n
		phase := 2 * math.Pi * w[i]
		s.field[r*m+c] = complex(math.Cos(phase), math.Sin(phase))
	}

	// rows beyond n are zero and transform to zero
	for r := 0; r < n; r++ {
		row := s.field[r*m : (r+1)*m]
		s.fft.Coefficients(s.buf, row)
		copy(row, s.buf)
	}

	for i := range s.px {
		s.px[i] = 0
		s.py[i] = 0
	}
	for c := 0; c < m; c++ {
		for r := 0; r < m; r++ {
			s.col[r] = s.field[r*m+c]
		}
		s.fft.Coefficients(s.buf, s.col)
		for r, v := range s.buf {
			p := real(v)*real(v) + imag(v)*imag(v)
			s.px[c] += complex(p, 0)
			s.py[r] += complex(p, 0)
		}
	}

	s.fft.Sequence(s.ax, s.px)
	s.fft.Sequence(s.ay, s.py)

	x0, y0 := cmplx.Abs(s.ax[0]), cmplx.Abs(s.ay[0])
	for k := 0; k <= n; k++ {
		s.lagX[k] = cmplx.Abs(s.ax[k]) / x0
		s.lagY[k] = cmplx.Abs(s.ay[k]) / y0
	}
	s.lagX[n], s.lagY[n] = 0, 0
}

func interpLag(lags []float64, lag float64) float64 {
	last := len(lags) - 1
	if lag <= 0 {
		return lags[0]
	}
	if lag >= float64(last) {
		return 0
	}
	lo := int(lag)
	frac := lag - float64(lo)
	return lags[lo]*(1-frac) + lags[lo+1]*frac
}
