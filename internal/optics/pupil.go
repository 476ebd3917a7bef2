package optics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Wavefront is an optical path difference map in waves, stored row-major
// on an N x N pupil grid. Samples outside the pupil are zero.
type Wavefront []float64

// Grid holds normalized pupil coordinates for an N x N sampling of the
// unit circle. A Grid is read-only once built and can be shared between
// goroutines.
type Grid struct {
	N    int
	Rho  []float64
	Phi  []float64
	Mask []bool
	// Inside lists the flat indices of samples inside the pupil.
	Inside []int
}

// NewGrid samples the unit circle on an n x n grid of cell centers.
func NewGrid(n int) (*Grid, error) {
	if n < 8 {
		return nil, fmt.Errorf("pupil samples must be at least 8, got %d", n)
	}

	g := &Grid{
		N:    n,
		Rho:  make([]float64, n*n),
		Phi:  make([]float64, n*n),
		Mask: make([]bool, n*n),
	}

	half := float64(n) / 2
	for r := 0; r < n; r++ {
		y := (float64(r) + 0.5 - half) / half
		for c := 0; c < n; c++ {
			x := (float64(c) + 0.5 - half) / half
			i := r*n + c
			g.Rho[i] = math.Hypot(x, y)
			g.Phi[i] = math.Atan2(y, x)
			if g.Rho[i] <= 1 {
				g.Mask[i] = true
				g.Inside = append(g.Inside, i)
			}
		}
	}
	return g, nil
}

// Zeros returns an empty wavefront sized for the grid.
func (g *Grid) Zeros() Wavefront {
	return make(Wavefront, g.N*g.N)
}

// Term evaluates a single fringe Zernike term over the pupil.
func (g *Grid) Term(index int, normed bool) Wavefront {
	w := g.Zeros()
	for _, i := range g.Inside {
		w[i] = Fringe(index, g.Rho[i], g.Phi[i], normed)
	}
	return w
}

// Defocus returns the Seidel defocus map W020·rho² in waves.
func (g *Grid) Defocus(w020 float64) Wavefront {
	w := g.Zeros()
	for _, i := range g.Inside {
		w[i] = w020 * g.Rho[i] * g.Rho[i]
	}
	return w
}

// Combine returns sum(coefs[k] * basis[k]).
func (g *Grid) Combine(basis []Wavefront, coefs []float64) Wavefront {
	w := g.Zeros()
	for k, b := range basis {
		c := coefs[k]
		if c == 0 {
			continue
		}
		for _, i := range g.Inside {
			w[i] += c * b[i]
		}
	}
	return w
}

// RMS returns the piston-removed RMS of w over the pupil, in waves.
func (g *Grid) RMS(w Wavefront) float64 {
	vals := make([]float64, len(g.Inside))
	for k, i := range g.Inside {
		vals[k] = w[i]
	}
	_, variance := stat.PopMeanVariance(vals, nil)
	return math.Sqrt(variance)
}

// ResidualRMS returns the RMS of (a - b) over the pupil.
func (g *Grid) ResidualRMS(a, b Wavefront) float64 {
	d := g.Zeros()
	for _, i := range g.Inside {
		d[i] = a[i] - b[i]
	}
	return g.RMS(d)
}
