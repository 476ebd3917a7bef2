package optics

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MaxFringeIndex is the highest fringe Zernike term supported.
const MaxFringeIndex = 37

// zernikeOrder describes a fringe Zernike term by radial order n,
// azimuthal order m and whether it uses sin(mθ) instead of cos(mθ).
type zernikeOrder struct {
	n, m int
	sin  bool
}

// fringeOrders maps fringe index (1-based) to its radial/azimuthal order.
var fringeOrders = [MaxFringeIndex + 1]zernikeOrder{
	{},
	{0, 0, false},  // Z1 piston
	{1, 1, false},  // Z2 tilt x
	{1, 1, true},   // Z3 tilt y
	{2, 0, false},  // Z4 defocus
	{2, 2, false},  // Z5 astigmatism 0°
	{2, 2, true},   // Z6 astigmatism 45°
	{3, 1, false},  // Z7 coma x
	{3, 1, true},   // Z8 coma y
	{4, 0, false},  // Z9 primary spherical
	{3, 3, false},  // Z10 trefoil x
	{3, 3, true},   // Z11 trefoil y
	{4, 2, false},  // Z12
	{4, 2, true},   // Z13
	{5, 1, false},  // Z14
	{5, 1, true},   // Z15
	{6, 0, false},  // Z16 secondary spherical
	{4, 4, false},  // Z17
	{4, 4, true},   // Z18
	{5, 3, false},  // Z19
	{5, 3, true},   // Z20
	{6, 2, false},  // Z21
	{6, 2, true},   // Z22
	{7, 1, false},  // Z23
	{7, 1, true},   // Z24
	{8, 0, false},  // Z25 tertiary spherical
	{5, 5, false},  // Z26
	{5, 5, true},   // Z27
	{6, 4, false},  // Z28
	{6, 4, true},   // Z29
	{7, 3, false},  // Z30
	{7, 3, true},   // Z31
	{8, 2, false},  // Z32
	{8, 2, true},   // Z33
	{9, 1, false},  // Z34
	{9, 1, true},   // Z35
	{10, 0, false}, // Z36 quaternary spherical
	{12, 0, false}, // Z37
}

// ParseTerm converts a term name such as "Z9" to its fringe index.
func ParseTerm(name string) (int, error) {
	s := strings.TrimSpace(name)
	if len(s) < 2 || (s[0] != 'Z' && s[0] != 'z') {
		return 0, fmt.Errorf("invalid zernike term %q", name)
	}
	idx, err := strconv.Atoi(s[1:])
	if err != nil {
		return 0, fmt.Errorf("invalid zernike term %q: %w", name, err)
	}
	if idx < 1 || idx > MaxFringeIndex {
		return 0, fmt.Errorf("zernike term %q out of range Z1..Z%d", name, MaxFringeIndex)
	}
	return idx, nil
}

// RadialPolynomial evaluates R_n^m(rho).
func RadialPolynomial(n, m int, rho float64) float64 {
	var sum float64
	for k := 0; k <= (n-m)/2; k++ {
		num := factorial(n - k)
		den := factorial(k) * factorial((n+m)/2-k) * factorial((n-m)/2-k)
		c := num / den
		if k%2 == 1 {
			c = -c
		}
		sum += c * math.Pow(rho, float64(n-2*k))
	}
	return sum
}

// NormFactor returns the factor that scales a fringe term to unit RMS
// over the unit circle.
func NormFactor(index int) float64 {
	o := fringeOrders[index]
	if o.m == 0 {
		return math.Sqrt(float64(o.n + 1))
	}
	return math.Sqrt(2 * float64(o.n+1))
}

// Fringe evaluates fringe Zernike term index at polar coordinates (rho, phi).
// When normed is true the term has unit RMS over the pupil.
func Fringe(index int, rho, phi float64, normed bool) float64 {
	o := fringeOrders[index]
	v := RadialPolynomial(o.n, o.m, rho)
	if o.m != 0 {
		if o.sin {
			v *= math.Sin(float64(o.m) * phi)
		} else {
			v *= math.Cos(float64(o.m) * phi)
		}
	}
	if normed {
		v *= NormFactor(index)
	}
	return v
}

func factorial(n int) float64 {
	f := 1.0
	for i := 2; i <= n; i++ {
		f *= float64(i)
	}
	return f
}
