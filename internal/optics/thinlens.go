package optics

import "math"

// DisplacementToDefocus converts an image-plane displacement dz (microns)
// to defocus in waves for a system at f-number fno and wavelength wvl
// (microns). The result is the Seidel W020 coefficient unless zernike is
// set, in which case it is the fringe Z4 coefficient; normed further
// scales it to the unit-RMS Z4 convention.
func DisplacementToDefocus(dz, fno, wvl float64, zernike, normed bool) float64 {
	w := dz / (8 * fno * fno * wvl)
	if zernike {
		w /= 2
		if normed {
			w /= math.Sqrt(3)
		}
	}
	return w
}

// DefocusToDisplacement is the inverse of DisplacementToDefocus.
func DefocusToDisplacement(defocus, fno, wvl float64, zernike, normed bool) float64 {
	w := defocus
	if zernike {
		if normed {
			w *= math.Sqrt(3)
		}
		w *= 2
	}
	return w * 8 * fno * fno * wvl
}

// CutoffFrequency returns the incoherent cutoff frequency in cy/mm for
// wavelength wvl in microns.
func CutoffFrequency(fno, wvl float64) float64 {
	return 1000 / (wvl * fno)
}

// DiffractionLimitedMTF evaluates the MTF of an unaberrated circular pupil
// at each frequency (cy/mm).
func DiffractionLimitedMTF(fno, wvl float64, freqs []float64) []float64 {
	cutoff := CutoffFrequency(fno, wvl)
	out := make([]float64, len(freqs))
	for i, f := range freqs {
		s := math.Abs(f) / cutoff
		if s >= 1 {
			continue
		}
		out[i] = 2 / math.Pi * (math.Acos(s) - s*math.Sqrt(1-s*s))
	}
	return out
}
