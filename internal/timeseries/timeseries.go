// Package timeseries estimates the statistical inefficiency of correlated
// samples and extracts effectively uncorrelated subsets.
package timeseries

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"gonum.org/v1/gonum/stat"
)

// DefaultMinTime is the lag below which a non-positive autocorrelation
// does not end the integration.
const DefaultMinTime = 3

var (
	ErrZeroVariance = errors.New("timeseries: sample covariance is zero")
	ErrLength       = errors.New("timeseries: series lengths differ")
	ErrTooShort     = errors.New("timeseries: series needs at least two samples")
)

// StatisticalInefficiency returns g = 1 + 2 tau for the pair (a, b). Pass
// b == nil for the autocorrelation of a. The correlation function is
// integrated until it first drops to zero after mintime.
func StatisticalInefficiency(a, b []float64, mintime int) (float64, error) {
	if b == nil {
		b = a
	}
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrLength, len(a), len(b))
	}
	n := len(a)
	if n < 2 {
		return 0, ErrTooShort
	}

	muA, muB := stat.Mean(a, nil), stat.Mean(b, nil)
	da := make([]float64, n)
	db := make([]float64, n)
	for i := range a {
		da[i] = a[i] - muA
		db[i] = b[i] - muB
	}

	sigma2 := 0.0
	for i := range da {
		sigma2 += da[i] * db[i]
	}
	sigma2 /= float64(n)
	if sigma2 == 0 {
		return 0, ErrZeroVariance
	}

	return integrate(n, mintime, func(t int) float64 {
		c := 0.0
		for i := 0; i < n-t; i++ {
			c += da[i]*db[i+t] + db[i]*da[i+t]
		}
		return c / (2.0 * float64(n-t) * sigma2)
	}), nil
}

// StatisticalInefficiencyFFT is the autocorrelation case of
// StatisticalInefficiency with the correlation function computed by FFT.
func StatisticalInefficiencyFFT(a []float64, mintime int) (float64, error) {
	n := len(a)
	if n < 2 {
		return 0, ErrTooShort
	}
	mu := stat.Mean(a, nil)

	// zero padding to 2n keeps the circular correlation from wrapping
	padded := make([]float64, 2*n)
	for i, v := range a {
		padded[i] = v - mu
	}
	power := fft.FFTReal(padded)
	for i, z := range power {
		power[i] = z * cmplx.Conj(z)
	}
	acf := fft.IFFT(power)

	sigma2 := real(acf[0]) / float64(n)
	if sigma2 <= 0 {
		return 0, ErrZeroVariance
	}
	return integrate(n, mintime, func(t int) float64 {
		return real(acf[t]) / (float64(n-t) * sigma2)
	}), nil
}

func integrate(n, mintime int, corr func(t int) float64) float64 {
	g := 1.0
	for t := 1; t < n-1; t++ {
		c := corr(t)
		if c <= 0 && t > mintime {
			break
		}
		g += 2.0 * c * (1.0 - float64(t)/float64(n))
	}
	return math.Max(g, 1.0)
}

// SubsampleCorrelatedData returns the indices round(i*g) below n, with
// duplicates removed. Rounding is half-to-even.
func SubsampleCorrelatedData(n int, g float64) []int {
	if g < 1 {
		g = 1
	}
	indices := make([]int, 0, int(float64(n)/g)+1)
	for i := 0; ; i++ {
		t := int(math.RoundToEven(float64(i) * g))
		if t >= n {
			break
		}
		if len(indices) == 0 || indices[len(indices)-1] != t {
			indices = append(indices, t)
		}
	}
	return indices
}

// ConservativeSubsample strides by ceil(g).
func ConservativeSubsample(n int, g float64) []int {
	stride := int(math.Ceil(g))
	if stride < 1 {
		stride = 1
	}
	indices := make([]int, 0, n/stride+1)
	for t := 0; t < n; t += stride {
		indices = append(indices, t)
	}
	return indices
}

// TorsionInefficiency is max(g(cos chi), g(sin chi)) for angles in degrees.
// A torsion pinned at one value has zero variance in one component; the
// other component decides then.
func TorsionInefficiency(chiDeg []float64, mintime int) (float64, error) {
	cos := make([]float64, len(chiDeg))
	sin := make([]float64, len(chiDeg))
	for i, chi := range chiDeg {
		r := chi * math.Pi / 180.0
		cos[i], sin[i] = math.Cos(r), math.Sin(r)
	}
	gCos, errCos := StatisticalInefficiency(cos, nil, mintime)
	gSin, errSin := StatisticalInefficiency(sin, nil, mintime)
	switch {
	case errCos != nil && errSin != nil:
		return 0, errCos
	case errCos != nil:
		return gSin, nil
	case errSin != nil:
		return gCos, nil
	}
	return math.Max(gCos, gSin), nil
}
