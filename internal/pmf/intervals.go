package pmf

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distmv"
)

// Intervals are percentiles of the sampled curves at each X. Values holds
// the median.
type Intervals struct {
	X      []float64
	Values []float64
	Low    []float64
	High   []float64
}

// ConfidenceIntervals evaluates every posterior sample at x and returns
// the plow and phigh percentiles (0-100).
func (p *PMF) ConfidenceIntervals(x []float64, plow, phigh float64, ref Reference) (*Intervals, error) {
	if p.mc == nil {
		return nil, ErrNoMCData
	}
	if !(plow >= 0 && plow < phigh && phigh <= 100) {
		return nil, fmt.Errorf("%w: percentiles %g and %g", ErrBadRange, plow, phigh)
	}
	_, ns := p.mc.Samples.Dims()
	curves := make([][]float64, ns)
	for s := range curves {
		curves[s] = evalCoefficients(p.spline.basis, mat.Col(nil, s, p.mc.Samples), x)
		if ref != ReferenceNone {
			shiftToLowest(curves[s])
		}
	}

	out := &Intervals{
		X:      append([]float64(nil), x...),
		Values: make([]float64, len(x)),
		Low:    make([]float64, len(x)),
		High:   make([]float64, len(x)),
	}
	col := make([]float64, ns)
	for i := range x {
		for s, c := range curves {
			col[s] = c[i]
		}
		sort.Float64s(col)
		out.Values[i] = stat.Quantile(0.5, stat.Empirical, col, nil)
		out.Low[i] = stat.Quantile(plow/100, stat.Empirical, col, nil)
		out.High[i] = stat.Quantile(phigh/100, stat.Empirical, col, nil)
	}
	return out, nil
}

// SmoothnessPrior returns the log density of the differences between
// neighbouring coefficients under N(0, (scale/n) I). It expects n
// coefficients.
func SmoothnessPrior(scale float64, n int) (func(c []float64) float64, error) {
	if n < 2 || scale <= 0 {
		return nil, fmt.Errorf("%w: prior scale %g for %d coefficients", ErrBadRange, scale, n)
	}
	d := n - 1
	cov := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		cov.SetSym(i, i, scale/float64(n))
	}
	normal, ok := distmv.NewNormal(make([]float64, d), cov, nil)
	if !ok {
		return nil, fmt.Errorf("%w: prior covariance not positive definite", ErrBadRange)
	}
	diff := make([]float64, d)
	return func(c []float64) float64 {
		for i := 0; i < d; i++ {
			diff[i] = c[i+1] - c[i]
		}
		return normal.LogProb(diff)
	}, nil
}
