package pmf

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

type kdeFit struct {
	kernel distuv.Normal
	x      []float64
	logw   []float64
}

// GenerateKDE places a Gaussian kernel of the given bandwidth on every
// sample, weighted by its reweighting factor.
func (p *PMF) GenerateKDE(bandwidth float64) error {
	if bandwidth <= 0 {
		return fmt.Errorf("%w: bandwidth must be positive, got %g", ErrBadRange, bandwidth)
	}
	fit := &kdeFit{
		kernel: distuv.Normal{Mu: 0, Sigma: bandwidth},
		x:      p.in.X,
		logw:   p.logw,
	}
	p.reset(KindKDE, fit)
	p.regen = func(q *PMF) error { return q.GenerateKDE(bandwidth) }
	return nil
}

// eval returns -ln rho(x).
func (k *kdeFit) eval(x []float64) []float64 {
	out := make([]float64, len(x))
	terms := make([]float64, len(k.x))
	for i, xi := range x {
		for n, xn := range k.x {
			terms[n] = k.logw[n] + k.kernel.LogProb(xi-xn)
		}
		out[i] = -floats.LogSumExp(terms)
	}
	return out
}
