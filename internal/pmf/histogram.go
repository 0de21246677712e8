package pmf

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/mbarpmf/internal/mbar"
)

type histogramFit struct {
	edges []float64
	f     []float64 // +Inf for empty bins
	theta *mat.Dense
	col   []int // covariance index of each bin, -1 when empty
}

// binOf follows numpy's convention: bins are half-open except the last,
// which includes its right edge. Values outside the edges return -1.
func binOf(edges []float64, x float64) int {
	last := len(edges) - 1
	if x < edges[0] || x > edges[last] || math.IsNaN(x) {
		return -1
	}
	if x == edges[last] {
		return last - 1
	}
	return sort.Search(len(edges), func(i int) bool { return edges[i] > x }) - 1
}

// GenerateHistogram bins the reweighted samples.
func (p *PMF) GenerateHistogram(edges []float64) error {
	if len(edges) < 2 || !sort.Float64sAreSorted(edges) || edges[0] == edges[len(edges)-1] {
		return fmt.Errorf("%w: bin edges must be increasing", ErrBadRange)
	}
	nbins := len(edges) - 1

	members := make([][]int, nbins)
	for n, x := range p.in.X {
		if b := binOf(edges, x); b >= 0 {
			members[b] = append(members[b], n)
		}
	}

	fit := &histogramFit{
		edges: append([]float64(nil), edges...),
		f:     make([]float64, nbins),
		col:   make([]int, nbins),
	}
	terms := make([]float64, 0, len(p.logw))
	for i, idx := range members {
		if len(idx) == 0 {
			fit.f[i] = math.Inf(1)
			continue
		}
		terms = terms[:0]
		for _, n := range idx {
			terms = append(terms, p.logw[n])
		}
		fit.f[i] = -floats.LogSumExp(terms)
	}

	theta, err := p.binCovariance(members, fit)
	if err != nil {
		return err
	}
	fit.theta = theta

	p.reset(KindHistogram, fit)
	p.hist = fit
	p.regen = func(q *PMF) error { return q.GenerateHistogram(edges) }
	return nil
}

// binCovariance augments the MBAR weight matrix with one column per
// occupied bin, each normalized over its members, and returns the
// asymptotic covariance of the augmented set.
func (p *PMF) binCovariance(members [][]int, fit *histogramFit) (*mat.Dense, error) {
	w := p.in.MBAR.Weights()
	n, k := w.Dims()

	occupied := 0
	for i := range members {
		if len(members[i]) == 0 {
			fit.col[i] = -1
			continue
		}
		fit.col[i] = k + occupied
		occupied++
	}

	aug := mat.NewDense(n, k+occupied, nil)
	aug.Slice(0, n, 0, k).(*mat.Dense).Copy(w)
	for i, idx := range members {
		c := fit.col[i]
		if c < 0 {
			continue
		}
		for _, s := range idx {
			aug.Set(s, c, math.Exp(p.logw[s]+fit.f[i]))
		}
	}

	counts := append(p.in.MBAR.Counts(), make([]int, occupied)...)
	return mbar.AsymptoticCovariance(aug, counts)
}

func (h *histogramFit) lowest() int {
	best := -1
	for i, f := range h.f {
		if !math.IsInf(f, 1) && (best < 0 || f < h.f[best]) {
			best = i
		}
	}
	return best
}

func (h *histogramFit) eval(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, xi := range x {
		if b := binOf(h.edges, xi); b >= 0 {
			out[i] = h.f[b]
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

func (h *histogramFit) get(x []float64, ref Reference) (f, df []float64) {
	f = h.eval(x)
	df = make([]float64, len(x))
	lo := h.lowest()
	if ref != ReferenceNone && lo >= 0 {
		floats.AddConst(-h.f[lo], f)
	}
	for i, xi := range x {
		b := binOf(h.edges, xi)
		if b < 0 || h.col[b] < 0 {
			df[i] = math.NaN()
			continue
		}
		if ref != ReferenceNone && lo >= 0 {
			df[i] = mbar.DifferenceError(h.theta, h.col[b], h.col[lo])
		} else {
			df[i] = math.Sqrt(math.Max(h.theta.At(h.col[b], h.col[b]), 0))
		}
	}
	return f, df
}

// Bins returns the bin free energies (unshifted) and edges.
func (p *PMF) Bins() (edges, f []float64, err error) {
	if p.hist == nil {
		return nil, nil, ErrNotGenerated
	}
	return append([]float64(nil), p.hist.edges...), append([]float64(nil), p.hist.f...), nil
}
