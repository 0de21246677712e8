package pmf

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/san-kum/mbarpmf/internal/mbar"
)

// Bias is a reduced restraint potential.
type Bias func(x float64) float64

// Input is shared read-only by every estimator built from it.
type Input struct {
	MBAR   *mbar.MBAR
	X      []float64 // pooled coordinates
	U      []float64 // unbiased reduced energies
	States []int     // sampled state of every coordinate
	Biases []Bias    // one per state
}

func (in Input) validate() error {
	if in.MBAR == nil {
		return fmt.Errorf("%w: no mbar solution", ErrInput)
	}
	n := in.MBAR.NumSamples()
	if len(in.X) != n || len(in.U) != n || len(in.States) != n {
		return fmt.Errorf("%w: %d samples in mbar, x=%d u=%d states=%d",
			ErrInput, n, len(in.X), len(in.U), len(in.States))
	}
	if len(in.Biases) != in.MBAR.NumStates() {
		return fmt.Errorf("%w: %d biases for %d states", ErrInput, len(in.Biases), in.MBAR.NumStates())
	}
	return nil
}

type Kind int

const (
	KindNone Kind = iota
	KindHistogram
	KindKDE
	KindSpline
)

func (k Kind) String() string {
	switch k {
	case KindHistogram:
		return "histogram"
	case KindKDE:
		return "kde"
	case KindSpline:
		return "spline"
	}
	return "none"
}

type Reference int

const (
	// ReferenceLowest shifts values so the lowest point is zero and reports
	// uncertainties relative to it.
	ReferenceLowest Reference = iota
	// ReferenceNone leaves free energies relative to the pooled ensemble.
	ReferenceNone
	// ReferenceZero shifts every sampled curve so its own minimum is zero.
	// Get treats it like ReferenceLowest.
	ReferenceZero
)

// Result holds f(x) and its uncertainty. DF is nil when the estimator has
// no uncertainty estimate.
type Result struct {
	X  []float64
	F  []float64
	DF []float64
}

// estimate is the curve of one generated PMF.
type estimate interface {
	eval(x []float64) []float64
}

type PMF struct {
	in   Input
	logw []float64
	f    float64 // target free energy relative to state 0

	kind   Kind
	est    estimate
	hist   *histogramFit
	spline *splineFit
	regen  func(*PMF) error

	boot []estimate
	mc   *MCData
}

// New reweights the pooled samples to the unbiased target state.
func New(in Input) (*PMF, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	logw, f, err := in.MBAR.LogWeights(in.U)
	if err != nil {
		return nil, err
	}
	return &PMF{in: in, logw: logw, f: f}, nil
}

// reset discards every previous estimate before a new one is installed.
func (p *PMF) reset(kind Kind, est estimate) {
	p.kind, p.est = kind, est
	p.hist, p.spline, p.mc, p.boot = nil, nil, nil, nil
}

func (p *PMF) Kind() Kind { return p.kind }

// TargetFreeEnergy is the free energy of the unbiased state relative to state 0.
func (p *PMF) TargetFreeEnergy() float64 { return p.f }

// Weights returns the normalized reweighting factors of each sample.
func (p *PMF) Weights() []float64 {
	w := make([]float64, len(p.logw))
	for i, lw := range p.logw {
		w[i] = math.Exp(lw)
	}
	return w
}

// EffectiveSamples is Kish's effective sample size of the weights.
func (p *PMF) EffectiveSamples() float64 {
	w := p.Weights()
	return 1 / floats.Dot(w, w)
}

// Get evaluates the estimate at x.
func (p *PMF) Get(x []float64, ref Reference) (*Result, error) {
	if p.est == nil {
		return nil, ErrNotGenerated
	}
	res := &Result{X: append([]float64(nil), x...)}

	if p.kind == KindHistogram {
		res.F, res.DF = p.hist.get(x, ref)
	} else {
		res.F = p.est.eval(x)
		if ref != ReferenceNone {
			shiftToLowest(res.F)
		}
	}
	if len(p.boot) > 0 {
		res.DF = p.bootstrapErrors(x, ref)
	}
	return res, nil
}

func (p *PMF) bootstrapErrors(x []float64, ref Reference) []float64 {
	curves := make([][]float64, len(p.boot))
	for b, est := range p.boot {
		curves[b] = est.eval(x)
		if ref != ReferenceNone {
			shiftToLowest(curves[b])
		}
	}
	df := make([]float64, len(x))
	col := make([]float64, 0, len(curves))
	for i := range x {
		col = col[:0]
		for _, c := range curves {
			if !math.IsInf(c[i], 0) && !math.IsNaN(c[i]) {
				col = append(col, c[i])
			}
		}
		if len(col) < 2 {
			df[i] = math.NaN()
			continue
		}
		df[i] = stat.StdDev(col, nil)
	}
	return df
}

// shiftToLowest subtracts the smallest finite value.
func shiftToLowest(f []float64) {
	lo := math.Inf(1)
	for _, v := range f {
		if !math.IsNaN(v) && v < lo {
			lo = v
		}
	}
	if math.IsInf(lo, 0) {
		return
	}
	floats.AddConst(-lo, f)
}
