package pmf

import (
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate/quad"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/san-kum/mbarpmf/internal/bspline"
)

// SplineWeights selects how the samples enter the spline objective.
type SplineWeights string

const (
	// KLDivergence fits the unbiased density to the MBAR-reweighted samples.
	KLDivergence SplineWeights = "kldivergence"
	// SumKLDivergence sums one divergence per state, each against that
	// state's MBAR weights and biased by its restraint.
	SumKLDivergence SplineWeights = "sumkldivergence"
	// WeightedSum sums the biased divergences of the raw samples of each
	// state, weighted by the fraction of samples in that state.
	WeightedSum SplineWeights = "weightedsum"
	// SimpleSum is WeightedSum with every state weighted equally.
	SimpleSum SplineWeights = "simplesum"
)

const defaultQuadPoints = 12

type SplineParams struct {
	Weights SplineWeights
	Knots   int // number of coefficients
	Degree  int
	Min     float64
	Max     float64

	// XInit and YInit seed the coefficients with a least-squares fit.
	// Coefficients start at zero when XInit is empty.
	XInit []float64
	YInit []float64

	Optimizer     string
	Tolerance     float64
	MaxIterations int
	// QuadPoints is the number of Gauss-Legendre nodes per knot span.
	QuadPoints int
	Logger     *slog.Logger
}

type splineFit struct {
	params SplineParams
	basis  *bspline.Basis
	obj    *splineObjective
	c      []float64
	nll    float64
	iters  int
}

func (s *splineFit) eval(x []float64) []float64 {
	return evalCoefficients(s.basis, s.c, x)
}

func evalCoefficients(b *bspline.Basis, c, x []float64) []float64 {
	out := make([]float64, len(x))
	for i, xi := range x {
		out[i] = b.Value(c, xi)
	}
	return out
}

// component is one -sum_n a_n ln p(x_n) term of the objective, where
// p = exp(-f-b)/Z and the a_n sum to one.
type component struct {
	lambda   float64
	count    float64   // samples represented, for the log likelihood
	sample   []float64 // sum_n a_n B_i(x_n)
	biasMean float64   // sum_n a_n b(x_n)
	logq     []float64 // ln w_q - b(x_q) at the quadrature nodes
}

type splineObjective struct {
	basis *bspline.Basis
	nodes []float64
	bq    *mat.Dense // nodes x coefficients
	comps []component
	c0    float64

	fq, pq []float64
}

func newSplineObjective(p *PMF, b *bspline.Basis, weights SplineWeights, npts int) (*splineObjective, error) {
	if npts <= 0 {
		npts = defaultQuadPoints
	}
	var nodes, qw []float64
	xs := make([]float64, npts)
	ws := make([]float64, npts)
	for _, iv := range b.Intervals() {
		quad.Legendre{}.FixedLocations(xs, ws, iv[0], iv[1])
		nodes = append(nodes, xs...)
		qw = append(qw, ws...)
	}

	o := &splineObjective{
		basis: b,
		nodes: nodes,
		bq:    b.Design(nodes),
		fq:    make([]float64, len(nodes)),
		pq:    make([]float64, len(nodes)),
	}

	logq := func(bias Bias) []float64 {
		out := make([]float64, len(nodes))
		for q, x := range nodes {
			out[q] = math.Log(qw[q])
			if bias != nil {
				out[q] -= bias(x)
			}
		}
		return out
	}

	in := p.in
	n := len(in.X)
	nk := in.MBAR.Counts()

	switch weights {
	case KLDivergence:
		a := p.Weights()
		o.comps = append(o.comps, o.component(in.X, a, nil, 1, float64(n), logq(nil)))

	case SumKLDivergence:
		w := in.MBAR.Weights()
		for k, bias := range in.Biases {
			a := mat.Col(nil, k, w)
			o.comps = append(o.comps, o.component(in.X, a, bias, 1, float64(nk[k]), logq(bias)))
		}

	case WeightedSum, SimpleSum:
		for k, bias := range in.Biases {
			if nk[k] == 0 {
				continue
			}
			a := make([]float64, n)
			for i, s := range in.States {
				if s == k {
					a[i] = 1 / float64(nk[k])
				}
			}
			lambda := 1.0
			if weights == WeightedSum {
				lambda = float64(nk[k]) / float64(n)
			}
			o.comps = append(o.comps, o.component(in.X, a, bias, lambda, float64(nk[k]), logq(bias)))
		}

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, weights)
	}
	return o, nil
}

func (o *splineObjective) component(x, a []float64, bias Bias, lambda, count float64, logq []float64) component {
	c := component{
		lambda: lambda,
		count:  count,
		sample: make([]float64, o.basis.Len()),
		logq:   logq,
	}
	for i, xi := range x {
		if a[i] == 0 {
			continue
		}
		first, vals := o.basis.Nonzero(xi)
		for j, v := range vals {
			c.sample[first+j] += a[i] * v
		}
		if bias != nil {
			c.biasMean += a[i] * bias(xi)
		}
	}
	return c
}

// full expands the free coefficients with the fixed c_0.
func (o *splineObjective) full(x []float64) []float64 {
	c := make([]float64, len(x)+1)
	c[0] = o.c0
	copy(c[1:], x)
	return c
}

// logZ returns ln of the normalization of component k and leaves the
// normalized node probabilities in o.pq.
func (o *splineObjective) logZ(k int) float64 {
	lq := o.comps[k].logq
	for q := range o.fq {
		o.pq[q] = lq[q] - o.fq[q]
	}
	lz := floats.LogSumExp(o.pq)
	for q := range o.pq {
		o.pq[q] = math.Exp(o.pq[q] - lz)
	}
	return lz
}

func (o *splineObjective) nodeValues(c []float64) {
	mat.NewVecDense(len(o.fq), o.fq).MulVec(o.bq, mat.NewVecDense(len(c), c))
}

// terms returns the per-component mean negative log likelihoods at c.
func (o *splineObjective) terms(c []float64) []float64 {
	o.nodeValues(c)
	out := make([]float64, len(o.comps))
	for k, comp := range o.comps {
		out[k] = floats.Dot(comp.sample, c) + comp.biasMean + o.logZ(k)
	}
	return out
}

func (o *splineObjective) value(c []float64) float64 {
	v := 0.0
	for k, t := range o.terms(c) {
		v += o.comps[k].lambda * t
	}
	return v
}

// negLogLikelihood is sum_k count_k * term_k.
func (o *splineObjective) negLogLikelihood(c []float64) float64 {
	v := 0.0
	for k, t := range o.terms(c) {
		v += o.comps[k].count * t
	}
	return v
}

func (o *splineObjective) Func(x []float64) float64 {
	return o.value(o.full(x))
}

func (o *splineObjective) Grad(grad, x []float64) {
	c := o.full(x)
	o.nodeValues(c)
	for i := range grad {
		grad[i] = 0
	}
	nq, nc := o.bq.Dims()
	for k, comp := range o.comps {
		o.logZ(k)
		for i := 1; i < nc; i++ {
			e := 0.0
			for q := 0; q < nq; q++ {
				e += o.pq[q] * o.bq.At(q, i)
			}
			grad[i-1] += comp.lambda * (comp.sample[i] - e)
		}
	}
}

func (o *splineObjective) Hess(hess *mat.SymDense, x []float64) {
	c := o.full(x)
	o.nodeValues(c)
	nq, nc := o.bq.Dims()
	m := nc - 1
	h := make([]float64, m*m)
	e := make([]float64, nc)
	for k, comp := range o.comps {
		o.logZ(k)
		for i := 1; i < nc; i++ {
			e[i] = 0
			for q := 0; q < nq; q++ {
				e[i] += o.pq[q] * o.bq.At(q, i)
			}
		}
		for q := 0; q < nq; q++ {
			row := o.bq.RawRowView(q)
			if o.pq[q] == 0 {
				continue
			}
			for i := 1; i < nc; i++ {
				if row[i] == 0 {
					continue
				}
				for j := i; j < nc; j++ {
					h[(i-1)*m+j-1] += comp.lambda * o.pq[q] * row[i] * row[j]
				}
			}
		}
		for i := 1; i < nc; i++ {
			for j := i; j < nc; j++ {
				h[(i-1)*m+j-1] -= comp.lambda * e[i] * e[j]
			}
		}
	}
	for i := 0; i < m; i++ {
		for j := i; j < m; j++ {
			hess.SetSym(i, j, h[i*m+j])
		}
	}
}

func optimizerFor(name string) (optimize.Method, error) {
	switch name {
	case "", "newton":
		return &optimize.Newton{}, nil
	case "bfgs":
		return &optimize.BFGS{}, nil
	case "lbfgs":
		return &optimize.LBFGS{}, nil
	case "cg":
		return &optimize.CG{}, nil
	case "nelder-mead":
		return &optimize.NelderMead{}, nil
	}
	return nil, fmt.Errorf("%w: optimizer %q", ErrUnknownMethod, name)
}

// initialCoefficients fits the seed curve, replacing non-finite values by
// the largest finite one.
func initialCoefficients(b *bspline.Basis, xinit, yinit []float64) ([]float64, error) {
	if len(xinit) == 0 {
		return make([]float64, b.Len()), nil
	}
	if len(yinit) != len(xinit) {
		return nil, fmt.Errorf("%w: %d xinit for %d yinit", ErrInput, len(xinit), len(yinit))
	}
	y := append([]float64(nil), yinit...)
	hi := math.Inf(-1)
	for _, v := range y {
		if !math.IsInf(v, 0) && !math.IsNaN(v) && v > hi {
			hi = v
		}
	}
	if math.IsInf(hi, -1) {
		return make([]float64, b.Len()), nil
	}
	for i, v := range y {
		if math.IsInf(v, 0) || math.IsNaN(v) {
			y[i] = hi
		}
	}
	return b.FitLeastSquares(xinit, y)
}

// GenerateSpline fits f(x) as a B-spline by minimizing the objective
// selected by params.Weights. The first coefficient is held at its
// initial value since the objective does not depend on a constant shift.
func (p *PMF) GenerateSpline(params SplineParams) error {
	if params.Knots < 2 {
		return fmt.Errorf("%w: need at least 2 spline coefficients, got %d", ErrBadRange, params.Knots)
	}
	basis, err := bspline.NewBasis(params.Min, params.Max, params.Knots, params.Degree)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadRange, err)
	}
	method, err := optimizerFor(params.Optimizer)
	if err != nil {
		return err
	}
	obj, err := newSplineObjective(p, basis, params.Weights, params.QuadPoints)
	if err != nil {
		return err
	}
	c, err := initialCoefficients(basis, params.XInit, params.YInit)
	if err != nil {
		return err
	}
	obj.c0 = c[0]

	log := params.Logger
	if log == nil {
		log = slog.Default()
	}
	tol := params.Tolerance
	if tol <= 0 {
		tol = 1e-8
	}

	problem := optimize.Problem{Func: obj.Func, Grad: obj.Grad}
	if _, ok := method.(*optimize.Newton); ok {
		problem.Hess = obj.Hess
	}
	settings := &optimize.Settings{
		GradientThreshold: tol,
		MajorIterations:   params.MaxIterations,
	}
	res, err := optimize.Minimize(problem, c[1:], settings, method)
	if res == nil {
		return fmt.Errorf("pmf: spline minimization: %w", err)
	}
	if err != nil {
		log.Warn("spline optimizer stopped early",
			slog.String("weights", string(params.Weights)),
			slog.String("status", res.Status.String()),
			slog.String("error", err.Error()))
	}

	fit := &splineFit{
		params: params,
		basis:  basis,
		obj:    obj,
		c:      obj.full(res.X),
		iters:  res.Stats.MajorIterations,
	}
	fit.nll = obj.negLogLikelihood(fit.c)
	log.Debug("spline fit",
		slog.String("weights", string(params.Weights)),
		slog.Int("iterations", fit.iters),
		slog.Float64("nll", fit.nll))

	p.reset(KindSpline, fit)
	p.spline = fit
	p.regen = func(q *PMF) error { return q.GenerateSpline(params) }
	return nil
}

// Coefficients returns a copy of the fitted spline coefficients.
func (p *PMF) Coefficients() ([]float64, error) {
	if p.spline == nil {
		return nil, ErrNotSpline
	}
	return append([]float64(nil), p.spline.c...), nil
}

// NegLogLikelihood of the fitted spline.
func (p *PMF) NegLogLikelihood() (float64, error) {
	if p.spline == nil {
		return 0, ErrNotSpline
	}
	return p.spline.nll, nil
}

// InformationCriterion returns "AIC" (2k + 2 NLL) or "BIC"
// (k ln N + 2 NLL) of the spline fit, k being the number of coefficients.
func (p *PMF) InformationCriterion(kind string) (float64, error) {
	if p.spline == nil {
		return 0, ErrNotSpline
	}
	k := float64(len(p.spline.c))
	switch kind {
	case "AIC", "aic":
		return 2*k + 2*p.spline.nll, nil
	case "BIC", "bic":
		return k*math.Log(float64(len(p.in.X))) + 2*p.spline.nll, nil
	}
	return 0, fmt.Errorf("%w: information criterion %q", ErrUnknownMethod, kind)
}
