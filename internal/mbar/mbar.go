package mbar

import (
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

type Options struct {
	// Method is one of "newton", "bfgs", "lbfgs" or "cg".
	Method        string
	Tolerance     float64
	WarmStart     int
	MaxIterations int
	// Initial, when it has one entry per state, seeds f_k.
	Initial []float64
	Logger  *slog.Logger
}

func DefaultOptions() Options {
	return Options{
		Method:        "newton",
		Tolerance:     1e-9,
		WarmStart:     20,
		MaxIterations: 500,
	}
}

type MBAR struct {
	u        *mat.Dense // K x N
	nk       []int
	logN     []float64
	total    int
	f        []float64
	logDenom []float64
	sampled  []int
	free     []int
	iters    int
	log      *slog.Logger

	// evaluation cache keyed on the free variables
	lastX []float64
	w     *mat.Dense // N x len(free)
	obj   float64
}

// New solves for the free energies of the K states in u (K x N).
func New(u *mat.Dense, nk []int, opts Options) (*MBAR, error) {
	k, n := u.Dims()
	if k != len(nk) {
		return nil, fmt.Errorf("%w: %d states in u, %d counts", ErrShape, k, len(nk))
	}
	total := 0
	for _, c := range nk {
		if c < 0 {
			return nil, fmt.Errorf("%w: negative sample count %d", ErrShape, c)
		}
		total += c
	}
	if total == 0 {
		return nil, ErrNoSamples
	}
	if total != n {
		return nil, fmt.Errorf("%w: %d samples in u, counts sum to %d", ErrShape, n, total)
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	m := &MBAR{
		u:        u,
		nk:       append([]int(nil), nk...),
		logN:     make([]float64, k),
		total:    total,
		f:        make([]float64, k),
		logDenom: make([]float64, n),
		log:      log,
	}
	for i, c := range nk {
		if c > 0 {
			m.logN[i] = math.Log(float64(c))
			m.sampled = append(m.sampled, i)
		} else {
			m.logN[i] = math.Inf(-1)
		}
	}
	m.free = m.sampled[1:]
	if len(opts.Initial) == k {
		copy(m.f, opts.Initial)
		floats.AddConst(-m.f[m.sampled[0]], m.f)
	}

	m.denominators(m.f, m.logDenom)
	for i := 0; i < opts.WarmStart; i++ {
		m.selfConsistentUpdate()
	}
	if err := m.minimize(opts); err != nil {
		return nil, err
	}
	m.finish()
	return m, nil
}

// denominators stores log sum_k N_k exp(f_k - u_kn) for every n.
func (m *MBAR) denominators(f, out []float64) {
	terms := make([]float64, len(m.sampled))
	for n := range out {
		for i, k := range m.sampled {
			terms[i] = m.logN[k] + f[k] - m.u.At(k, n)
		}
		out[n] = floats.LogSumExp(terms)
	}
}

// stateFreeEnergy evaluates f_k = -ln sum_n exp(-u_kn - logDenom_n).
func (m *MBAR) stateFreeEnergy(k int) float64 {
	terms := make([]float64, len(m.logDenom))
	for n := range terms {
		terms[n] = -m.u.At(k, n) - m.logDenom[n]
	}
	return -floats.LogSumExp(terms)
}

func (m *MBAR) selfConsistentUpdate() {
	next := make([]float64, len(m.f))
	for _, k := range m.sampled {
		next[k] = m.stateFreeEnergy(k)
	}
	ref := next[m.sampled[0]]
	for _, k := range m.sampled {
		m.f[k] = next[k] - ref
	}
	m.denominators(m.f, m.logDenom)
}

func (m *MBAR) expand(x []float64) []float64 {
	f := make([]float64, len(m.f))
	for i, k := range m.free {
		f[k] = x[i]
	}
	return f
}

// eval fills the cache for x. The objective is divided by N so the
// gradient tolerance does not depend on the amount of data.
func (m *MBAR) eval(x []float64) {
	if m.lastX != nil && floats.Equal(m.lastX, x) {
		return
	}
	f := m.expand(x)
	logDenom := make([]float64, len(m.logDenom))
	m.denominators(f, logDenom)

	obj := floats.Sum(logDenom)
	for _, k := range m.sampled {
		obj -= float64(m.nk[k]) * f[k]
	}
	m.obj = obj / float64(m.total)

	if m.w == nil {
		m.w = mat.NewDense(len(logDenom), max(len(m.free), 1), nil)
	}
	for n, ld := range logDenom {
		for i, k := range m.free {
			m.w.Set(n, i, math.Exp(f[k]-m.u.At(k, n)-ld))
		}
	}
	m.lastX = append(m.lastX[:0], x...)
}

func (m *MBAR) objective(x []float64) float64 {
	m.eval(x)
	return m.obj
}

func (m *MBAR) gradient(grad, x []float64) {
	m.eval(x)
	inv := 1.0 / float64(m.total)
	for i, k := range m.free {
		nk := float64(m.nk[k])
		s := 0.0
		for n := 0; n < len(m.logDenom); n++ {
			s += m.w.At(n, i)
		}
		grad[i] = (nk*s - nk) * inv
	}
}

func (m *MBAR) hessian(hess *mat.SymDense, x []float64) {
	m.eval(x)
	inv := 1.0 / float64(m.total)
	nfree := len(m.free)
	cols := make([][]float64, nfree)
	for i := range cols {
		cols[i] = mat.Col(nil, i, m.w)
	}
	for i := 0; i < nfree; i++ {
		ni := float64(m.nk[m.free[i]])
		for j := i; j < nfree; j++ {
			nj := float64(m.nk[m.free[j]])
			h := -ni * nj * floats.Dot(cols[i], cols[j])
			if i == j {
				h += ni * floats.Sum(cols[i])
			}
			hess.SetSym(i, j, h*inv)
		}
	}
}

func methodFor(name string) (optimize.Method, error) {
	switch name {
	case "", "newton":
		return &optimize.Newton{}, nil
	case "bfgs":
		return &optimize.BFGS{}, nil
	case "lbfgs":
		return &optimize.LBFGS{}, nil
	case "cg":
		return &optimize.CG{}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, name)
}

func (m *MBAR) minimize(opts Options) error {
	method, err := methodFor(opts.Method)
	if err != nil {
		return err
	}
	if len(m.free) == 0 {
		return nil
	}

	x0 := make([]float64, len(m.free))
	for i, k := range m.free {
		x0[i] = m.f[k]
	}

	problem := optimize.Problem{
		Func: m.objective,
		Grad: m.gradient,
		Hess: m.hessian,
	}
	tol := opts.Tolerance
	if tol <= 0 {
		tol = DefaultOptions().Tolerance
	}
	settings := &optimize.Settings{
		GradientThreshold: tol,
		MajorIterations:   opts.MaxIterations,
	}

	res, err := optimize.Minimize(problem, x0, settings, method)
	if res == nil {
		return fmt.Errorf("%w: %v", ErrNotConverged, err)
	}

	grad := make([]float64, len(res.X))
	m.gradient(grad, res.X)
	gnorm := floats.Norm(grad, math.Inf(1))
	if gnorm > math.Sqrt(tol) {
		return fmt.Errorf("%w: status %v, |grad| = %.3g: %v", ErrNotConverged, res.Status, gnorm, err)
	}
	if err != nil {
		m.log.Debug("optimizer stopped early within tolerance",
			slog.String("status", res.Status.String()),
			slog.Float64("grad", gnorm),
			slog.String("error", err.Error()))
	}

	m.iters = res.Stats.MajorIterations
	for i, k := range m.free {
		m.f[k] = res.X[i]
	}
	m.log.Info("mbar converged",
		slog.String("method", opts.Method),
		slog.Int("iterations", m.iters),
		slog.Float64("grad", gnorm))
	return nil
}

// finish recomputes the denominators at the solution, fills in unsampled
// states and moves the reference to state 0.
func (m *MBAR) finish() {
	m.denominators(m.f, m.logDenom)
	for k, c := range m.nk {
		if c == 0 {
			m.f[k] = m.stateFreeEnergy(k)
		}
	}
	shift := m.f[0]
	floats.AddConst(-shift, m.f)
	floats.AddConst(-shift, m.logDenom)
	m.lastX, m.w = nil, nil
}

func (m *MBAR) NumStates() int  { return len(m.nk) }
func (m *MBAR) NumSamples() int { return m.total }
func (m *MBAR) Iterations() int { return m.iters }

func (m *MBAR) Counts() []int {
	return append([]int(nil), m.nk...)
}

// FreeEnergies returns f_k with f_0 = 0.
func (m *MBAR) FreeEnergies() []float64 {
	return append([]float64(nil), m.f...)
}

func (m *MBAR) LogDenominators() []float64 {
	return append([]float64(nil), m.logDenom...)
}

// LogWeights reweights the pooled samples to a target state with reduced
// potential un. It returns normalized log weights and the target's free
// energy relative to state 0.
func (m *MBAR) LogWeights(un []float64) ([]float64, float64, error) {
	if len(un) != m.total {
		return nil, 0, fmt.Errorf("%w: %d target energies for %d samples", ErrShape, len(un), m.total)
	}
	logw := make([]float64, len(un))
	for n := range un {
		logw[n] = -un[n] - m.logDenom[n]
	}
	f := -floats.LogSumExp(logw)
	floats.AddConst(f, logw)
	return logw, f, nil
}

// Weights returns the N x K matrix W_nk = exp(f_k - u_kn) / sum_j N_j exp(f_j - u_jn).
// Every column sums to one at convergence.
func (m *MBAR) Weights() *mat.Dense {
	k, n := m.u.Dims()
	w := mat.NewDense(n, k, nil)
	for j := 0; j < n; j++ {
		for i := 0; i < k; i++ {
			w.Set(j, i, math.Exp(m.f[i]-m.u.At(i, j)-m.logDenom[j]))
		}
	}
	return w
}

// Covariance is the asymptotic covariance of the f_k.
func (m *MBAR) Covariance() (*mat.Dense, error) {
	return AsymptoticCovariance(m.Weights(), m.nk)
}

// Differences returns df[i][j] = f_j - f_i and its standard error.
func (m *MBAR) Differences() (df, ddf [][]float64, err error) {
	theta, err := m.Covariance()
	if err != nil {
		return nil, nil, err
	}
	k := len(m.f)
	df = make([][]float64, k)
	ddf = make([][]float64, k)
	for i := 0; i < k; i++ {
		df[i] = make([]float64, k)
		ddf[i] = make([]float64, k)
		for j := 0; j < k; j++ {
			df[i][j] = m.f[j] - m.f[i]
			ddf[i][j] = DifferenceError(theta, i, j)
		}
	}
	return df, ddf, nil
}
