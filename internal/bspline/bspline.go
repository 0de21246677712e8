// Package bspline evaluates clamped B-spline bases on an interval.
package bspline

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

var ErrBadBasis = errors.New("bspline: invalid basis")

// Basis is a clamped B-spline basis of n functions of the given degree,
// with equally spaced interior knots on [Min, Max].
type Basis struct {
	Min, Max float64
	Degree   int
	Knots    []float64
	n        int
}

func NewBasis(xmin, xmax float64, n, degree int) (*Basis, error) {
	if degree < 0 {
		return nil, fmt.Errorf("%w: degree %d", ErrBadBasis, degree)
	}
	if n <= degree {
		return nil, fmt.Errorf("%w: %d functions for degree %d", ErrBadBasis, n, degree)
	}
	if !(xmax > xmin) {
		return nil, fmt.Errorf("%w: range [%g, %g]", ErrBadBasis, xmin, xmax)
	}

	inner := n - degree + 1
	knots := make([]float64, 0, n+degree+1)
	for i := 0; i < degree; i++ {
		knots = append(knots, xmin)
	}
	for i := 0; i < inner; i++ {
		knots = append(knots, xmin+(xmax-xmin)*float64(i)/float64(inner-1))
	}
	knots[degree+inner-1] = xmax
	for i := 0; i < degree; i++ {
		knots = append(knots, xmax)
	}
	return &Basis{Min: xmin, Max: xmax, Degree: degree, Knots: knots, n: n}, nil
}

// Len is the number of coefficients.
func (b *Basis) Len() int { return b.n }

func (b *Basis) clamp(x float64) float64 {
	if x < b.Min {
		return b.Min
	}
	if x > b.Max {
		return b.Max
	}
	return x
}

func (b *Basis) span(x float64) int {
	i := sort.Search(len(b.Knots), func(j int) bool { return b.Knots[j] > x }) - 1
	if i < b.Degree {
		i = b.Degree
	}
	if i > b.n-1 {
		i = b.n - 1
	}
	return i
}

// Nonzero returns the index of the first non-vanishing function at x and
// the Degree+1 values starting there. x is clamped into [Min, Max].
func (b *Basis) Nonzero(x float64) (int, []float64) {
	x = b.clamp(x)
	p := b.Degree
	i := b.span(x)
	t := b.Knots

	vals := make([]float64, p+1)
	left := make([]float64, p+1)
	right := make([]float64, p+1)
	vals[0] = 1
	for j := 1; j <= p; j++ {
		left[j] = x - t[i+1-j]
		right[j] = t[i+j] - x
		saved := 0.0
		for r := 0; r < j; r++ {
			tmp := vals[r] / (right[r+1] + left[j-r])
			vals[r] = saved + right[r+1]*tmp
			saved = left[j-r] * tmp
		}
		vals[j] = saved
	}
	return i - p, vals
}

// Eval writes all n basis values at x into out, allocating when out is
// too short.
func (b *Basis) Eval(x float64, out []float64) []float64 {
	if len(out) < b.n {
		out = make([]float64, b.n)
	}
	out = out[:b.n]
	for i := range out {
		out[i] = 0
	}
	first, vals := b.Nonzero(x)
	copy(out[first:], vals)
	return out
}

// Value evaluates sum_i c_i B_i(x).
func (b *Basis) Value(c []float64, x float64) float64 {
	first, vals := b.Nonzero(x)
	s := 0.0
	for j, v := range vals {
		s += c[first+j] * v
	}
	return s
}

// Intervals returns the distinct knot spans [t_i, t_i+1) covering [Min, Max].
func (b *Basis) Intervals() [][2]float64 {
	var out [][2]float64
	for i := b.Degree; i < b.n; i++ {
		if b.Knots[i+1] > b.Knots[i] {
			out = append(out, [2]float64{b.Knots[i], b.Knots[i+1]})
		}
	}
	return out
}

// Design returns the len(x) x n collocation matrix.
func (b *Basis) Design(x []float64) *mat.Dense {
	a := mat.NewDense(len(x), b.n, nil)
	row := make([]float64, b.n)
	for i, xi := range x {
		a.SetRow(i, b.Eval(xi, row))
	}
	return a
}

// FitLeastSquares returns the coefficients minimizing sum (s(x_i) - y_i)^2.
func (b *Basis) FitLeastSquares(x, y []float64) ([]float64, error) {
	if len(x) != len(y) {
		return nil, fmt.Errorf("%w: %d abscissae, %d ordinates", ErrBadBasis, len(x), len(y))
	}
	if len(x) < b.n {
		return nil, fmt.Errorf("%w: %d points cannot determine %d coefficients", ErrBadBasis, len(x), b.n)
	}
	a := b.Design(x)
	var c mat.VecDense
	if err := c.SolveVec(a, mat.NewVecDense(len(y), append([]float64(nil), y...))); err != nil {
		return nil, fmt.Errorf("bspline: least squares: %w", err)
	}
	return mat.Col(nil, 0, &c), nil
}
