package bspline

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/floats"
)

func TestNewBasisKnots(t *testing.T) {
	b, err := NewBasis(-180, 180, 20, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(b.Knots) != 24 {
		t.Fatalf("expected 24 knots, got %d", len(b.Knots))
	}
	for i := 0; i < 4; i++ {
		if b.Knots[i] != -180 || b.Knots[len(b.Knots)-1-i] != 180 {
			t.Errorf("knot vector not clamped: %v", b.Knots)
		}
	}
	if got := len(b.Intervals()); got != 17 {
		t.Errorf("expected 17 knot spans, got %d", got)
	}
}

func TestNewBasisErrors(t *testing.T) {
	tests := []struct {
		name      string
		min, max  float64
		n, degree int
	}{
		{"too few functions", 0, 1, 3, 3},
		{"empty range", 1, 1, 5, 3},
		{"negative degree", 0, 1, 5, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewBasis(tt.min, tt.max, tt.n, tt.degree); !errors.Is(err, ErrBadBasis) {
				t.Errorf("expected ErrBadBasis, got %v", err)
			}
		})
	}
}

func TestPartitionOfUnity(t *testing.T) {
	for _, degree := range []int{1, 2, 3, 5} {
		b, err := NewBasis(-1, 2, 9, degree)
		if err != nil {
			t.Fatal(err)
		}
		for _, x := range []float64{-1, -0.7, 0, 0.333, 1.5, 2} {
			vals := b.Eval(x, nil)
			if s := floats.Sum(vals); math.Abs(s-1) > 1e-12 {
				t.Errorf("degree %d: sum of basis at %g = %g", degree, x, s)
			}
			for _, v := range vals {
				if v < -1e-15 {
					t.Errorf("degree %d: negative basis value %g at %g", degree, v, x)
				}
			}
		}
	}
}

func TestEndpointInterpolation(t *testing.T) {
	b, _ := NewBasis(0, 10, 7, 3)
	c := []float64{3, 1, 4, 1, 5, 9, 2}
	if got := b.Value(c, 0); math.Abs(got-3) > 1e-12 {
		t.Errorf("clamped spline should start at c0, got %g", got)
	}
	if got := b.Value(c, 10); math.Abs(got-2) > 1e-12 {
		t.Errorf("clamped spline should end at c_last, got %g", got)
	}
	if got := b.Value(c, 12); math.Abs(got-2) > 1e-12 {
		t.Errorf("values beyond the range are clamped, got %g", got)
	}
}

func TestFitLeastSquaresReproducesCubic(t *testing.T) {
	b, _ := NewBasis(-2, 2, 8, 3)
	x := make([]float64, 50)
	y := make([]float64, 50)
	for i := range x {
		x[i] = -2 + 4*float64(i)/49
		y[i] = x[i]*x[i]*x[i] - 2*x[i] + 1
	}
	c, err := b.FitLeastSquares(x, y)
	if err != nil {
		t.Fatal(err)
	}
	for _, xi := range []float64{-1.9, -0.3, 0.8, 1.7} {
		want := xi*xi*xi - 2*xi + 1
		if got := b.Value(c, xi); math.Abs(got-want) > 1e-9 {
			t.Errorf("s(%g) = %g, want %g", xi, got, want)
		}
	}
}

func TestFitLeastSquaresErrors(t *testing.T) {
	b, _ := NewBasis(0, 1, 6, 3)
	if _, err := b.FitLeastSquares([]float64{0, 1}, []float64{0}); !errors.Is(err, ErrBadBasis) {
		t.Errorf("expected ErrBadBasis for length mismatch, got %v", err)
	}
	if _, err := b.FitLeastSquares([]float64{0, 1}, []float64{0, 1}); !errors.Is(err, ErrBadBasis) {
		t.Errorf("expected ErrBadBasis for too few points, got %v", err)
	}
}
