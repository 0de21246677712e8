package pmf_test

import (
	"context"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/mbarpmf/internal/mbar"
	"github.com/san-kum/mbarpmf/internal/pmf"
)

// torsion is F(x) = 2(1 + cos x) in kT sampled under harmonic umbrellas
// every 30 degrees with kT = 1.
type torsion struct {
	centers []float64
	spring  float64 // per deg^2
}

func newTorsion() torsion {
	t := torsion{spring: 1.0 / 225}
	for c := -165.0; c < 180; c += 30 {
		t.centers = append(t.centers, c)
	}
	return t
}

func landscape(x float64) float64 { return 2 * (1 + math.Cos(x*math.Pi/180)) }

func wrap(x float64) float64 {
	x = math.Mod(x+180, 360)
	if x < 0 {
		x += 360
	}
	return x - 180
}

func minImage(d float64) float64 {
	if math.Abs(d) > 180 {
		return 360 - math.Abs(d)
	}
	return d
}

func (t torsion) bias(k int, x float64) float64 {
	d := minImage(x - t.centers[k])
	return 0.5 * t.spring * d * d
}

// sample draws exactly from exp(-F - bias_k) by rejection from the
// umbrella's Gaussian.
func (t torsion) sample(perState int, seed uint64) (x []float64, states []int) {
	rng := rand.New(rand.NewPCG(seed, 7))
	sigma := 1 / math.Sqrt(t.spring)
	for k, c := range t.centers {
		for n := 0; n < perState; {
			d := sigma * rng.NormFloat64()
			if math.Abs(d) > 180 {
				continue
			}
			xn := wrap(c + d)
			if rng.Float64() < math.Exp(-landscape(xn)) {
				x = append(x, xn)
				states = append(states, k)
				n++
			}
		}
	}
	return x, states
}

func (t torsion) input(x []float64, states []int) (pmf.Input, error) {
	K := len(t.centers)
	nk := make([]int, K)
	for _, s := range states {
		nk[s]++
	}
	u := mat.NewDense(K, len(x), nil)
	for l := 0; l < K; l++ {
		for n, xn := range x {
			u.Set(l, n, t.bias(l, xn))
		}
	}
	m, err := mbar.New(u, nk, mbar.DefaultOptions())
	if err != nil {
		return pmf.Input{}, err
	}
	biases := make([]pmf.Bias, K)
	for k := range biases {
		biases[k] = func(x float64) float64 { return t.bias(k, x) }
	}
	return pmf.Input{
		MBAR:   m,
		X:      x,
		U:      make([]float64, len(x)),
		States: states,
		Biases: biases,
	}, nil
}

// resampler draws with replacement within each umbrella.
func (t torsion) resampler(x []float64, states []int) pmf.Resampler {
	byState := make([][]float64, len(t.centers))
	for n, s := range states {
		byState[s] = append(byState[s], x[n])
	}
	return func(_ context.Context, rng *rand.Rand) (pmf.Input, error) {
		var bx []float64
		var bs []int
		for k, xs := range byState {
			for range xs {
				bx = append(bx, xs[rng.IntN(len(xs))])
				bs = append(bs, k)
			}
		}
		return t.input(bx, bs)
	}
}

func shifted(f func(float64) float64, x []float64) []float64 {
	out := make([]float64, len(x))
	lo := math.Inf(1)
	for i, xi := range x {
		out[i] = f(xi)
		lo = math.Min(lo, out[i])
	}
	for i := range out {
		out[i] -= lo
	}
	return out
}
