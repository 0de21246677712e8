package mbar_test

import (
	"math"
	"math/rand/v2"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/mbarpmf/internal/mbar"
)

// harmonic states u_k(x) = (K_k/2)(x - c_k)^2 have
// f_k - f_0 = 0.5 ln(K_k / K_0).
type harmonic struct {
	centers []float64
	springs []float64
}

func (h harmonic) sample(perState int, seed uint64) (*mat.Dense, []int, []float64) {
	rng := rand.New(rand.NewPCG(seed, 2))
	k := len(h.centers)
	x := make([]float64, 0, k*perState)
	nk := make([]int, k)
	for i := range h.centers {
		sigma := 1 / math.Sqrt(h.springs[i])
		for n := 0; n < perState; n++ {
			x = append(x, h.centers[i]+sigma*rng.NormFloat64())
		}
		nk[i] = perState
	}
	return h.energies(x), nk, x
}

func (h harmonic) energies(x []float64) *mat.Dense {
	u := mat.NewDense(len(h.centers), len(x), nil)
	for l := range h.centers {
		for n, xn := range x {
			d := xn - h.centers[l]
			u.Set(l, n, 0.5*h.springs[l]*d*d)
		}
	}
	return u
}

func (h harmonic) exact() []float64 {
	f := make([]float64, len(h.springs))
	for i, k := range h.springs {
		f[i] = 0.5 * math.Log(k/h.springs[0])
	}
	return f
}

var _ = Describe("MBAR", func() {
	h := harmonic{
		centers: []float64{0, 0.5, 1.0, 1.5},
		springs: []float64{1, 2, 4, 8},
	}

	Describe("solving free energies", func() {
		var (
			m   *mbar.MBAR
			u   *mat.Dense
			err error
		)

		BeforeEach(func() {
			var nk []int
			u, nk, _ = h.sample(3000, 11)
			m, err = mbar.New(u, nk, mbar.DefaultOptions())
		})

		It("converges", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(m.NumStates()).To(Equal(4))
			Expect(m.NumSamples()).To(Equal(12000))
		})

		It("pins the first state to zero", func() {
			Expect(m.FreeEnergies()[0]).To(Equal(0.0))
		})

		It("recovers the analytic free energies", func() {
			f := m.FreeEnergies()
			for i, want := range h.exact() {
				Expect(f[i]).To(BeNumerically("~", want, 0.05))
			}
		})

		It("normalizes every weight column", func() {
			w := m.Weights()
			_, k := w.Dims()
			for i := 0; i < k; i++ {
				Expect(floats.Sum(mat.Col(nil, i, w))).To(BeNumerically("~", 1.0, 1e-6))
			}
		})

		It("reports positive, antisymmetric differences", func() {
			df, ddf, err := m.Differences()
			Expect(err).NotTo(HaveOccurred())
			Expect(df[0][3]).To(BeNumerically("~", -df[3][0], 1e-12))
			Expect(ddf[0][0]).To(BeNumerically("~", 0, 1e-6))
			Expect(ddf[0][3]).To(BeNumerically(">", 0))
			Expect(ddf[0][3]).To(BeNumerically("~", ddf[3][0], 1e-9))
			Expect(ddf[0][3]).To(BeNumerically("<", 0.1))
		})

		It("reweights to a sampled state consistently", func() {
			logw, f, err := m.LogWeights(mat.Row(nil, 2, u))
			Expect(err).NotTo(HaveOccurred())
			Expect(f).To(BeNumerically("~", m.FreeEnergies()[2], 1e-6))
			Expect(floats.LogSumExp(logw)).To(BeNumerically("~", 0, 1e-9))
		})

		It("rejects target energies of the wrong length", func() {
			_, _, err := m.LogWeights([]float64{1, 2})
			Expect(err).To(MatchError(mbar.ErrShape))
		})
	})

	DescribeTable("optimizers agree",
		func(method string) {
			u, nk, _ := h.sample(1500, 5)
			ref, err := mbar.New(u, nk, mbar.DefaultOptions())
			Expect(err).NotTo(HaveOccurred())

			opts := mbar.DefaultOptions()
			opts.Method = method
			opts.WarmStart = 0
			m, err := mbar.New(u, nk, opts)
			Expect(err).NotTo(HaveOccurred())
			for i, f := range m.FreeEnergies() {
				Expect(f).To(BeNumerically("~", ref.FreeEnergies()[i], 1e-4))
			}
		},
		Entry("newton", "newton"),
		Entry("bfgs", "bfgs"),
		Entry("lbfgs", "lbfgs"),
	)

	It("estimates an unsampled state", func() {
		u, nk, x := h.sample(2000, 3)
		k, n := u.Dims()
		grown := mat.NewDense(k+1, n, nil)
		grown.Slice(0, k, 0, n).(*mat.Dense).Copy(u)
		for j, xn := range x {
			d := xn - 0.75
			grown.Set(k, j, 0.5*3*d*d)
		}
		m, err := mbar.New(grown, append(nk, 0), mbar.DefaultOptions())
		Expect(err).NotTo(HaveOccurred())
		Expect(m.FreeEnergies()[k]).To(BeNumerically("~", 0.5*math.Log(3), 0.05))
	})

	Describe("input validation", func() {
		It("rejects mismatched counts", func() {
			u := mat.NewDense(2, 3, nil)
			_, err := mbar.New(u, []int{1, 1}, mbar.DefaultOptions())
			Expect(err).To(MatchError(mbar.ErrShape))
		})

		It("rejects an empty sample set", func() {
			u := mat.NewDense(2, 1, nil)
			_, err := mbar.New(u, []int{0, 0}, mbar.DefaultOptions())
			Expect(err).To(MatchError(mbar.ErrNoSamples))
		})

		It("rejects unknown optimizers", func() {
			u, nk, _ := h.sample(10, 1)
			opts := mbar.DefaultOptions()
			opts.Method = "simplex"
			_, err := mbar.New(u, nk, opts)
			Expect(err).To(MatchError(mbar.ErrUnknownMethod))
		})
	})

	It("computes a symmetric covariance", func() {
		u, nk, _ := h.sample(1000, 9)
		m, err := mbar.New(u, nk, mbar.DefaultOptions())
		Expect(err).NotTo(HaveOccurred())
		theta, err := m.Covariance()
		Expect(err).NotTo(HaveOccurred())
		r, c := theta.Dims()
		Expect(r).To(Equal(4))
		Expect(c).To(Equal(4))
		Expect(theta.At(1, 2)).To(BeNumerically("~", theta.At(2, 1), 1e-9))
		Expect(mbar.DifferenceError(theta, 1, 1)).To(BeNumerically("~", 0, 1e-6))
	})
})
