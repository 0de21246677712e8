package pmf_test

import (
	"context"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/san-kum/mbarpmf/internal/pmf"
)

// maxDeviation compares two curves up to an additive constant.
func maxDeviation(got, want []float64) float64 {
	d := make([]float64, len(got))
	floats.SubTo(d, got, want)
	mean := stat.Mean(d, nil)
	worst := 0.0
	for _, v := range d {
		worst = math.Max(worst, math.Abs(v-mean))
	}
	return worst
}

var _ = Describe("PMF", Ordered, func() {
	var (
		tor    torsion
		x      []float64
		states []int
		in     pmf.Input
		grid   []float64
		truth  []float64
	)

	BeforeAll(func() {
		tor = newTorsion()
		x, states = tor.sample(300, 5)
		var err error
		in, err = tor.input(x, states)
		Expect(err).NotTo(HaveOccurred())
		grid = floats.Span(make([]float64, 35), -170, 170)
		truth = shifted(landscape, grid)
	})

	splineParams := func(w pmf.SplineWeights) pmf.SplineParams {
		return pmf.SplineParams{
			Weights: w,
			Knots:   12,
			Degree:  3,
			Min:     -180,
			Max:     180,
		}
	}

	It("rejects inconsistent input", func() {
		bad := in
		bad.X = bad.X[:10]
		_, err := pmf.New(bad)
		Expect(err).To(MatchError(pmf.ErrInput))

		bad = in
		bad.Biases = bad.Biases[:1]
		_, err = pmf.New(bad)
		Expect(err).To(MatchError(pmf.ErrInput))
	})

	It("needs an estimate before evaluating", func() {
		p, err := pmf.New(in)
		Expect(err).NotTo(HaveOccurred())
		Expect(p.Kind()).To(Equal(pmf.KindNone))
		_, err = p.Get(grid, pmf.ReferenceLowest)
		Expect(err).To(MatchError(pmf.ErrNotGenerated))
	})

	It("normalizes the reweighting factors", func() {
		p, err := pmf.New(in)
		Expect(err).NotTo(HaveOccurred())
		Expect(floats.Sum(p.Weights())).To(BeNumerically("~", 1, 1e-9))
		Expect(p.EffectiveSamples()).To(BeNumerically(">", 100))
		Expect(p.EffectiveSamples()).To(BeNumerically("<=", float64(len(x))+1e-6))
	})

	Describe("histogram", func() {
		var (
			p       *pmf.PMF
			centers []float64
		)

		BeforeAll(func() {
			var err error
			p, err = pmf.New(in)
			Expect(err).NotTo(HaveOccurred())
			edges := floats.Span(make([]float64, 31), -180, 180)
			Expect(p.GenerateHistogram(edges)).To(Succeed())
			for i := 0; i < 30; i++ {
				centers = append(centers, 0.5*(edges[i]+edges[i+1]))
			}
		})

		It("recovers the landscape at bin centres", func() {
			res, err := p.Get(centers, pmf.ReferenceLowest)
			Expect(err).NotTo(HaveOccurred())
			Expect(floats.Min(res.F)).To(BeNumerically("~", 0, 1e-12))
			Expect(maxDeviation(res.F, shifted(landscape, centers))).To(BeNumerically("<", 0.6))
		})

		It("reports uncertainties relative to the lowest bin", func() {
			res, err := p.Get(centers, pmf.ReferenceLowest)
			Expect(err).NotTo(HaveOccurred())
			lo := floats.MinIdx(res.F)
			Expect(res.DF[lo]).To(BeNumerically("~", 0, 1e-6))
			for i, df := range res.DF {
				if i == lo {
					continue
				}
				Expect(df).To(BeNumerically(">", 0))
				Expect(df).To(BeNumerically("<", 1))
			}
		})

		It("leaves values unshifted without a reference", func() {
			res, err := p.Get(centers, pmf.ReferenceNone)
			Expect(err).NotTo(HaveOccurred())
			// bin populations sum to one, so no bin sits at zero
			Expect(floats.Min(res.F)).To(BeNumerically(">", 0))
			_, f, err := p.Bins()
			Expect(err).NotTo(HaveOccurred())
			Expect(res.F).To(Equal(f))
		})

		It("marks empty bins and points outside the edges", func() {
			q, err := pmf.New(in)
			Expect(err).NotTo(HaveOccurred())
			Expect(q.GenerateHistogram([]float64{-180, 0, 180, 400})).To(Succeed())
			res, err := q.Get([]float64{-90, 90, 300, 500}, pmf.ReferenceLowest)
			Expect(err).NotTo(HaveOccurred())
			Expect(math.IsInf(res.F[2], 1)).To(BeTrue())
			Expect(math.IsNaN(res.DF[2])).To(BeTrue())
			Expect(math.IsNaN(res.F[3])).To(BeTrue())
		})

		It("rejects unsorted edges", func() {
			q, _ := pmf.New(in)
			Expect(q.GenerateHistogram([]float64{0, -1})).To(MatchError(pmf.ErrBadRange))
		})
	})

	Describe("kde", func() {
		It("recovers the landscape", func() {
			p, err := pmf.New(in)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.GenerateKDE(6)).To(Succeed())
			Expect(p.Kind()).To(Equal(pmf.KindKDE))
			res, err := p.Get(grid, pmf.ReferenceLowest)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.DF).To(BeNil())
			Expect(maxDeviation(res.F, truth)).To(BeNumerically("<", 0.6))
		})

		It("rejects a non-positive bandwidth", func() {
			p, _ := pmf.New(in)
			Expect(p.GenerateKDE(0)).To(MatchError(pmf.ErrBadRange))
		})
	})

	Describe("spline", func() {
		DescribeTable("recovers the landscape",
			func(w pmf.SplineWeights) {
				p, err := pmf.New(in)
				Expect(err).NotTo(HaveOccurred())
				Expect(p.GenerateSpline(splineParams(w))).To(Succeed())
				Expect(p.Kind()).To(Equal(pmf.KindSpline))
				res, err := p.Get(grid, pmf.ReferenceLowest)
				Expect(err).NotTo(HaveOccurred())
				Expect(maxDeviation(res.F, truth)).To(BeNumerically("<", 0.6))
			},
			Entry("kl divergence", pmf.KLDivergence),
			Entry("sum of kl divergences", pmf.SumKLDivergence),
			Entry("weighted sum", pmf.WeightedSum),
			Entry("simple sum", pmf.SimpleSum),
		)

		It("starts from an explicit initial curve", func() {
			p, err := pmf.New(in)
			Expect(err).NotTo(HaveOccurred())
			params := splineParams(pmf.KLDivergence)
			params.XInit = floats.Span(make([]float64, 90), -180, 180)
			params.YInit = shifted(landscape, params.XInit)
			params.Optimizer = "bfgs"
			Expect(p.GenerateSpline(params)).To(Succeed())
			res, err := p.Get(grid, pmf.ReferenceLowest)
			Expect(err).NotTo(HaveOccurred())
			Expect(maxDeviation(res.F, truth)).To(BeNumerically("<", 0.6))

			c, err := p.Coefficients()
			Expect(err).NotTo(HaveOccurred())
			Expect(c).To(HaveLen(12))
		})

		It("computes information criteria", func() {
			p, _ := pmf.New(in)
			Expect(p.GenerateSpline(splineParams(pmf.KLDivergence))).To(Succeed())
			nll, err := p.NegLogLikelihood()
			Expect(err).NotTo(HaveOccurred())
			aic, err := p.InformationCriterion("AIC")
			Expect(err).NotTo(HaveOccurred())
			bic, err := p.InformationCriterion("BIC")
			Expect(err).NotTo(HaveOccurred())
			Expect(aic).To(BeNumerically("~", 24+2*nll, 1e-9))
			Expect(bic - aic).To(BeNumerically("~", 12*math.Log(float64(len(x)))-24, 1e-9))

			_, err = p.InformationCriterion("DIC")
			Expect(err).To(MatchError(pmf.ErrUnknownMethod))
		})

		It("rejects unknown weights and optimizers", func() {
			p, _ := pmf.New(in)
			Expect(p.GenerateSpline(splineParams("leastsquares"))).To(MatchError(pmf.ErrUnknownMethod))
			params := splineParams(pmf.KLDivergence)
			params.Optimizer = "annealing"
			Expect(p.GenerateSpline(params)).To(MatchError(pmf.ErrUnknownMethod))
			params = splineParams(pmf.KLDivergence)
			params.Knots = 2
			Expect(p.GenerateSpline(params)).To(MatchError(pmf.ErrBadRange))
		})

		It("only reports criteria for splines", func() {
			p, _ := pmf.New(in)
			Expect(p.GenerateKDE(6)).To(Succeed())
			_, err := p.InformationCriterion("AIC")
			Expect(err).To(MatchError(pmf.ErrNotSpline))
		})
	})

	Describe("posterior sampling", Ordered, func() {
		var p *pmf.PMF

		BeforeAll(func() {
			var err error
			p, err = pmf.New(in)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.GenerateSpline(splineParams(pmf.KLDivergence))).To(Succeed())
			prior, err := pmf.SmoothnessPrior(500, 12)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.SampleParameters(context.Background(), pmf.MCParams{
				Iterations:     2000,
				FractionChange: 0.05,
				SampleEvery:    10,
				LogPrior:       prior,
				Seed:           3,
			})).To(Succeed())
		})

		It("retains samples of every coefficient", func() {
			data, err := p.MCData()
			Expect(err).NotTo(HaveOccurred())
			r, c := data.Samples.Dims()
			Expect(r).To(Equal(12))
			Expect(c).To(Equal(200))
			Expect(data.LogPosteriors).To(HaveLen(200))
			Expect(data.Acceptance).To(BeNumerically(">", 0))
			Expect(data.Acceptance).To(BeNumerically("<", 1))
			Expect(data.Inefficiency).To(BeNumerically(">=", 1))
		})

		It("never moves the first coefficient", func() {
			data, _ := p.MCData()
			c, _ := p.Coefficients()
			_, n := data.Samples.Dims()
			for s := 0; s < n; s++ {
				Expect(data.Samples.At(0, s)).To(Equal(c[0]))
			}
		})

		It("brackets the median with the percentiles", func() {
			ci, err := p.ConfidenceIntervals(grid, 2.5, 97.5, pmf.ReferenceZero)
			Expect(err).NotTo(HaveOccurred())
			for i := range grid {
				Expect(ci.Low[i]).To(BeNumerically("<=", ci.Values[i]))
				Expect(ci.Values[i]).To(BeNumerically("<=", ci.High[i]))
				Expect(ci.Low[i]).To(BeNumerically(">=", 0))
			}
			Expect(maxDeviation(ci.Values, truth)).To(BeNumerically("<", 0.8))

			narrow, err := p.ConfidenceIntervals(grid, 16, 84, pmf.ReferenceZero)
			Expect(err).NotTo(HaveOccurred())
			for i := range grid {
				Expect(narrow.High[i] - narrow.Low[i]).To(BeNumerically("<=", ci.High[i]-ci.Low[i]+1e-12))
			}
		})

		It("rejects bad percentiles", func() {
			_, err := p.ConfidenceIntervals(grid, 90, 10, pmf.ReferenceNone)
			Expect(err).To(MatchError(pmf.ErrBadRange))
		})

		It("decorrelates when asked", func() {
			q, _ := pmf.New(in)
			Expect(q.GenerateSpline(splineParams(pmf.KLDivergence))).To(Succeed())
			Expect(q.SampleParameters(context.Background(), pmf.MCParams{
				Iterations:     2000,
				FractionChange: 0.05,
				SampleEvery:    10,
				Decorrelate:    true,
				Seed:           3,
			})).To(Succeed())
			data, err := q.MCData()
			Expect(err).NotTo(HaveOccurred())
			_, n := data.Samples.Dims()
			Expect(n).To(BeNumerically("<=", 200))
			Expect(n).To(BeNumerically(">", 0))
		})

		It("reproduces the chain for a seed", func() {
			run := func() *pmf.MCData {
				q, _ := pmf.New(in)
				Expect(q.GenerateSpline(splineParams(pmf.KLDivergence))).To(Succeed())
				Expect(q.SampleParameters(context.Background(), pmf.MCParams{
					Iterations:     450,
					FractionChange: 0.05,
					SampleEvery:    5,
					Seed:           11,
				})).To(Succeed())
				data, err := q.MCData()
				Expect(err).NotTo(HaveOccurred())
				return data
			}
			a, b := run(), run()
			Expect(mat.Equal(a.Samples, b.Samples)).To(BeTrue())
			Expect(a.LogPosteriors).To(Equal(b.LogPosteriors))
			Expect(a.Acceptance).To(Equal(b.Acceptance))
			_, n := a.Samples.Dims()
			Expect(n).To(Equal(90))
		})

		It("stops when the context is cancelled", func() {
			q, _ := pmf.New(in)
			Expect(q.GenerateSpline(splineParams(pmf.KLDivergence))).To(Succeed())
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			err := q.SampleParameters(ctx, pmf.MCParams{Iterations: 1000, FractionChange: 0.05, SampleEvery: 10})
			Expect(err).To(MatchError(context.Canceled))
			_, err = q.MCData()
			Expect(err).To(MatchError(pmf.ErrNoMCData))
		})

		It("requires a spline", func() {
			q, _ := pmf.New(in)
			Expect(q.GenerateKDE(6)).To(Succeed())
			err := q.SampleParameters(context.Background(), pmf.MCParams{Iterations: 10, SampleEvery: 1})
			Expect(err).To(MatchError(pmf.ErrNotSpline))
			_, err = q.ConfidenceIntervals(grid, 16, 84, pmf.ReferenceZero)
			Expect(err).To(MatchError(pmf.ErrNoMCData))
		})
	})

	Describe("smoothness prior", func() {
		It("is the Gaussian log density of the coefficient differences", func() {
			prior, err := pmf.SmoothnessPrior(500, 11)
			Expect(err).NotTo(HaveOccurred())
			flat := make([]float64, 11)
			variance := 500.0 / 11
			want := -5 * math.Log(2*math.Pi*variance)
			Expect(prior(flat)).To(BeNumerically("~", want, 1e-9))

			ramp := floats.Span(make([]float64, 11), 0, 10)
			Expect(prior(ramp)).To(BeNumerically("~", want-10*1/(2*variance), 1e-9))
		})

		It("rejects degenerate settings", func() {
			_, err := pmf.SmoothnessPrior(0, 10)
			Expect(err).To(MatchError(pmf.ErrBadRange))
			_, err = pmf.SmoothnessPrior(500, 1)
			Expect(err).To(MatchError(pmf.ErrBadRange))
		})
	})

	Describe("bootstrap", func() {
		It("needs a generated estimate", func() {
			p, _ := pmf.New(in)
			err := p.Bootstrap(context.Background(), 2, 1, tor.resampler(x, states), 2)
			Expect(err).To(MatchError(pmf.ErrNotGenerated))
		})

		It("replaces uncertainties with the replicate spread", func() {
			run := func(workers int) []float64 {
				p, err := pmf.New(in)
				Expect(err).NotTo(HaveOccurred())
				Expect(p.GenerateKDE(6)).To(Succeed())
				Expect(p.Bootstrap(context.Background(), 4, 9, tor.resampler(x, states), workers)).To(Succeed())
				Expect(p.Bootstraps()).To(Equal(4))
				res, err := p.Get(grid, pmf.ReferenceLowest)
				Expect(err).NotTo(HaveOccurred())
				return res.DF
			}
			df := run(1)
			Expect(df).To(HaveLen(len(grid)))
			for _, v := range df {
				Expect(v).To(BeNumerically(">=", 0))
				Expect(v).To(BeNumerically("<", 2))
			}
			Expect(floats.Max(df)).To(BeNumerically(">", 0))
			Expect(run(4)).To(Equal(df))
		})
	})
})
