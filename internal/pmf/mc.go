package pmf

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"
	"gonum.org/v1/gonum/stat/samplemv"

	"github.com/san-kum/mbarpmf/internal/timeseries"
)

const adaptEvery = 100

type MCParams struct {
	Iterations int
	// FractionChange sets the initial step as a fraction of the range of
	// the fitted coefficients.
	FractionChange float64
	SampleEvery    int
	PrintEvery     int
	// LogPrior is added to the log likelihood; nil means a flat prior.
	LogPrior func(c []float64) float64
	// Decorrelate keeps only uncorrelated samples of the log posterior.
	Decorrelate bool
	Seed        uint64
	Logger      *slog.Logger
}

// MCData is the retained posterior sample.
type MCData struct {
	Samples       *mat.Dense // coefficients x samples
	LogPosteriors []float64
	Acceptance    float64
	// Inefficiency of the log posterior series before decorrelation.
	Inefficiency float64
}

var (
	_ distmv.LogProber    = logPosterior{}
	_ samplemv.MHProposal = (*coefficientStep)(nil)
)

// logPosterior adapts the spline likelihood and prior to distmv.LogProber.
type logPosterior struct {
	obj   *splineObjective
	prior func(c []float64) float64
}

func (l logPosterior) LogProb(c []float64) float64 {
	lp := -l.obj.negLogLikelihood(c)
	if l.prior != nil {
		lp += l.prior(c)
	}
	return lp
}

// coefficientStep moves one coefficient other than c_0 by a Gaussian step.
// The move is symmetric.
type coefficientStep struct {
	step float64
	rng  *rand.Rand
}

func (s *coefficientStep) ConditionalLogProb(x, y []float64) float64 {
	pick := -math.Log(float64(len(y) - 1))
	for i := 1; i < len(y); i++ {
		if x[i] != y[i] {
			return pick + distuv.Normal{Mu: y[i], Sigma: s.step}.LogProb(x[i])
		}
	}
	return pick
}

func (s *coefficientStep) ConditionalRand(x, y []float64) []float64 {
	if x == nil {
		x = make([]float64, len(y))
	}
	copy(x, y)
	i := 1 + s.rng.IntN(len(y)-1)
	x[i] += s.step * s.rng.NormFloat64()
	return x
}

// SampleParameters runs a Metropolis random walk over the spline
// coefficients starting at the fitted maximum. Each move perturbs one
// coefficient other than c_0 by a Gaussian step whose width is adapted
// every 100 moves toward an acceptance between 0.2 and 0.5.
func (p *PMF) SampleParameters(ctx context.Context, params MCParams) error {
	if p.spline == nil {
		return ErrNotSpline
	}
	if params.Iterations <= 0 || params.SampleEvery <= 0 {
		return fmt.Errorf("%w: iterations and sample_every must be positive", ErrBadRange)
	}
	log := params.Logger
	if log == nil {
		log = slog.Default()
	}
	c := append([]float64(nil), p.spline.c...)
	nc := len(c)
	target := logPosterior{obj: p.spline.obj, prior: params.LogPrior}

	step := params.FractionChange * (floats.Max(c) - floats.Min(c))
	if step <= 0 || math.IsNaN(step) {
		step = 1
	}
	proposal := &coefficientStep{step: step, rng: rand.New(rand.NewPCG(params.Seed, 0x7374))}
	mh := samplemv.MetropolisHastingser{
		Initial:  c,
		Target:   target,
		Proposal: proposal,
		Src:      rand.NewPCG(params.Seed, 0x6d63),
		Rate:     1,
	}

	var (
		samples  [][]float64
		logposts []float64
		accepted int
	)
	batch := mat.NewDense(adaptEvery, nc, nil)
	for done := 0; done < params.Iterations; {
		rows := min(adaptEvery, params.Iterations-done)
		chain := batch.Slice(0, rows, 0, nc).(*mat.Dense)
		mh.Sample(chain)

		window := 0
		prev := mh.Initial
		for r := 0; r < rows; r++ {
			row := chain.RawRowView(r)
			if !floats.Equal(row, prev) {
				window++
			}
			prev = row

			it := done + r + 1
			if it%params.SampleEvery == 0 {
				samples = append(samples, append([]float64(nil), row...))
				logposts = append(logposts, target.LogProb(row))
			}
			if params.PrintEvery > 0 && it%params.PrintEvery == 0 {
				log.Debug("mc progress",
					slog.Int("iteration", it),
					slog.Float64("log_posterior", target.LogProb(row)),
					slog.Float64("acceptance", float64(accepted+window)/float64(it)),
					slog.Float64("step", proposal.step))
			}
		}
		accepted += window
		done += rows
		mh.Initial = append([]float64(nil), chain.RawRowView(rows-1)...)

		if rows == adaptEvery {
			rate := float64(window) / adaptEvery
			switch {
			case rate < 0.2:
				proposal.step *= 0.8
			case rate > 0.5:
				proposal.step *= 1.25
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if len(samples) == 0 {
		return fmt.Errorf("%w: %d iterations retain no sample every %d",
			ErrNoMCData, params.Iterations, params.SampleEvery)
	}

	data := &MCData{
		Acceptance:   float64(accepted) / float64(params.Iterations),
		Inefficiency: 1,
	}
	keep := make([]int, len(samples))
	for i := range keep {
		keep[i] = i
	}
	if g, err := timeseries.StatisticalInefficiencyFFT(logposts, timeseries.DefaultMinTime); err == nil {
		data.Inefficiency = g
		if params.Decorrelate {
			keep = timeseries.SubsampleCorrelatedData(len(logposts), g)
		}
	} else {
		log.Debug("posterior inefficiency unavailable", slog.String("error", err.Error()))
	}

	data.Samples = mat.NewDense(nc, len(keep), nil)
	data.LogPosteriors = make([]float64, len(keep))
	for j, s := range keep {
		data.Samples.SetCol(j, samples[s])
		data.LogPosteriors[j] = logposts[s]
	}
	p.mc = data

	log.Info("posterior sampling done",
		slog.Int("iterations", params.Iterations),
		slog.Int("samples", len(keep)),
		slog.Float64("acceptance", data.Acceptance),
		slog.Float64("inefficiency", data.Inefficiency))
	return nil
}

// MCData returns the retained posterior samples.
func (p *PMF) MCData() (*MCData, error) {
	if p.mc == nil {
		return nil, ErrNoMCData
	}
	return p.mc, nil
}
