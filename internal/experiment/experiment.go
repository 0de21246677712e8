package experiment

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/san-kum/mbarpmf/internal/config"
	"github.com/san-kum/mbarpmf/internal/logging"
	"github.com/san-kum/mbarpmf/internal/mbar"
	"github.com/san-kum/mbarpmf/internal/pmf"
	"github.com/san-kum/mbarpmf/internal/timeseries"
	"github.com/san-kum/mbarpmf/internal/umbrella"
)

// Inefficiency is the subsampling record of one umbrella.
type Inefficiency struct {
	Umbrella int     `json:"umbrella"`
	G        float64 `json:"g"`
	Before   int     `json:"before"`
	After    int     `json:"after"`
}

// Posterior holds the sampling results of one spline method.
type Posterior struct {
	Data *pmf.MCData
	// CI95 and CI68 are on the plot grid; Bins68 on the bin centres. All
	// shift every sampled curve to a minimum of zero.
	CI95   *pmf.Intervals
	CI68   *pmf.Intervals
	Bins68 *pmf.Intervals
}

type MethodResult struct {
	Method  Method
	Elapsed time.Duration
	Bins    *pmf.Result
	Curve   *pmf.Result
	// AIC and BIC are set for spline methods only.
	AIC, BIC  float64
	HasIC     bool
	Posterior *Posterior
	PMF       *pmf.PMF
}

type Result struct {
	Config         *config.Config
	Inefficiencies []Inefficiency
	FreeEnergies   []float64
	MBARIterations int
	Samples        int
	Edges          []float64
	BinCenters     []float64
	Grid           []float64
	Methods        []*MethodResult
}

// Method returns the result of the named method, or nil.
func (r *Result) Method(name string) *MethodResult {
	for _, m := range r.Methods {
		if m.Method.Name == name {
			return m
		}
	}
	return nil
}

type Experiment struct {
	cfg  *config.Config
	fsys fs.FS
	reg  *Registry
	log  *slog.Logger
}

// New prepares a run reading its input files from fsys.
func New(cfg *config.Config, fsys fs.FS) *Experiment {
	return &Experiment{
		cfg:  cfg,
		fsys: fsys,
		reg:  NewRegistry(),
		log:  logging.New(logging.Experiment),
	}
}

func (e *Experiment) Registry() *Registry { return e.reg }

// LoadData reads the umbrella data and subsamples every series to
// uncorrelated samples.
func (e *Experiment) LoadData() (*umbrella.Dataset, []Inefficiency, error) {
	opts := umbrella.Options{
		CentersFile:     e.cfg.CentersFile,
		DihedralPattern: e.cfg.DihedralFile,
		EnergyPattern:   e.cfg.EnergyFile,
		Umbrellas:       e.cfg.Umbrellas,
		Temperature:     e.cfg.Temperature,
	}
	ds, err := umbrella.Load(e.fsys, opts, logging.New(logging.Umbrella))
	if err != nil {
		return nil, nil, err
	}
	ineff, err := subsample(ds, e.log)
	if err != nil {
		return nil, nil, err
	}
	return ds, ineff, nil
}

// subsample uses the energies when umbrellas ran at different
// temperatures and the torsion otherwise.
func subsample(ds *umbrella.Dataset, log *slog.Logger) ([]Inefficiency, error) {
	out := make([]Inefficiency, ds.NumStates())
	for k := range ds.Chi {
		var (
			g   float64
			err error
		)
		if ds.DifferentTemperatures {
			g, err = timeseries.StatisticalInefficiency(ds.U[k], ds.U[k], timeseries.DefaultMinTime)
		} else {
			g, err = timeseries.TorsionInefficiency(ds.Chi[k], timeseries.DefaultMinTime)
		}
		if err != nil {
			return nil, fmt.Errorf("umbrella %d: %w", k, err)
		}
		before := len(ds.Chi[k])
		ds.Keep(k, timeseries.SubsampleCorrelatedData(before, g))
		out[k] = Inefficiency{Umbrella: k, G: g, Before: before, After: len(ds.Chi[k])}
		log.Debug("subsampled umbrella",
			slog.Int("umbrella", k),
			slog.Float64("g", g),
			slog.Int("kept", out[k].After))
	}
	return out, nil
}

func (e *Experiment) mbarOptions() mbar.Options {
	opts := mbar.DefaultOptions()
	opts.Method = e.cfg.MBAR.Optimizer
	if e.cfg.MBAR.Tolerance > 0 {
		opts.Tolerance = e.cfg.MBAR.Tolerance
	}
	opts.WarmStart = e.cfg.MBAR.WarmStartIter
	opts.Logger = logging.New(logging.MBAR)
	return opts
}

func buildInput(ds *umbrella.Dataset, opts mbar.Options) (pmf.Input, error) {
	m, err := mbar.New(ds.ReducedEnergies(), ds.Counts(), opts)
	if err != nil {
		return pmf.Input{}, err
	}
	chi, u := ds.Samples()
	biases := make([]pmf.Bias, ds.NumStates())
	for k := range biases {
		biases[k] = func(x float64) float64 { return ds.Bias(k, x) }
	}
	return pmf.Input{
		MBAR:   m,
		X:      chi,
		U:      u,
		States: ds.StateOf(),
		Biases: biases,
	}, nil
}

// resampler redraws every umbrella's samples with replacement and
// re-solves MBAR.
func resampler(ds *umbrella.Dataset, opts mbar.Options) pmf.Resampler {
	return func(ctx context.Context, rng *rand.Rand) (pmf.Input, error) {
		if err := ctx.Err(); err != nil {
			return pmf.Input{}, err
		}
		b := ds.Clone()
		for k, chi := range ds.Chi {
			idx := make([]int, len(chi))
			for i := range idx {
				idx[i] = rng.IntN(len(chi))
			}
			b.Keep(k, idx)
		}
		return buildInput(b, opts)
	}
}

// Run executes the whole analysis. Cancellation is honoured between
// stages and inside bootstrap and posterior sampling.
func (e *Experiment) Run(ctx context.Context) (*Result, error) {
	cfg := e.cfg
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	methods := make([]Method, len(cfg.Methods))
	for i, name := range cfg.Methods {
		m, err := e.reg.Get(name)
		if err != nil {
			return nil, err
		}
		methods[i] = m
	}
	for _, name := range cfg.MCMethods {
		m, err := e.reg.Get(name)
		if err != nil {
			return nil, err
		}
		if !m.IsSpline() {
			return nil, fmt.Errorf("posterior sampling needs a spline method, %s is %s", name, m.Kind)
		}
	}

	ds, ineff, err := e.LoadData()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.log.Info("evaluating reduced potential energies",
		slog.Int("umbrellas", ds.NumStates()),
		slog.Int("samples", ds.Total()))
	opts := e.mbarOptions()
	in, err := buildInput(ds, opts)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Config:         cfg,
		Inefficiencies: ineff,
		FreeEnergies:   in.MBAR.FreeEnergies(),
		MBARIterations: in.MBAR.Iterations(),
		Samples:        ds.Total(),
		Edges:          floats.Span(make([]float64, cfg.Bins+1), cfg.ChiMin, cfg.ChiMax),
		Grid:           floats.Span(make([]float64, cfg.PlotPoints), cfg.ChiMin, cfg.ChiMax),
	}
	res.BinCenters = make([]float64, cfg.Bins)
	for i := range res.BinCenters {
		res.BinCenters[i] = 0.5 * (res.Edges[i] + res.Edges[i+1])
	}

	xstart := floats.Span(make([]float64, cfg.Bins*cfg.Spline.InitPointsFactor), cfg.ChiMin, cfg.ChiMax)
	var ystart []float64
	resample := resampler(ds, opts)

	for _, m := range methods {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		p, err := pmf.New(in)
		if err != nil {
			return nil, err
		}

		switch m.Kind {
		case pmf.KindHistogram:
			err = p.GenerateHistogram(res.Edges)
		case pmf.KindKDE:
			err = p.GenerateKDE(cfg.Bandwidth())
		case pmf.KindSpline:
			params := pmf.SplineParams{
				Weights:   m.Weights,
				Knots:     cfg.Spline.Knots,
				Degree:    cfg.Spline.Degree,
				Min:       cfg.ChiMin,
				Max:       cfg.ChiMax,
				XInit:     xstart,
				YInit:     ystart,
				Optimizer: cfg.Spline.Optimizer,
				Tolerance: cfg.Spline.Tolerance,
				Logger:    logging.New(logging.PMF),
			}
			if params.YInit == nil {
				params.YInit = make([]float64, len(xstart))
			}
			err = p.GenerateSpline(params)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", m.Name, err)
		}

		if cfg.Bootstraps > 0 {
			if err := p.Bootstrap(ctx, cfg.Bootstraps, uint64(cfg.Seed), resample, 0); err != nil {
				return nil, fmt.Errorf("%s: %w", m.Name, err)
			}
		}

		mr := &MethodResult{Method: m, PMF: p}
		if mr.Bins, err = p.Get(res.BinCenters, pmf.ReferenceLowest); err != nil {
			return nil, err
		}
		if mr.Curve, err = p.Get(res.Grid, pmf.ReferenceLowest); err != nil {
			return nil, err
		}
		if m.Kind == pmf.KindKDE {
			init, err := p.Get(xstart, pmf.ReferenceLowest)
			if err != nil {
				return nil, err
			}
			ystart = init.F
		}
		if m.IsSpline() {
			if mr.AIC, err = p.InformationCriterion("AIC"); err != nil {
				return nil, err
			}
			if mr.BIC, err = p.InformationCriterion("BIC"); err != nil {
				return nil, err
			}
			mr.HasIC = true
		}
		mr.Elapsed = time.Since(start)
		res.Methods = append(res.Methods, mr)

		e.log.Info("generated pmf",
			slog.String("method", m.Name),
			slog.Duration("elapsed", mr.Elapsed))
	}

	for _, name := range cfg.MCMethods {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		mr := res.Method(name)
		if mr == nil {
			return nil, fmt.Errorf("posterior sampling: method %s did not run", name)
		}
		post, err := e.samplePosterior(ctx, mr.PMF, res)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		mr.Posterior = post
	}
	return res, nil
}

func (e *Experiment) samplePosterior(ctx context.Context, p *pmf.PMF, res *Result) (*Posterior, error) {
	cfg := e.cfg
	prior, err := pmf.SmoothnessPrior(cfg.MC.PriorScale, cfg.Spline.Knots)
	if err != nil {
		return nil, err
	}
	err = p.SampleParameters(ctx, pmf.MCParams{
		Iterations:     cfg.MC.Iterations,
		FractionChange: cfg.MC.FractionChange,
		SampleEvery:    cfg.MC.SampleEvery,
		PrintEvery:     cfg.MC.PrintEvery,
		LogPrior:       prior,
		Decorrelate:    cfg.MC.Decorrelate,
		Seed:           uint64(cfg.Seed),
		Logger:         logging.New(logging.MC),
	})
	if err != nil {
		return nil, err
	}

	post := &Posterior{}
	if post.Data, err = p.MCData(); err != nil {
		return nil, err
	}
	if post.CI95, err = p.ConfidenceIntervals(res.Grid, 2.5, 97.5, pmf.ReferenceZero); err != nil {
		return nil, err
	}
	if post.CI68, err = p.ConfidenceIntervals(res.Grid, 16, 84, pmf.ReferenceZero); err != nil {
		return nil, err
	}
	if post.Bins68, err = p.ConfidenceIntervals(res.BinCenters, 16, 84, pmf.ReferenceZero); err != nil {
		return nil, err
	}
	return post, nil
}
