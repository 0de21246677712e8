// Package plotting writes the comparison and posterior figures of a run.
package plotting

import (
	"fmt"
	"math"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/san-kum/mbarpmf/internal/experiment"
	"github.com/san-kum/mbarpmf/internal/pmf"
)

const (
	width  = 6 * vg.Inch
	height = 4.5 * vg.Inch

	xLabel = "Torsion angle (degrees)"
	yLabel = "PMF (units of kT)"
)

// errorPoints feeds plotter.NewYErrorBars.
type errorPoints struct {
	plotter.XYs
	plotter.YErrors
}

func newPlot(title string) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xLabel
	p.Y.Label.Text = yLabel
	p.Legend.Top = true
	p.Legend.TextStyle.Font.Size = vg.Points(7)
	return p
}

// addCurve draws every finite segment and registers the first in the legend.
func addCurve(p *plot.Plot, x, y []float64, style, label string) error {
	for i, seg := range segments(x, y) {
		l, err := plotter.NewLine(seg)
		if err != nil {
			return err
		}
		l.LineStyle = lineStyle(style, vg.Points(1))
		p.Add(l)
		if i == 0 && label != "" {
			p.Legend.Add(label, l)
		}
	}
	return nil
}

// errorIndices mirrors where the comparison plot draws error bars: one per
// bin centre for the histogram, every len/nbins points otherwise.
func errorIndices(n, nbins int, histogram bool) []int {
	if nbins <= 0 || n == 0 {
		return nil
	}
	var idx []int
	if histogram {
		per := n / nbins
		if per == 0 {
			per = 1
		}
		for i := 0; i < n; i += per {
			if j := i + per/2; j < n {
				idx = append(idx, j)
			}
		}
		return idx
	}
	every := 1
	if n > nbins {
		every = int(math.Floor(float64(n) / float64(nbins)))
	}
	for i := 0; i < n; i += every {
		idx = append(idx, i)
	}
	return idx
}

func addErrorBars(p *plot.Plot, res *pmf.Result, idx []int, style string) error {
	var pts errorPoints
	for _, i := range idx {
		f, df := res.F[i], res.DF[i]
		if math.IsNaN(f) || math.IsInf(f, 0) || math.IsNaN(df) || math.IsInf(df, 0) {
			continue
		}
		pts.XYs = append(pts.XYs, plotter.XY{X: res.X[i], Y: f})
		pts.YErrors = append(pts.YErrors, struct{ Low, High float64 }{df, df})
	}
	if len(pts.XYs) == 0 {
		return nil
	}
	bars, err := plotter.NewYErrorBars(pts)
	if err != nil {
		return err
	}
	bars.LineStyle = lineStyle(style, vg.Points(0.8))
	bars.LineStyle.Dashes = nil
	bars.CapWidth = vg.Points(6)
	p.Add(bars)
	return nil
}

// ComparePMF draws every method's curve with its error bars.
func ComparePMF(path string, res *experiment.Result) error {
	p, err := comparePlot(res)
	if err != nil {
		return err
	}
	return p.Save(width, height, path)
}

func comparePlot(res *experiment.Result) (*plot.Plot, error) {
	cfg := res.Config
	p := newPlot("Comparison of PMFs")
	for _, mr := range res.Methods {
		c := mr.Curve
		if err := addCurve(p, c.X, c.F, mr.Method.Style, mr.Method.Description); err != nil {
			return nil, fmt.Errorf("%s: %w", mr.Method.Name, err)
		}
		if c.DF == nil {
			continue
		}
		idx := errorIndices(len(c.X), cfg.Bins, mr.Method.Kind == pmf.KindHistogram)
		if err := addErrorBars(p, c, idx, mr.Method.Style); err != nil {
			return nil, fmt.Errorf("%s: %w", mr.Method.Name, err)
		}
	}
	// Add widens the axes to the data, so the limits go on last.
	p.X.Min, p.X.Max = cfg.ChiMin, cfg.ChiMax
	p.Y.Min, p.Y.Max = 0, 20
	return p, nil
}

func sampled(res *experiment.Result) []*experiment.MethodResult {
	var out []*experiment.MethodResult
	for _, mr := range res.Methods {
		if mr.Posterior != nil {
			out = append(out, mr)
		}
	}
	return out
}

// PosteriorHistogram histograms the retained log posteriors.
func PosteriorHistogram(path string, methods []*experiment.MethodResult) error {
	p := newPlot("Log posterior of retained samples")
	p.X.Label.Text = "log posterior"
	p.Y.Label.Text = "count"
	for _, mr := range methods {
		h, err := plotter.NewHist(plotter.Values(mr.Posterior.Data.LogPosteriors), 10)
		if err != nil {
			return fmt.Errorf("%s: %w", mr.Method.Name, err)
		}
		ls := lineStyle(mr.Method.Style, vg.Points(0.5))
		h.FillColor = translucent(ls.Color, 0.5)
		h.LineStyle = ls
		h.LineStyle.Dashes = nil
		p.Add(h)
		p.Legend.Add(mr.Method.Description, h)
	}
	return p.Save(width, height, path)
}

// Band draws the median and the shaded interval selected by pick.
func Band(path, title string, res *experiment.Result, methods []*experiment.MethodResult,
	pick func(*experiment.Posterior) *pmf.Intervals) error {
	p, err := bandPlot(title, res, methods, pick)
	if err != nil {
		return err
	}
	return p.Save(width, height, path)
}

func bandPlot(title string, res *experiment.Result, methods []*experiment.MethodResult,
	pick func(*experiment.Posterior) *pmf.Intervals) (*plot.Plot, error) {
	p := newPlot(title)
	for _, mr := range methods {
		ci := pick(mr.Posterior)
		poly := make(plotter.XYs, 0, 2*len(ci.X))
		for i := range ci.X {
			poly = append(poly, plotter.XY{X: ci.X[i], Y: ci.High[i]})
		}
		for i := len(ci.X) - 1; i >= 0; i-- {
			poly = append(poly, plotter.XY{X: ci.X[i], Y: ci.Low[i]})
		}
		band, err := plotter.NewPolygon(poly)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", mr.Method.Name, err)
		}
		ls := lineStyle(mr.Method.Style, 0)
		band.Color = translucent(ls.Color, 0.3)
		band.LineStyle.Width = 0
		p.Add(band)
		if err := addCurve(p, ci.X, ci.Values, mr.Method.Style, mr.Method.Description); err != nil {
			return nil, fmt.Errorf("%s: %w", mr.Method.Name, err)
		}
	}
	p.X.Min, p.X.Max = res.Config.ChiMin, res.Config.ChiMax
	return p, nil
}

// ParameterTimeSeries plots every coefficient against sample index.
func ParameterTimeSeries(path string, methods []*experiment.MethodResult) error {
	p := newPlot("Spline parameter time series")
	p.X.Label.Text = "sample"
	p.Y.Label.Text = "coefficient"
	p.Legend.Top = false
	styles := []string{"b-", "g-", "r-", "c-", "m-", "y-", "k-"}
	for _, mr := range methods {
		s := mr.Posterior.Data.Samples
		rows, cols := s.Dims()
		for r := 0; r < rows; r++ {
			xy := make(plotter.XYs, cols)
			for c := 0; c < cols; c++ {
				xy[c] = plotter.XY{X: float64(c), Y: s.At(r, c)}
			}
			l, err := plotter.NewLine(xy)
			if err != nil {
				return fmt.Errorf("%s: %w", mr.Method.Name, err)
			}
			l.LineStyle = lineStyle(styles[r%len(styles)], vg.Points(0.6))
			p.Add(l)
			p.Legend.Add(fmt.Sprintf("%d_%s", r, mr.Method.Name), l)
		}
	}
	return p.Save(width, height, path)
}

// WriteAll writes the comparison figure and, when any method was sampled,
// the four posterior figures into dir. It returns the written paths.
func WriteAll(dir string, res *experiment.Result) ([]string, error) {
	cfg := res.Config
	format := cfg.PlotFormat
	if format == "" {
		format = "pdf"
	}
	name := func(base string) string {
		return filepath.Join(dir, fmt.Sprintf("%s_%s.%s", base, cfg.FigSuffix, format))
	}

	var written []string
	path := name("compare_pmf")
	if err := ComparePMF(path, res); err != nil {
		return written, err
	}
	written = append(written, path)

	methods := sampled(res)
	if len(methods) == 0 {
		return written, nil
	}
	figures := []struct {
		base string
		draw func(string) error
	}{
		{"bayes_posterior_histogram", func(p string) error { return PosteriorHistogram(p, methods) }},
		{"bayesian_95percent", func(p string) error {
			return Band(p, "PMF with 95% confidence intervals", res, methods,
				func(post *experiment.Posterior) *pmf.Intervals { return post.CI95 })
		}},
		{"bayesian_1sigma", func(p string) error {
			return Band(p, "PMF (in units of kT) with 1 sigma percent confidence intervals", res, methods,
				func(post *experiment.Posterior) *pmf.Intervals { return post.CI68 })
		}},
		{"parameter_time_series", func(p string) error { return ParameterTimeSeries(p, methods) }},
	}
	for _, fig := range figures {
		path := name(fig.base)
		if err := fig.draw(path); err != nil {
			return written, fmt.Errorf("%s: %w", fig.base, err)
		}
		written = append(written, path)
	}
	return written, nil
}
