package plotting

import (
	"image/color"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/mbarpmf/internal/config"
	"github.com/san-kum/mbarpmf/internal/experiment"
	"github.com/san-kum/mbarpmf/internal/pmf"
)

func TestErrorIndices(t *testing.T) {
	tests := []struct {
		name      string
		n, nbins  int
		histogram bool
		want      []int
	}{
		{"histogram centres", 12, 3, true, []int{2, 6, 10}},
		{"every n/nbins", 12, 3, false, []int{0, 4, 8}},
		{"fewer points than bins", 2, 3, false, []int{0, 1}},
		{"no bins", 5, 0, false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errorIndices(tt.n, tt.nbins, tt.histogram)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("indices mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSegments(t *testing.T) {
	x := []float64{0, 1, 2, 3, 4, 5}
	y := []float64{1, math.Inf(1), 2, 3, math.NaN(), 4}
	segs := segments(x, y)
	if len(segs) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(segs))
	}
	if len(segs[1]) != 2 || segs[1][0].X != 2 {
		t.Errorf("unexpected middle segment %v", segs[1])
	}
}

func TestLineStyle(t *testing.T) {
	solid := lineStyle("g-", 1)
	if solid.Dashes != nil {
		t.Error("solid style should not dash")
	}
	if solid.Color != palette['g'] {
		t.Errorf("expected green, got %v", solid.Color)
	}
	dotted := lineStyle("k:", 1)
	if len(dotted.Dashes) == 0 {
		t.Error("dotted style should dash")
	}
	if lineStyle("z-", 1).Color != color.Black {
		t.Error("unknown colour should fall back to black")
	}
}

func syntheticResult() *experiment.Result {
	cfg := config.DefaultConfig()
	cfg.Bins = 4
	cfg.FigSuffix = "test"
	reg := experiment.NewRegistry()
	hist, _ := reg.Get("histogram")
	kl, _ := reg.Get("kl")

	grid := make([]float64, 40)
	f := make([]float64, 40)
	df := make([]float64, 40)
	for i := range grid {
		grid[i] = -180 + 9*float64(i)
		f[i] = 2 * (1 + math.Cos(grid[i]*math.Pi/180))
		df[i] = 0.2
	}
	f[3] = math.Inf(1)

	samples := mat.NewDense(3, 20, nil)
	logp := make([]float64, 20)
	for s := 0; s < 20; s++ {
		for r := 0; r < 3; r++ {
			samples.Set(r, s, float64(r)+0.1*float64(s%5))
		}
		logp[s] = -100 - float64(s%7)
	}
	ci := &pmf.Intervals{X: grid, Values: f, Low: make([]float64, 40), High: make([]float64, 40)}
	for i := range grid {
		ci.Low[i], ci.High[i] = f[i]-0.5, f[i]+0.5
	}
	ci.Values = append([]float64(nil), f...)
	ci.Values[3], ci.Low[3], ci.High[3] = 4, 3.5, 4.5

	return &experiment.Result{
		Config:     cfg,
		BinCenters: []float64{-135, -45, 45, 135},
		Grid:       grid,
		Methods: []*experiment.MethodResult{
			{Method: hist, Curve: &pmf.Result{X: grid, F: f, DF: df}},
			{
				Method: kl,
				Curve:  &pmf.Result{X: grid, F: f},
				Posterior: &experiment.Posterior{
					Data: &pmf.MCData{Samples: samples, LogPosteriors: logp},
					CI95: ci,
					CI68: ci,
				},
			},
		},
	}
}

func TestWriteAll(t *testing.T) {
	dir := t.TempDir()
	res := syntheticResult()
	written, err := WriteAll(dir, res)
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	want := []string{
		"compare_pmf_test.pdf",
		"bayes_posterior_histogram_test.pdf",
		"bayesian_95percent_test.pdf",
		"bayesian_1sigma_test.pdf",
		"parameter_time_series_test.pdf",
	}
	if len(written) != len(want) {
		t.Fatalf("expected %d files, got %v", len(want), written)
	}
	for i, name := range want {
		if written[i] != filepath.Join(dir, name) {
			t.Errorf("file %d: expected %s, got %s", i, name, written[i])
		}
		info, err := os.Stat(written[i])
		if err != nil {
			t.Fatalf("stat %s: %v", name, err)
		}
		if info.Size() == 0 {
			t.Errorf("%s is empty", name)
		}
	}
}

func TestWriteAllWithoutPosterior(t *testing.T) {
	dir := t.TempDir()
	res := syntheticResult()
	res.Methods[1].Posterior = nil
	res.Config.PlotFormat = "png"
	written, err := WriteAll(dir, res)
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if len(written) != 1 || filepath.Base(written[0]) != "compare_pmf_test.png" {
		t.Errorf("expected only the comparison figure, got %v", written)
	}
}

func TestAxisLimitsSurviveData(t *testing.T) {
	res := syntheticResult()
	x := []float64{-200, -90, 0, 90, 200}
	res.Methods[0].Curve = &pmf.Result{X: x, F: []float64{35, 1, 0, 1, 35}, DF: []float64{1, 1, 1, 1, 1}}
	res.Methods[1].Curve = &pmf.Result{X: x, F: []float64{-3, 2, 0, 2, 28}}

	p, err := comparePlot(res)
	if err != nil {
		t.Fatalf("compare plot failed: %v", err)
	}
	got := [4]float64{p.X.Min, p.X.Max, p.Y.Min, p.Y.Max}
	if diff := cmp.Diff([4]float64{-180, 180, 0, 20}, got); diff != "" {
		t.Errorf("compare axes mismatch (-want +got):\n%s", diff)
	}

	wide := &pmf.Intervals{X: x, Values: []float64{0, 1, 2, 1, 0}, Low: make([]float64, 5), High: []float64{1, 2, 3, 2, 1}}
	pick := func(*experiment.Posterior) *pmf.Intervals { return wide }
	p, err = bandPlot("band", res, sampled(res), pick)
	if err != nil {
		t.Fatalf("band plot failed: %v", err)
	}
	if p.X.Min != -180 || p.X.Max != 180 {
		t.Errorf("band x axis [%g, %g], want [-180, 180]", p.X.Min, p.X.Max)
	}
}
