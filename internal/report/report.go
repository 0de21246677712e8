// Package report prints run results as console tables and terminal plots.
package report

import (
	"fmt"
	"io"
	"math"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/mbarpmf/internal/experiment"
	"github.com/san-kum/mbarpmf/internal/pmf"
)

var (
	heading = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	dim     = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
)

type Options struct {
	Plots      bool
	PlotWidth  int
	PlotHeight int
}

func DefaultOptions() Options {
	return Options{Plots: true, PlotWidth: 72, PlotHeight: 12}
}

// Write prints every section of a run in pipeline order.
func Write(w io.Writer, res *experiment.Result, opts Options) error {
	if err := Inefficiencies(w, res.Inefficiencies); err != nil {
		return err
	}
	FreeEnergies(w, res.FreeEnergies)
	for _, mr := range res.Methods {
		Method(w, mr, res.BinCenters, res.Config.Spline.Knots)
		if opts.Plots {
			fmt.Fprintln(w, Plot(mr.Curve, mr.Method.Description, opts.PlotWidth, opts.PlotHeight))
			fmt.Fprintln(w)
		}
	}
	for _, mr := range res.Methods {
		if mr.Posterior != nil {
			Posterior(w, mr, res.BinCenters)
		}
	}
	return Timings(w, res.Methods)
}

func Inefficiencies(w io.Writer, ineff []experiment.Inefficiency) error {
	fmt.Fprintln(w, heading.Render("Statistical inefficiency per umbrella"))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "UMBRELLA\tG\tSAMPLES\tKEPT")
	for _, in := range ineff {
		fmt.Fprintf(tw, "%d\t%.3f\t%d\t%d\n", in.Umbrella, in.G, in.Before, in.After)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w)
	return nil
}

func FreeEnergies(w io.Writer, f []float64) {
	fmt.Fprintln(w, heading.Render("Umbrella free energies (kT)"))
	for k, v := range f {
		fmt.Fprintf(w, "%5d %10.4f\n", k, v)
	}
	fmt.Fprintln(w)
}

// Method prints the binned PMF and, for splines, the information criteria.
func Method(w io.Writer, mr *experiment.MethodResult, centers []float64, nspline int) {
	fmt.Fprintln(w, heading.Render(fmt.Sprintf("PMF (in units of kT) for %s", mr.Method.Name)))
	fmt.Fprintf(w, "%8s %8s %8s\n", "bin", "f", "df")
	for i, x := range centers {
		if mr.Bins.DF != nil {
			fmt.Fprintf(w, "%8.1f %8.1f %8.1f\n", x, mr.Bins.F[i], mr.Bins.DF[i])
		} else {
			fmt.Fprintf(w, "%8.1f %8.1f\n", x, mr.Bins.F[i])
		}
	}
	if mr.HasIC {
		fmt.Fprintf(w, "AIC for %s with %d splines is: %f\n", mr.Method.Name, nspline, mr.AIC)
		fmt.Fprintf(w, "BIC for %s with %d splines is: %f\n", mr.Method.Name, nspline, mr.BIC)
	}
	fmt.Fprintln(w)
}

// Posterior prints the median and half the 68% interval at bin centres.
func Posterior(w io.Writer, mr *experiment.MethodResult, centers []float64) {
	ci := mr.Posterior.Bins68
	fmt.Fprintln(w, heading.Render("PMF (in units of kT) with 1 sigma errors from posterior sampling"))
	fmt.Fprintln(w, dim.Render(fmt.Sprintf("%s: %d samples, acceptance %.2f",
		mr.Method.Name, len(mr.Posterior.Data.LogPosteriors), mr.Posterior.Data.Acceptance)))
	for i, x := range centers {
		fmt.Fprintf(w, "%8.1f %8.1f %8.1f\n", x, ci.Values[i], (ci.High[i]-ci.Low[i])/2)
	}
	fmt.Fprintln(w)
}

func Timings(w io.Writer, methods []*experiment.MethodResult) error {
	fmt.Fprintln(w, heading.Render("Time elapsed per method"))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "METHOD\tDESCRIPTION\tSECONDS")
	for _, mr := range methods {
		fmt.Fprintf(tw, "%s\t%s\t%.3f\n", mr.Method.Name, mr.Method.Description, mr.Elapsed.Seconds())
	}
	return tw.Flush()
}

// Plot renders a curve with asciigraph. Non-finite values become gaps.
func Plot(res *pmf.Result, caption string, width, height int) string {
	if res == nil || len(res.F) == 0 {
		return ""
	}
	data := make([]float64, len(res.F))
	finite := 0
	for i, f := range res.F {
		if math.IsInf(f, 0) {
			f = math.NaN()
		}
		if !math.IsNaN(f) {
			finite++
		}
		data[i] = f
	}
	if finite == 0 {
		return ""
	}
	return asciigraph.Plot(data,
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.Caption(caption),
	)
}
