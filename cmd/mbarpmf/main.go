package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/san-kum/mbarpmf/internal/config"
	"github.com/san-kum/mbarpmf/internal/experiment"
	"github.com/san-kum/mbarpmf/internal/logging"
	"github.com/san-kum/mbarpmf/internal/pmf"
	"github.com/san-kum/mbarpmf/internal/plotting"
	"github.com/san-kum/mbarpmf/internal/report"
	"github.com/san-kum/mbarpmf/internal/storage"
	"github.com/san-kum/mbarpmf/internal/viz"
)

var (
	storeDir  string
	logLevel  string
	logFormat string

	configFile string
	preset     string
	inputDir   string
	methods    []string
	mcMethods  []string
	bins       int
	nspline    int
	bootstraps int
	seed       int64
	outDir     string
	suffix     string
	noPlots    bool
	noSave     bool

	outFile string
)

// main registers the commands and exits with status 1 when one fails.
func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "mbarpmf",
		Short:         "potentials of mean force from umbrella sampling",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logging.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			format, err := logging.ParseFormat(logFormat)
			if err != nil {
				return err
			}
			logging.Init(level, format, os.Stderr)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&storeDir, "data", ".mbarpmf", "run store directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "estimate the PMF with every configured method",
		Args:  cobra.NoArgs,
		RunE:  runAnalysis,
	}
	addConfigFlags(runCmd)
	runCmd.Flags().StringSliceVar(&methods, "methods", nil, "methods to run (histogram, kde, kl, sumkl, weighted, simple)")
	runCmd.Flags().StringSliceVar(&mcMethods, "mc-methods", nil, "spline methods to sample with MCMC")
	runCmd.Flags().IntVar(&bins, "nbins", config.DefaultBins, "histogram bins")
	runCmd.Flags().IntVar(&nspline, "nspline", config.DefaultSplineKnots, "spline knots")
	runCmd.Flags().IntVar(&bootstraps, "bootstraps", 0, "bootstrap replicates per method")
	runCmd.Flags().Int64Var(&seed, "seed", 42, "random seed")
	runCmd.Flags().StringVar(&outDir, "out", ".", "figure output directory")
	runCmd.Flags().StringVar(&suffix, "suffix", config.DefaultFigSuffix, "figure file suffix")
	runCmd.Flags().BoolVar(&noPlots, "no-plots", false, "skip figures")
	runCmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the run")

	ineffCmd := &cobra.Command{
		Use:   "inefficiency",
		Short: "print the statistical inefficiency of every umbrella",
		Args:  cobra.NoArgs,
		RunE:  printInefficiency,
	}
	addConfigFlags(ineffCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list stored runs",
		RunE:  listRuns,
	}

	showCmd := &cobra.Command{
		Use:   "show [run_id]",
		Short: "print a stored run",
		Args:  cobra.ExactArgs(1),
		RunE:  showRun,
	}

	viewCmd := &cobra.Command{
		Use:   "view [run_id]",
		Short: "browse stored runs interactively",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := ""
			if len(args) > 0 {
				runID = args[0]
			}
			return viz.Run(storage.New(storeDir), runID)
		},
	}

	exportCSVCmd := &cobra.Command{
		Use:   "export-csv [run_id]",
		Short: "export run curves to CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return export(cmd.OutOrStdout(), func(w io.Writer) error { return storage.New(storeDir).ExportCSV(w, args[0]) })
		},
	}
	exportCSVCmd.Flags().StringVarP(&outFile, "output", "o", "", "output file (default stdout)")

	exportJSONCmd := &cobra.Command{
		Use:   "export-json [run_id]",
		Short: "export run metadata and curves to JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return export(cmd.OutOrStdout(), func(w io.Writer) error { return storage.New(storeDir).ExportJSON(w, args[0]) })
		},
	}
	exportJSONCmd.Flags().StringVarP(&outFile, "output", "o", "", "output file (default stdout)")

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list configuration presets and methods",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writePresets(cmd.OutOrStdout())
		},
	}

	rootCmd.AddCommand(runCmd, ineffCmd, listCmd, showCmd, viewCmd, exportCSVCmd, exportJSONCmd, presetsCmd)
	return rootCmd
}

func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	cmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")
	cmd.Flags().StringVar(&inputDir, "data-dir", "data", "directory holding centers.dat and the xvg files")
}

// resolveConfig layers defaults, preset, config file and explicitly set flags.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if preset != "" {
		cfg = config.GetPreset(preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
	}
	if configFile != "" {
		if err := config.Overlay(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.DataDir = inputDir
	}
	if flags.Changed("methods") {
		cfg.Methods = methods
	}
	if flags.Changed("mc-methods") {
		cfg.MCMethods = mcMethods
	}
	if flags.Changed("nbins") {
		cfg.Bins = bins
	}
	if flags.Changed("nspline") {
		cfg.Spline.Knots = nspline
	}
	if flags.Changed("bootstraps") {
		cfg.Bootstraps = bootstraps
	}
	if flags.Changed("seed") {
		cfg.Seed = seed
	}
	if flags.Changed("out") {
		cfg.OutputDir = outDir
	}
	if flags.Changed("suffix") {
		cfg.FigSuffix = suffix
	}
	return cfg, cfg.Validate()
}

func runAnalysis(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exp := experiment.New(cfg, os.DirFS(cfg.DataDir))
	res, err := exp.Run(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if err := report.Write(out, res, report.DefaultOptions()); err != nil {
		return err
	}

	if !noPlots {
		if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
			return err
		}
		files, err := plotting.WriteAll(cfg.OutputDir, res)
		if err != nil {
			return fmt.Errorf("failed to write figures: %w", err)
		}
		for _, f := range files {
			fmt.Fprintf(out, "wrote %s\n", f)
		}
	}

	if noSave {
		return nil
	}
	st := storage.New(storeDir)
	if err := st.Init(); err != nil {
		return err
	}
	runID, err := st.Save(res)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	fmt.Fprintf(out, "run saved: %s\n", runID)
	return nil
}

func printInefficiency(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	_, ineff, err := experiment.New(cfg, os.DirFS(cfg.DataDir)).LoadData()
	if err != nil {
		return err
	}
	return report.Inefficiencies(cmd.OutOrStdout(), ineff)
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(storeDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "no runs found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tSUFFIX\tUMBRELLAS\tSAMPLES\tMETHODS")
	for _, run := range runs {
		names := make([]string, len(run.Methods))
		for i, m := range run.Methods {
			names[i] = m.Name
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			run.ID,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Suffix,
			run.Umbrellas,
			run.Samples,
			strings.Join(names, ","),
		)
	}
	return w.Flush()
}

func showRun(cmd *cobra.Command, args []string) error {
	st := storage.New(storeDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}
	curves, err := st.LoadCurves(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run: %s\n", meta.ID)
	fmt.Fprintf(out, "Time: %s\n", meta.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "Umbrellas: %d  Samples: %d  Bins: %d  Seed: %d\n", meta.Umbrellas, meta.Samples, meta.Bins, meta.Seed)
	fmt.Fprintf(out, "MBAR iterations: %d\n\n", meta.MBARIterations)
	report.FreeEnergies(out, meta.FreeEnergies)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "METHOD\tDESCRIPTION\tSECONDS\tAIC\tBIC")
	for _, m := range meta.Methods {
		aic, bic := "-", "-"
		if m.HasIC {
			aic, bic = fmt.Sprintf("%.3f", m.AIC), fmt.Sprintf("%.3f", m.BIC)
		}
		fmt.Fprintf(w, "%s\t%s\t%.3f\t%s\t%s\n", m.Name, m.Description, m.Seconds, aic, bic)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(out)

	for _, m := range meta.Methods {
		curve := &pmf.Result{X: curves.X, F: curves.F[m.Name], DF: curves.DF[m.Name]}
		fmt.Fprintln(out, report.Plot(curve, m.Description, 72, 12))
		fmt.Fprintln(out)
	}
	return nil
}

func export(out io.Writer, write func(io.Writer) error) error {
	if outFile == "" {
		return write(out)
	}
	f, err := os.Create(outFile)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(out, "exported to %s\n", outFile)
	return nil
}

func writePresets(w io.Writer) error {
	fmt.Fprintln(w, "presets:")
	for _, name := range config.ListPresets() {
		cfg := config.GetPreset(name)
		fmt.Fprintf(w, "  %-10s methods=%s mc=%s bootstraps=%d\n",
			name, strings.Join(cfg.Methods, ","), strings.Join(cfg.MCMethods, ","), cfg.Bootstraps)
	}
	fmt.Fprintln(w, "methods:")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	reg := experiment.NewRegistry()
	for _, name := range reg.List() {
		m, err := reg.Get(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "  %s\t%s\n", m.Name, m.Description)
	}
	return tw.Flush()
}
