package config

import (
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

const (
	DefaultTemperature  = 300.0
	DefaultChiMin       = -180.0
	DefaultChiMax       = 180.0
	DefaultBins         = 30
	DefaultPlotPoints   = 1200
	DefaultSplineDegree = 3
	DefaultSplineKnots  = 20
	DefaultTolerance    = 1e-8
	DefaultMCIterations = 5000
	DefaultFigSuffix    = "example1"
)

type Config struct {
	DataDir      string   `yaml:"data_dir"`
	CentersFile  string   `yaml:"centers_file"`
	DihedralFile string   `yaml:"dihedral_pattern"`
	EnergyFile   string   `yaml:"energy_pattern"`
	Umbrellas    int      `yaml:"umbrellas"`
	Temperature  float64  `yaml:"temperature"`
	ChiMin       float64  `yaml:"chi_min"`
	ChiMax       float64  `yaml:"chi_max"`
	Bins         int      `yaml:"bins"`
	PlotPoints   int      `yaml:"plot_points"`
	Methods      []string `yaml:"methods"`
	MCMethods    []string `yaml:"mc_methods"`
	Bootstraps   int      `yaml:"bootstraps"`
	Seed         int64    `yaml:"seed"`
	OutputDir    string   `yaml:"output_dir"`
	FigSuffix    string   `yaml:"fig_suffix"`
	PlotFormat   string   `yaml:"plot_format"`

	KDE    KDEConfig    `yaml:"kde"`
	Spline SplineConfig `yaml:"spline"`
	MBAR   MBARConfig   `yaml:"mbar"`
	MC     MCConfig     `yaml:"mc"`
}

type KDEConfig struct {
	// BandwidthFactor scales the histogram bin width.
	BandwidthFactor float64 `yaml:"bandwidth_factor"`
}

type SplineConfig struct {
	Degree    int     `yaml:"degree"`
	Knots     int     `yaml:"nspline"`
	Optimizer string  `yaml:"optimizer"`
	Tolerance float64 `yaml:"tolerance"`
	// InitPointsFactor sets the initial-fit grid to factor*bins points.
	InitPointsFactor int `yaml:"init_points_factor"`
}

type MBARConfig struct {
	Optimizer     string  `yaml:"optimizer"`
	Tolerance     float64 `yaml:"tolerance"`
	WarmStartIter int     `yaml:"warm_start_iterations"`
}

type MCConfig struct {
	Iterations     int     `yaml:"iterations"`
	FractionChange float64 `yaml:"fraction_change"`
	SampleEvery    int     `yaml:"sample_every"`
	PrintEvery     int     `yaml:"print_every"`
	PriorScale     float64 `yaml:"prior_scale"`
	Decorrelate    bool    `yaml:"decorrelate"`
}

func DefaultConfig() *Config {
	return &Config{
		DataDir:      "data",
		CentersFile:  "centers.dat",
		DihedralFile: "prod%d_dihed.xvg",
		EnergyFile:   "prod%d_energies.xvg",
		Umbrellas:    26,
		Temperature:  DefaultTemperature,
		ChiMin:       DefaultChiMin,
		ChiMax:       DefaultChiMax,
		Bins:         DefaultBins,
		PlotPoints:   DefaultPlotPoints,
		Methods:      []string{"histogram", "kde", "kl", "sumkl", "weighted"},
		MCMethods:    []string{"kl"},
		OutputDir:    ".",
		FigSuffix:    DefaultFigSuffix,
		PlotFormat:   "pdf",
		Seed:         42,
		KDE: KDEConfig{
			BandwidthFactor: 0.5,
		},
		Spline: SplineConfig{
			Degree:           DefaultSplineDegree,
			Knots:            DefaultSplineKnots,
			Optimizer:        "newton",
			Tolerance:        DefaultTolerance,
			InitPointsFactor: 3,
		},
		MBAR: MBARConfig{
			Optimizer:     "newton",
			Tolerance:     1e-10,
			WarmStartIter: 20,
		},
		MC: MCConfig{
			Iterations:     DefaultMCIterations,
			FractionChange: 0.05,
			SampleEvery:    10,
			PrintEvery:     50,
			PriorScale:     500,
			Decorrelate:    true,
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := Overlay(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Overlay applies the keys present in the YAML file at path onto cfg.
func Overlay(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// BinWidth is the width of one histogram bin in degrees.
func (c *Config) BinWidth() float64 {
	return (c.ChiMax - c.ChiMin) / float64(c.Bins)
}

func (c *Config) Bandwidth() float64 {
	return c.KDE.BandwidthFactor * c.BinWidth()
}

func (c *Config) Validate() error {
	if c.ChiMax <= c.ChiMin {
		return fmt.Errorf("chi range [%g, %g] is empty", c.ChiMin, c.ChiMax)
	}
	if c.Bins <= 0 {
		return fmt.Errorf("bins must be positive, got %d", c.Bins)
	}
	if c.PlotPoints < 2 {
		return fmt.Errorf("plot_points must be at least 2, got %d", c.PlotPoints)
	}
	if c.Temperature <= 0 {
		return fmt.Errorf("temperature must be positive, got %g", c.Temperature)
	}
	if c.Spline.Degree < 1 {
		return fmt.Errorf("spline degree must be at least 1, got %d", c.Spline.Degree)
	}
	if c.Spline.Knots <= c.Spline.Degree {
		return fmt.Errorf("nspline (%d) must exceed the spline degree (%d)", c.Spline.Knots, c.Spline.Degree)
	}
	if c.Spline.InitPointsFactor < 1 || c.Bins*c.Spline.InitPointsFactor < 2 {
		return fmt.Errorf("init_points_factor must give at least 2 initial points, got %d", c.Spline.InitPointsFactor)
	}
	if c.Bootstraps < 0 {
		return fmt.Errorf("bootstraps must not be negative, got %d", c.Bootstraps)
	}
	if c.KDE.BandwidthFactor <= 0 {
		return fmt.Errorf("kde bandwidth_factor must be positive, got %g", c.KDE.BandwidthFactor)
	}
	if len(c.MCMethods) > 0 {
		if c.MC.Iterations <= 0 || c.MC.SampleEvery <= 0 {
			return fmt.Errorf("mc iterations and sample_every must be positive")
		}
		if c.MC.FractionChange <= 0 {
			return fmt.Errorf("mc fraction_change must be positive, got %g", c.MC.FractionChange)
		}
	}
	for _, m := range c.MCMethods {
		if !slices.Contains(c.Methods, m) {
			return fmt.Errorf("mc method %q is not in methods %v", m, c.Methods)
		}
	}
	return nil
}
