package umbrella

import (
	"fmt"
	"io/fs"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

type Options struct {
	CentersFile     string
	DihedralPattern string
	EnergyPattern   string
	Umbrellas       int
	Temperature     float64
}

func DefaultOptions() Options {
	return Options{
		CentersFile:     "centers.dat",
		DihedralPattern: "prod%d_dihed.xvg",
		EnergyPattern:   "prod%d_energies.xvg",
		Umbrellas:       26,
		Temperature:     300,
	}
}

// Dataset holds the per-umbrella series. Chi[k] and U[k] always have the
// same length; U[k] is all zeros when every umbrella ran at one
// temperature.
type Dataset struct {
	Windows               []Window
	Chi                   [][]float64
	U                     [][]float64
	DifferentTemperatures bool
}

// Load reads centers and trajectories from fsys.
func Load(fsys fs.FS, opts Options, log *slog.Logger) (*Dataset, error) {
	if log == nil {
		log = slog.Default()
	}

	f, err := fsys.Open(opts.CentersFile)
	if err != nil {
		return nil, err
	}
	windows, err := ReadCenters(f, opts.CentersFile, opts.Umbrellas, opts.Temperature)
	f.Close()
	if err != nil {
		return nil, err
	}
	if len(windows) == 0 {
		return nil, fmt.Errorf("umbrella: %s defines no umbrellas", opts.CentersFile)
	}

	ds := &Dataset{
		Windows: windows,
		Chi:     make([][]float64, len(windows)),
		U:       make([][]float64, len(windows)),
	}
	ds.DifferentTemperatures = ds.temperatureSpread() > 0

	for k := range windows {
		name := fmt.Sprintf(opts.DihedralPattern, k)
		log.Info("reading trajectory", slog.String("file", name))
		rows, err := readRows(fsys, name)
		if err != nil {
			return nil, err
		}
		chi, err := Column(rows, 1, name)
		if err != nil {
			return nil, err
		}
		if len(chi) == 0 {
			return nil, fmt.Errorf("umbrella: %s has no samples", name)
		}
		for i := range chi {
			chi[i] = WrapDegrees(chi[i])
		}
		ds.Chi[k] = chi
		ds.U[k] = make([]float64, len(chi))

		if !ds.DifferentTemperatures {
			continue
		}
		name = fmt.Sprintf(opts.EnergyPattern, k)
		log.Info("reading energies", slog.String("file", name))
		rows, err = readRows(fsys, name)
		if err != nil {
			return nil, err
		}
		if len(rows) < len(chi) {
			return nil, fmt.Errorf("umbrella: %s has %d rows, dihedral series has %d", name, len(rows), len(chi))
		}
		beta := windows[k].Beta
		for n := range chi {
			row := rows[n]
			if len(row) < 3 {
				return nil, fmt.Errorf("%s: row %d has %d columns, need 3", name, n, len(row))
			}
			ds.U[k][n] = beta * (row[2] - row[1])
		}
	}
	return ds, nil
}

func readRows(fsys fs.FS, name string) ([][]float64, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadXVG(f, name)
}

func (d *Dataset) temperatureSpread() float64 {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, w := range d.Windows {
		lo = math.Min(lo, w.Temperature)
		hi = math.Max(hi, w.Temperature)
	}
	return hi - lo
}

func (d *Dataset) NumStates() int { return len(d.Windows) }

// Counts returns N_k.
func (d *Dataset) Counts() []int {
	n := make([]int, len(d.Chi))
	for k := range d.Chi {
		n[k] = len(d.Chi[k])
	}
	return n
}

func (d *Dataset) Total() int {
	total := 0
	for _, c := range d.Chi {
		total += len(c)
	}
	return total
}

// Keep retains the samples of umbrella k at the given indices.
func (d *Dataset) Keep(k int, indices []int) {
	chi := make([]float64, len(indices))
	u := make([]float64, len(indices))
	for i, idx := range indices {
		chi[i] = d.Chi[k][idx]
		u[i] = d.U[k][idx]
	}
	d.Chi[k], d.U[k] = chi, u
}

// Clone copies the series so resampling does not alias the original.
func (d *Dataset) Clone() *Dataset {
	c := &Dataset{
		Windows:               append([]Window(nil), d.Windows...),
		Chi:                   make([][]float64, len(d.Chi)),
		U:                     make([][]float64, len(d.U)),
		DifferentTemperatures: d.DifferentTemperatures,
	}
	for k := range d.Chi {
		c.Chi[k] = append([]float64(nil), d.Chi[k]...)
		c.U[k] = append([]float64(nil), d.U[k]...)
	}
	return c
}

// Bias is the reduced restraint energy of umbrella k at x. Each
// umbrella's restraint is scaled by the inverse temperature it ran at.
func (d *Dataset) Bias(k int, x float64) float64 {
	w := d.Windows[k]
	dchi := MinimumImage(x - w.Center)
	return w.Beta * (w.Spring / 2.0) * dchi * dchi
}

// Samples returns the concatenated torsions and the unbiased reduced
// energies, shifted so the lowest is zero.
func (d *Dataset) Samples() (chi, u []float64) {
	n := d.Total()
	chi = make([]float64, 0, n)
	u = make([]float64, 0, n)
	for k := range d.Chi {
		chi = append(chi, d.Chi[k]...)
		u = append(u, d.U[k]...)
	}
	if len(u) > 0 {
		floats.AddConst(-floats.Min(u), u)
	}
	return chi, u
}

// StateOf returns, for every concatenated sample, the umbrella it came from.
func (d *Dataset) StateOf() []int {
	out := make([]int, 0, d.Total())
	for k, c := range d.Chi {
		for range c {
			out = append(out, k)
		}
	}
	return out
}

// ReducedEnergies evaluates every sample n in every umbrella l:
//
//	u[l][n] = u_n + beta_k(n) * (K_l / 2) * dchi_l(n)^2
func (d *Dataset) ReducedEnergies() *mat.Dense {
	chi, u := d.Samples()
	states := d.StateOf()
	K := len(d.Windows)
	out := mat.NewDense(K, len(chi), nil)
	for n := range chi {
		beta := d.Windows[states[n]].Beta
		for l, w := range d.Windows {
			dchi := MinimumImage(chi[n] - w.Center)
			out.Set(l, n, u[n]+beta*(w.Spring/2.0)*dchi*dchi)
		}
	}
	return out
}
