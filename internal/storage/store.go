package storage

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/mbarpmf/internal/experiment"
)

var ErrNoCurves = errors.New("storage: run has no curves")

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type MethodMetadata struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Style       string  `json:"style"`
	Seconds     float64 `json:"seconds"`
	HasIC       bool    `json:"has_ic,omitempty"`
	AIC         float64 `json:"aic,omitempty"`
	BIC         float64 `json:"bic,omitempty"`
	Bootstraps  int     `json:"bootstraps,omitempty"`
	Sampled     bool    `json:"sampled,omitempty"`
	Acceptance  float64 `json:"acceptance,omitempty"`
}

type RunMetadata struct {
	ID             string                    `json:"id"`
	Timestamp      time.Time                 `json:"timestamp"`
	Suffix         string                    `json:"suffix"`
	ConfigDigest   string                    `json:"config_digest"`
	Umbrellas      int                       `json:"umbrellas"`
	Samples        int                       `json:"samples"`
	Bins           int                       `json:"bins"`
	Seed           int64                     `json:"seed"`
	MBARIterations int                       `json:"mbar_iterations"`
	FreeEnergies   []float64                 `json:"free_energies"`
	Inefficiencies []experiment.Inefficiency `json:"inefficiencies"`
	Methods        []MethodMetadata          `json:"methods"`
}

// Curves is the content of pmf.csv: every method evaluated on one grid.
type Curves struct {
	X       []float64
	Methods []string
	F       map[string][]float64
	DF      map[string][]float64 // absent for methods without uncertainties
}

func digest(v any) (string, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8]), nil
}

func metadataFor(id string, now time.Time, res *experiment.Result) (RunMetadata, error) {
	d, err := digest(res.Config)
	if err != nil {
		return RunMetadata{}, err
	}
	meta := RunMetadata{
		ID:             id,
		Timestamp:      now,
		Suffix:         res.Config.FigSuffix,
		ConfigDigest:   d,
		Umbrellas:      len(res.FreeEnergies),
		Samples:        res.Samples,
		Bins:           res.Config.Bins,
		Seed:           res.Config.Seed,
		MBARIterations: res.MBARIterations,
		FreeEnergies:   res.FreeEnergies,
		Inefficiencies: res.Inefficiencies,
	}
	for _, mr := range res.Methods {
		mm := MethodMetadata{
			Name:        mr.Method.Name,
			Description: mr.Method.Description,
			Style:       mr.Method.Style,
			Seconds:     mr.Elapsed.Seconds(),
		}
		if mr.HasIC {
			mm.HasIC, mm.AIC, mm.BIC = true, mr.AIC, mr.BIC
		}
		if mr.PMF != nil {
			mm.Bootstraps = mr.PMF.Bootstraps()
		}
		if mr.Posterior != nil {
			mm.Sampled = true
			mm.Acceptance = mr.Posterior.Data.Acceptance
		}
		meta.Methods = append(meta.Methods, mm)
	}
	return meta, nil
}

// Save writes metadata.json, config.yaml and pmf.csv under a new run
// directory and returns the run id.
func (s *Store) Save(res *experiment.Result) (string, error) {
	now := time.Now()
	suffix := res.Config.FigSuffix
	if suffix == "" {
		suffix = "run"
	}
	runID := fmt.Sprintf("%s_%d", suffix, now.UnixNano())
	runDir := filepath.Join(s.baseDir, runID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	meta, err := metadataFor(runID, now, res)
	if err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "metadata.json"), meta); err != nil {
		return "", err
	}

	cfgData, err := yaml.Marshal(res.Config)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(runDir, "config.yaml"), cfgData, 0644); err != nil {
		return "", err
	}

	if err := writeCurves(filepath.Join(runDir, "pmf.csv"), res); err != nil {
		return "", err
	}
	return runID, nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 10, 64)
}

func writeCurves(path string, res *experiment.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{"x"}
	for _, mr := range res.Methods {
		header = append(header, mr.Method.Name+"_f")
		if mr.Curve.DF != nil {
			header = append(header, mr.Method.Name+"_df")
		}
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for i, x := range res.Grid {
		row := []string{formatFloat(x)}
		for _, mr := range res.Methods {
			row = append(row, formatFloat(mr.Curve.F[i]))
			if mr.Curve.DF != nil {
				row = append(row, formatFloat(mr.Curve.DF[i]))
			}
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

// List returns every readable run, oldest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Timestamp.Before(runs[j].Timestamp) })
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, "metadata.json"))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("storage: %s metadata: %w", runID, err)
	}
	return &meta, nil
}

// CurvesPath is the location of a run's pmf.csv.
func (s *Store) CurvesPath(runID string) string {
	return filepath.Join(s.baseDir, runID, "pmf.csv")
}

func (s *Store) LoadCurves(runID string) (*Curves, error) {
	file, err := os.Open(s.CurvesPath(runID))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("%w: %s", ErrNoCurves, runID)
	}

	header := records[0]
	c := &Curves{
		X:  make([]float64, 0, len(records)-1),
		F:  make(map[string][]float64),
		DF: make(map[string][]float64),
	}
	type column struct {
		name string
		df   bool
	}
	cols := make([]column, len(header))
	for j := 1; j < len(header); j++ {
		h := header[j]
		switch {
		case len(h) > 3 && h[len(h)-3:] == "_df":
			cols[j] = column{name: h[:len(h)-3], df: true}
		case len(h) > 2 && h[len(h)-2:] == "_f":
			cols[j] = column{name: h[:len(h)-2]}
			c.Methods = append(c.Methods, cols[j].name)
		default:
			return nil, fmt.Errorf("storage: %s: unexpected column %q", runID, h)
		}
	}

	for i, record := range records[1:] {
		vals := make([]float64, len(record))
		for j, field := range record {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("storage: %s row %d: %w", runID, i+1, err)
			}
			vals[j] = v
		}
		c.X = append(c.X, vals[0])
		for j := 1; j < len(vals); j++ {
			col := cols[j]
			if col.df {
				c.DF[col.name] = append(c.DF[col.name], vals[j])
			} else {
				c.F[col.name] = append(c.F[col.name], vals[j])
			}
		}
	}
	return c, nil
}
