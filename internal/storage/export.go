package storage

import (
	"encoding/json"
	"io"
	"math"
	"os"
)

type ExportCurve struct {
	Method string     `json:"method"`
	F      []*float64 `json:"f"`
	DF     []*float64 `json:"df,omitempty"`
}

type ExportData struct {
	Run    RunMetadata   `json:"run"`
	X      []float64     `json:"x"`
	Curves []ExportCurve `json:"curves"`
}

// nullable maps non-finite values to JSON null.
func nullable(vals []float64) []*float64 {
	if vals == nil {
		return nil
	}
	out := make([]*float64, len(vals))
	for i := range vals {
		if v := vals[i]; !math.IsNaN(v) && !math.IsInf(v, 0) {
			out[i] = &v
		}
	}
	return out
}

func (s *Store) exportData(runID string) (*ExportData, error) {
	meta, err := s.Load(runID)
	if err != nil {
		return nil, err
	}
	curves, err := s.LoadCurves(runID)
	if err != nil {
		return nil, err
	}
	data := &ExportData{Run: *meta, X: curves.X}
	for _, m := range curves.Methods {
		data.Curves = append(data.Curves, ExportCurve{
			Method: m,
			F:      nullable(curves.F[m]),
			DF:     nullable(curves.DF[m]),
		})
	}
	return data, nil
}

// ExportJSON writes the run's metadata and curves as indented JSON.
func (s *Store) ExportJSON(w io.Writer, runID string) error {
	data, err := s.exportData(runID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// ExportCSV copies the run's pmf.csv to w.
func (s *Store) ExportCSV(w io.Writer, runID string) error {
	f, err := os.Open(s.CurvesPath(runID))
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}
