package umbrella

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// KB is the Boltzmann constant in kJ/mol/K.
const KB = 1.381e-23 * 6.022e23 / 1000.0

var ErrTooFewCenters = errors.New("umbrella: centers file has fewer lines than umbrellas")

// ParseError locates a malformed input line.
type ParseError struct {
	File string
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.File, e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Window is a single harmonic umbrella restraint.
type Window struct {
	Center      float64 // deg
	Spring      float64 // kJ/mol/deg^2
	Temperature float64 // K
	Beta        float64 // 1/(kJ/mol)
}

// ReadCenters parses n umbrella definitions. n <= 0 reads every non-empty
// line. Spring constants are converted from kJ/mol/rad^2 to kJ/mol/deg^2.
func ReadCenters(r io.Reader, name string, n int, temperature float64) ([]Window, error) {
	var windows []Window
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		if n > 0 && len(windows) == n {
			break
		}
		tokens := strings.Fields(sc.Text())
		if len(tokens) == 0 {
			continue
		}
		if len(tokens) < 2 {
			return nil, &ParseError{File: name, Line: line, Err: fmt.Errorf("expected at least 2 columns, got %d", len(tokens))}
		}
		vals, err := parseFloats(tokens)
		if err != nil {
			return nil, &ParseError{File: name, Line: line, Err: err}
		}
		w := Window{
			Center:      vals[0],
			Spring:      vals[1] * (math.Pi / 180) * (math.Pi / 180),
			Temperature: temperature,
		}
		if len(vals) > 2 {
			w.Temperature = vals[2]
		}
		if w.Temperature <= 0 {
			return nil, &ParseError{File: name, Line: line, Err: fmt.Errorf("temperature must be positive, got %g", w.Temperature)}
		}
		w.Beta = 1.0 / (KB * w.Temperature)
		windows = append(windows, w)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if n > 0 && len(windows) < n {
		return nil, fmt.Errorf("%w: want %d, got %d", ErrTooFewCenters, n, len(windows))
	}
	return windows, nil
}

// ReadXVG returns the numeric rows of an xvg file.
func ReadXVG(r io.Reader, name string) ([][]float64, error) {
	var rows [][]float64
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if len(text) == 0 || text[0] == '#' || text[0] == '@' {
			continue
		}
		tokens := strings.Fields(text)
		if len(tokens) == 0 {
			continue
		}
		vals, err := parseFloats(tokens)
		if err != nil {
			return nil, &ParseError{File: name, Line: line, Err: err}
		}
		rows = append(rows, vals)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

// Column extracts column c from rows, failing on short rows.
func Column(rows [][]float64, c int, name string) ([]float64, error) {
	out := make([]float64, len(rows))
	for i, row := range rows {
		if c >= len(row) {
			return nil, fmt.Errorf("%s: row %d has %d columns, need %d", name, i, len(row), c+1)
		}
		out[i] = row[c]
	}
	return out, nil
}

// WrapDegrees maps an angle into [-180, +180).
func WrapDegrees(chi float64) float64 {
	for chi < -180.0 {
		chi += 360.0
	}
	for chi >= 180.0 {
		chi -= 360.0
	}
	return chi
}

// MinimumImage folds a torsion difference so that |d| <= 180.
// The sign is dropped for folded values; only d^2 is ever used.
func MinimumImage(d float64) float64 {
	if math.Abs(d) > 180.0 {
		return 360.0 - math.Abs(d)
	}
	return d
}

func parseFloats(tokens []string) ([]float64, error) {
	vals := make([]float64, len(tokens))
	for i, tok := range tokens {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, fmt.Errorf("column %d: %w", i+1, err)
		}
		vals[i] = v
	}
	return vals, nil
}
