package viz

import (
	"fmt"
	"math"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/mbarpmf/internal/storage"
)

// Source is the part of the run store the viewer reads.
type Source interface {
	List() ([]storage.RunMetadata, error)
	LoadCurves(runID string) (*storage.Curves, error)
}

const (
	stateRuns = iota
	stateCurve
)

type Viewer struct {
	src    Source
	runs   []storage.RunMetadata
	cursor int
	state  int

	run      *storage.RunMetadata
	curves   *storage.Curves
	method   int
	envelope bool
	err      error

	theme         Theme
	st            styles
	width, height int
}

// NewViewer lists the stored runs. A non-empty runID opens that run
// directly.
func NewViewer(src Source, runID string) (*Viewer, error) {
	runs, err := src.List()
	if err != nil {
		return nil, err
	}
	v := &Viewer{
		src:   src,
		runs:  runs,
		theme: ThemeOcean,
		st:    stylesFor(ThemeOcean),
		width: 80, height: 24,
	}
	if runID == "" {
		return v, nil
	}
	for i, r := range runs {
		if r.ID == runID {
			v.cursor = i
			if err := v.open(); err != nil {
				return nil, err
			}
			return v, nil
		}
	}
	return nil, fmt.Errorf("run not found: %s", runID)
}

// Run starts the program on the terminal.
func Run(src Source, runID string) error {
	v, err := NewViewer(src, runID)
	if err != nil {
		return err
	}
	_, err = tea.NewProgram(v, tea.WithAltScreen()).Run()
	return err
}

func (v *Viewer) open() error {
	if len(v.runs) == 0 {
		return nil
	}
	run := v.runs[v.cursor]
	curves, err := v.src.LoadCurves(run.ID)
	if err != nil {
		return err
	}
	v.run, v.curves, v.method, v.state = &run, curves, 0, stateCurve
	return nil
}

func (v *Viewer) Init() tea.Cmd { return nil }

func (v *Viewer) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		v.width, v.height = msg.Width, msg.Height
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return v, tea.Quit
		case "t":
			v.theme = NextTheme(v.theme)
			v.st = stylesFor(v.theme)
			return v, nil
		}
		if v.state == stateRuns {
			v.runsKey(msg)
		} else {
			v.curveKey(msg)
		}
	}
	return v, nil
}

func (v *Viewer) runsKey(msg tea.KeyMsg) {
	switch msg.String() {
	case "up", "k":
		if v.cursor > 0 {
			v.cursor--
		}
	case "down", "j":
		if v.cursor < len(v.runs)-1 {
			v.cursor++
		}
	case "enter":
		v.err = v.open()
	}
}

func (v *Viewer) curveKey(msg tea.KeyMsg) {
	n := len(v.curves.Methods)
	switch msg.String() {
	case "right", "l":
		if n > 0 {
			v.method = (v.method + 1) % n
		}
	case "left", "h":
		if n > 0 {
			v.method = (v.method - 1 + n) % n
		}
	case "e":
		v.envelope = !v.envelope
	case "esc", "backspace":
		v.state = stateRuns
	}
}

// Method is the name of the method on screen, or "".
func (v *Viewer) Method() string {
	if v.curves == nil || len(v.curves.Methods) == 0 {
		return ""
	}
	return v.curves.Methods[v.method]
}

func (v *Viewer) View() string {
	if v.state == stateCurve {
		return v.curveView()
	}
	return v.runsView()
}

func (v *Viewer) runsView() string {
	var b strings.Builder
	b.WriteString(v.st.title.Render("Stored runs") + "\n\n")
	if len(v.runs) == 0 {
		b.WriteString(v.st.subtle.Render("  no runs found") + "\n")
	}
	for i, r := range v.runs {
		line := fmt.Sprintf("%-32s %s  %d methods", r.ID, r.Timestamp.Format("2006-01-02 15:04"), len(r.Methods))
		if i == v.cursor {
			b.WriteString("  " + v.st.selected.Render("▸ "+line) + "\n")
		} else {
			b.WriteString("    " + v.st.subtle.Render(line) + "\n")
		}
	}
	if v.err != nil {
		b.WriteString("\n" + v.st.selected.Render(v.err.Error()) + "\n")
	}
	b.WriteString("\n" + v.st.keyHint.Render("j/k navigate  enter open  t theme  q quit"))
	return v.st.panel.Render(b.String())
}

func gaps(vals []float64) []float64 {
	out := make([]float64, len(vals))
	for i, f := range vals {
		if math.IsInf(f, 0) {
			f = math.NaN()
		}
		out[i] = f
	}
	return out
}

func (v *Viewer) chart(name string, width, height int) string {
	f := gaps(v.curves.F[name])
	finite := false
	for _, x := range f {
		if !math.IsNaN(x) {
			finite = true
			break
		}
	}
	if !finite {
		return v.st.subtle.Render("no finite values")
	}
	series := [][]float64{f}
	if df, ok := v.curves.DF[name]; ok && v.envelope {
		hi := make([]float64, len(f))
		lo := make([]float64, len(f))
		for i := range f {
			hi[i], lo[i] = f[i]+df[i], f[i]-df[i]
		}
		series = append(series, gaps(hi), gaps(lo))
	}
	return asciigraph.PlotMany(series,
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.Caption(fmt.Sprintf("PMF (kT) vs torsion, %s", name)),
	)
}

func (v *Viewer) curveView() string {
	name := v.Method()
	var b strings.Builder
	b.WriteString(v.st.title.Render(v.run.ID) + "  ")
	b.WriteString(v.st.selected.Render(name))
	if meta := v.methodMeta(name); meta != nil {
		b.WriteString("  " + v.st.subtle.Render(meta.Description))
	}
	b.WriteString("\n\n")

	if name != "" {
		w := max(v.width-20, 20)
		h := max(v.height-16, 6)
		b.WriteString(v.chart(name, w, h) + "\n\n")
	}

	row := func(label, value string) {
		b.WriteString(v.st.label.Render(label) + v.st.value.Render(value) + "\n")
	}
	row("samples", fmt.Sprintf("%d in %d umbrellas", v.run.Samples, v.run.Umbrellas))
	if meta := v.methodMeta(name); meta != nil {
		row("time", fmt.Sprintf("%.3fs", meta.Seconds))
		if meta.HasIC {
			row("AIC / BIC", fmt.Sprintf("%.2f / %.2f", meta.AIC, meta.BIC))
		}
		if meta.Sampled {
			row("posterior", fmt.Sprintf("acceptance %.2f", meta.Acceptance))
		}
	}
	g := make([]float64, len(v.run.Inefficiencies))
	for i, in := range v.run.Inefficiencies {
		g[i] = in.G
	}
	if len(g) > 0 {
		row("g/umbrella", SparklineChart(g, len(g)))
	}

	b.WriteString("\n" + v.st.keyHint.Render("←/→ method  e envelope  t theme  esc runs  q quit"))
	return lipgloss.JoinVertical(lipgloss.Left, v.st.panel.Render(b.String()))
}

func (v *Viewer) methodMeta(name string) *storage.MethodMetadata {
	for i := range v.run.Methods {
		if v.run.Methods[i].Name == name {
			return &v.run.Methods[i]
		}
	}
	return nil
}
