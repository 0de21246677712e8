package viz

import (
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

type styles struct {
	panel    lipgloss.Style
	title    lipgloss.Style
	selected lipgloss.Style
	label    lipgloss.Style
	value    lipgloss.Style
	subtle   lipgloss.Style
	keyHint  lipgloss.Style
}

func stylesFor(t Theme) styles {
	return styles{
		panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(t.Border).
			Padding(1, 2),
		title:    lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		selected: lipgloss.NewStyle().Bold(true).Foreground(t.Accent),
		label:    lipgloss.NewStyle().Foreground(t.Muted).Width(12),
		value:    lipgloss.NewStyle().Foreground(t.Text),
		subtle:   lipgloss.NewStyle().Foreground(t.Muted),
		keyHint:  lipgloss.NewStyle().Foreground(t.Muted).Italic(true),
	}
}

// SparklineChart renders a mini sparkline from values, resampled to width.
// Non-finite values render as spaces.
func SparklineChart(values []float64, width int) string {
	if len(values) == 0 || width <= 0 {
		return strings.Repeat("─", max(width, 0))
	}

	chars := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	rng := hi - lo
	if rng == 0 || math.IsInf(rng, 0) {
		rng = 1
	}

	step := len(values) / width
	if step < 1 {
		step = 1
	}

	var b strings.Builder
	for i, n := 0, 0; i < len(values) && n < width; i, n = i+step, n+1 {
		v := values[i]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			b.WriteRune(' ')
			continue
		}
		idx := int((v - lo) / rng * float64(len(chars)-1))
		b.WriteRune(chars[idx])
	}
	return b.String()
}
