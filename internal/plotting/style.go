package plotting

import (
	"image/color"
	"math"

	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

var palette = map[byte]color.Color{
	'k': color.Black,
	'b': color.RGBA{R: 31, G: 119, B: 180, A: 255},
	'g': color.RGBA{G: 128, A: 255},
	'r': color.RGBA{R: 214, G: 39, B: 40, A: 255},
	'c': color.RGBA{G: 191, B: 191, A: 255},
	'm': color.RGBA{R: 191, B: 191, A: 255},
	'y': color.RGBA{R: 191, G: 191, A: 255},
}

// lineStyle turns a colour letter plus "-" or ":" into a draw style.
// Unknown colours fall back to black.
func lineStyle(style string, width vg.Length) draw.LineStyle {
	ls := draw.LineStyle{Color: color.Black, Width: width}
	if len(style) == 0 {
		return ls
	}
	if c, ok := palette[style[0]]; ok {
		ls.Color = c
	}
	if len(style) > 1 && style[1:] == ":" {
		ls.Dashes = []vg.Length{vg.Points(1), vg.Points(2)}
	}
	return ls
}

// translucent returns c with the given alpha, premultiplied.
func translucent(c color.Color, alpha float64) color.Color {
	r, g, b, _ := c.RGBA()
	a := uint8(255 * alpha)
	scale := func(v uint32) uint8 { return uint8(float64(v>>8) * alpha) }
	return color.RGBA{R: scale(r), G: scale(g), B: scale(b), A: a}
}

// segments splits x, y at non-finite y values, since plotters reject NaN
// and Inf.
func segments(x, y []float64) []plotter.XYs {
	var out []plotter.XYs
	var cur plotter.XYs
	for i := range x {
		if math.IsNaN(y[i]) || math.IsInf(y[i], 0) {
			if len(cur) > 0 {
				out = append(out, cur)
				cur = nil
			}
			continue
		}
		cur = append(cur, plotter.XY{X: x[i], Y: y[i]})
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}
