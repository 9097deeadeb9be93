// internal/fractal/palette.go
package fractal

import (
	"image/color"
	"math"
)

// Palette maps an iteration count to a color. Counts that reach the
// iteration bound (points inside the set) are black.
type Palette struct {
	colors []color.RGBA
}

// NewPalette builds the palette for a given iteration bound.
func NewPalette(iterations uint32) Palette {
	colors := make([]color.RGBA, iterations+1)
	for i := uint32(0); i < iterations; i++ {
		t := float64(i) / float64(iterations)
		colors[i] = color.RGBA{
			R: channel(9 * (1 - t) * t * t * t),
			G: channel(15 * (1 - t) * (1 - t) * t * t),
			B: channel(8.5 * (1 - t) * (1 - t) * (1 - t) * t),
			A: 0xff,
		}
	}
	colors[iterations] = color.RGBA{A: 0xff}
	return Palette{colors: colors}
}

func channel(v float64) uint8 {
	return uint8(math.Round(math.Min(math.Max(v, 0), 1) * 255))
}

// Iterations is the iteration bound the palette was built for.
func (p Palette) Iterations() uint32 {
	if len(p.colors) == 0 {
		return 0
	}
	return uint32(len(p.colors) - 1)
}

// Color returns the color for an iteration count; counts above the bound clamp to it.
func (p Palette) Color(n uint32) color.RGBA {
	if int(n) >= len(p.colors) {
		return p.colors[len(p.colors)-1]
	}
	return p.colors[n]
}
