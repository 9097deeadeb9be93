// internal/fractal/kernel.go
package fractal

import (
	"fmt"
	"image"

	"distributed-fractal/internal/domain"
)

// Escape runs z = z*z + c starting at z = c and returns the number of
// iterations performed, in [1, iterations]. It stops once |z|^2 > 4.
func Escape(cRe, cIm float32, iterations uint32) uint32 {
	zRe, zIm := cRe, cIm
	var n uint32
	for {
		re := zRe*zRe - zIm*zIm + cRe
		im := 2*zRe*zIm + cIm
		zRe, zIm = re, im
		n++
		if n >= iterations || zRe*zRe+zIm*zIm > 4 {
			return n
		}
	}
}

// mapper turns pixel coordinates into points of the complex plane.
// Pixels are sampled at their centers, row 0 is the top of the box.
type mapper struct {
	minRe, maxIm float32
	reStep       float32
	imStep       float32
}

func newMapper(width, height uint32, box domain.BoundingBox) mapper {
	return mapper{
		minRe:  box.MinRe,
		maxIm:  box.MaxIm,
		reStep: (box.MaxRe - box.MinRe) / float32(width),
		imStep: (box.MaxIm - box.MinIm) / float32(height),
	}
}

func (m mapper) re(x int) float32 { return m.minRe + (float32(x)+0.5)*m.reStep }
func (m mapper) im(y int) float32 { return m.maxIm - (float32(y)+0.5)*m.imStep }

// Render computes the image of a task on the calling goroutine.
func Render(t domain.Task, p Palette) (*image.RGBA, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if p.Iterations() != t.Iterations {
		return nil, fmt.Errorf("palette built for %d iterations, task %d needs %d", p.Iterations(), t.ID, t.Iterations)
	}

	w, h := int(t.Width), int(t.Height)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	m := newMapper(t.Width, t.Height, t.Box)
	for y := 0; y < h; y++ {
		cIm := m.im(y)
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, p.Color(Escape(m.re(x), cIm, t.Iterations)))
		}
	}
	return img, nil
}
