// internal/fractal/program.go
package fractal

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime"
	"sync"

	"distributed-fractal/internal/domain"
)

// Program builds kernels for a compute device. A kernel is bound to one
// (width, height, iterations) shape, like a compiled GPU program with its
// palette and output buffers.
type Program struct {
	device uint32
	lanes  int
}

// NewProgram creates a program for the given device. lanes <= 0 uses one lane per CPU.
func NewProgram(device uint32, lanes int) *Program {
	if lanes <= 0 {
		lanes = runtime.NumCPU()
	}
	return &Program{device: device, lanes: lanes}
}

// Device is the device id the program targets.
func (p *Program) Device() uint32 { return p.device }

// Compile builds a kernel for one image shape.
func (p *Program) Compile(width, height, iterations uint32) (*Kernel, error) {
	if width == 0 || height == 0 || iterations == 0 {
		return nil, fmt.Errorf("cannot compile kernel for %dx%d with %d iterations", width, height, iterations)
	}
	lanes := p.lanes
	if lanes > int(height) {
		lanes = int(height)
	}
	return &Kernel{
		width:      width,
		height:     height,
		iterations: iterations,
		lanes:      lanes,
		palette:    NewPalette(iterations),
		counts:     make([]uint32, int(width)*int(height)),
	}, nil
}

// Kernel renders images of one shape. Runs must not overlap.
type Kernel struct {
	width      uint32
	height     uint32
	iterations uint32
	lanes      int
	palette    Palette
	counts     []uint32
}

// KernelResult is what a kernel run delivers.
type KernelResult struct {
	Image *image.RGBA
	Err   error
}

// ErrShapeMismatch is returned when a task does not match the compiled kernel.
var ErrShapeMismatch = errors.New("task does not match kernel shape")

// Matches reports whether the kernel was compiled for this shape.
func (k *Kernel) Matches(width, height, iterations uint32) bool {
	return k.width == width && k.height == height && k.iterations == iterations
}

// Run starts rendering the task asynchronously; the result arrives on the returned channel.
func (k *Kernel) Run(ctx context.Context, t domain.Task) <-chan KernelResult {
	out := make(chan KernelResult, 1)
	if !k.Matches(t.Width, t.Height, t.Iterations) {
		out <- KernelResult{Err: fmt.Errorf("%w: task %d is %dx%d/%d, kernel is %dx%d/%d", ErrShapeMismatch,
			t.ID, t.Width, t.Height, t.Iterations, k.width, k.height, k.iterations)}
		return out
	}

	go func() {
		m := newMapper(k.width, k.height, t.Box)
		w := int(k.width)

		var wg sync.WaitGroup
		for lane := 0; lane < k.lanes; lane++ {
			wg.Add(1)
			go func(lane int) {
				defer wg.Done()
				// interleaved rows keep lanes balanced around the set
				for y := lane; y < int(k.height); y += k.lanes {
					if ctx.Err() != nil {
						return
					}
					cIm := m.im(y)
					row := k.counts[y*w : (y+1)*w]
					for x := range row {
						row[x] = Escape(m.re(x), cIm, k.iterations)
					}
				}
			}(lane)
		}
		wg.Wait()

		if err := ctx.Err(); err != nil {
			out <- KernelResult{Err: err}
			return
		}
		img := image.NewRGBA(image.Rect(0, 0, w, int(k.height)))
		for i, n := range k.counts {
			img.SetRGBA(i%w, i/w, k.palette.Color(n))
		}
		out <- KernelResult{Image: img}
	}()
	return out
}
