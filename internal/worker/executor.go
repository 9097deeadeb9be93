// internal/worker/executor.go
package worker

import (
	"context"
	"fmt"

	"distributed-fractal/internal/domain"
	"distributed-fractal/internal/fractal"
	"distributed-fractal/internal/metrics"
)

// Executor renders one task into an encoded image.
type Executor interface {
	Class() domain.WorkerClass
	Execute(ctx context.Context, task domain.Task) ([]byte, error)
}

// NormalExecutor renders on the calling goroutine.
type NormalExecutor struct {
	palette fractal.Palette
}

func NewNormalExecutor() *NormalExecutor {
	return &NormalExecutor{}
}

func (e *NormalExecutor) Class() domain.WorkerClass { return domain.ClassNormal }

func (e *NormalExecutor) Execute(_ context.Context, task domain.Task) ([]byte, error) {
	if e.palette.Iterations() != task.Iterations {
		e.palette = fractal.NewPalette(task.Iterations)
	}
	img, err := fractal.Render(task, e.palette)
	if err != nil {
		return nil, fmt.Errorf("failed to render task %d: %w", task.ID, err)
	}
	return fractal.Encode(img)
}

type kernelKey struct {
	width      uint32
	height     uint32
	iterations uint32
}

// kernelCache holds the one kernel compiled for the last image shape.
type kernelCache struct {
	key      kernelKey
	kernel   *fractal.Kernel
	compiles int
}

func (c *kernelCache) get(p *fractal.Program, key kernelKey) (*fractal.Kernel, error) {
	if c.kernel != nil && c.key == key {
		return c.kernel, nil
	}
	k, err := p.Compile(key.width, key.height, key.iterations)
	if err != nil {
		c.kernel = nil
		return nil, err
	}
	c.key = key
	c.kernel = k
	c.compiles++
	metrics.KernelCompilesTotal.Inc()
	return k, nil
}

// AcceleratedExecutor runs tasks on a compiled kernel and recompiles only
// when the image shape changes.
type AcceleratedExecutor struct {
	program *fractal.Program
	cache   kernelCache
}

func NewAcceleratedExecutor(program *fractal.Program) *AcceleratedExecutor {
	return &AcceleratedExecutor{program: program}
}

func (e *AcceleratedExecutor) Class() domain.WorkerClass { return domain.ClassAccelerated }

// Compiles is the number of kernel compilations so far.
func (e *AcceleratedExecutor) Compiles() int { return e.cache.compiles }

func (e *AcceleratedExecutor) Execute(ctx context.Context, task domain.Task) ([]byte, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}
	k, err := e.cache.get(e.program, kernelKey{width: task.Width, height: task.Height, iterations: task.Iterations})
	if err != nil {
		return nil, fmt.Errorf("failed to compile kernel for device %d: %w", e.program.Device(), err)
	}

	select {
	case res := <-k.Run(ctx, task):
		if res.Err != nil {
			return nil, fmt.Errorf("kernel run for task %d failed: %w", task.ID, res.Err)
		}
		return fractal.Encode(res.Image)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
