// internal/stream/stream.go
package stream

import (
	"errors"
	"fmt"
	"math"

	"distributed-fractal/internal/domain"
)

// Default view of the first frame and the point the sequence zooms into.
var (
	DefaultBox = domain.BoundingBox{MinRe: -1.9, MaxRe: 1.0, MinIm: -1.3, MaxIm: 1.3}

	DefaultCenterRe = -0.743643887
	DefaultCenterIm = 0.131825904
)

// Config describes the frame sequence a RequestStream produces.
type Config struct {
	Width      uint32
	Height     uint32
	Iterations uint32
	// TilesX x TilesY tiles per frame, emitted in row-major order.
	TilesX uint32
	TilesY uint32
	Frames uint32
	// Zoom is the per-frame scale factor of the view, in (0, 1].
	Zoom     float64
	CenterRe float64
	CenterIm float64
	Box      domain.BoundingBox
	// FirstID is the id of the first task.
	FirstID uint32
}

// DefaultConfig returns a single-tile sequence of frames over the default view.
func DefaultConfig(width, height, iterations, frames uint32) Config {
	return Config{
		Width:      width,
		Height:     height,
		Iterations: iterations,
		TilesX:     1,
		TilesY:     1,
		Frames:     frames,
		Zoom:       0.9,
		CenterRe:   DefaultCenterRe,
		CenterIm:   DefaultCenterIm,
		Box:        DefaultBox,
	}
}

// Validate rejects sequences that cannot be produced.
func (c Config) Validate() error {
	switch {
	case c.Width == 0 || c.Height == 0:
		return errors.New("canvas size cannot be zero")
	case c.Iterations == 0:
		return errors.New("iterations cannot be zero")
	case c.Frames == 0:
		return errors.New("frames cannot be zero")
	case c.TilesX == 0 || c.TilesY == 0:
		return errors.New("tile grid cannot be zero")
	case c.TilesX > c.Width || c.TilesY > c.Height:
		return fmt.Errorf("tile grid %dx%d exceeds canvas %dx%d", c.TilesX, c.TilesY, c.Width, c.Height)
	case c.Zoom <= 0 || c.Zoom > 1:
		return fmt.Errorf("zoom %v must be in (0, 1]", c.Zoom)
	case c.Box.MinRe >= c.Box.MaxRe || c.Box.MinIm >= c.Box.MaxIm:
		return fmt.Errorf("bounding box %+v is degenerate", c.Box)
	}
	total := uint64(c.Frames) * uint64(c.TilesX) * uint64(c.TilesY)
	if total > math.MaxUint32 || uint64(c.FirstID)+total > math.MaxUint32+1 {
		return fmt.Errorf("%d tasks starting at id %d overflow the id space", total, c.FirstID)
	}
	return nil
}

// RequestStream produces the tasks of a run exactly once, in ascending id order.
// It is not safe for concurrent use; the coordinator owns it.
type RequestStream struct {
	cfg      Config
	perFrame uint32
	total    uint32
	cursor   uint32
}

// New creates a stream positioned before its first task.
func New(cfg Config) (*RequestStream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request stream config: %w", err)
	}
	perFrame := cfg.TilesX * cfg.TilesY
	return &RequestStream{
		cfg:      cfg,
		perFrame: perFrame,
		total:    cfg.Frames * perFrame,
	}, nil
}

// Total is the number of tasks the stream produces over its lifetime.
func (s *RequestStream) Total() uint32 { return s.total }

// Remaining is the number of tasks not yet produced.
func (s *RequestStream) Remaining() uint32 { return s.total - s.cursor }

// Exhausted reports whether every task has been produced.
func (s *RequestStream) Exhausted() bool { return s.cursor >= s.total }

// Next returns the next task, or false once the stream is exhausted.
func (s *RequestStream) Next() (domain.Task, bool) {
	if s.Exhausted() {
		return domain.Task{}, false
	}
	idx := s.cursor
	s.cursor++

	frame := idx / s.perFrame
	tile := idx % s.perFrame
	col := tile % s.cfg.TilesX
	row := tile / s.cfg.TilesX

	view := s.frameBox(frame)
	x0, x1 := span(col, s.cfg.TilesX, s.cfg.Width)
	y0, y1 := span(row, s.cfg.TilesY, s.cfg.Height)

	reSpan := float64(view.MaxRe - view.MinRe)
	imSpan := float64(view.MaxIm - view.MinIm)
	w, h := float64(s.cfg.Width), float64(s.cfg.Height)

	return domain.Task{
		ID:         s.cfg.FirstID + idx,
		Width:      x1 - x0,
		Height:     y1 - y0,
		Iterations: s.cfg.Iterations,
		Box: domain.BoundingBox{
			MinRe: float32(float64(view.MinRe) + reSpan*float64(x0)/w),
			MaxRe: float32(float64(view.MinRe) + reSpan*float64(x1)/w),
			// row 0 is the top of the image
			MinIm: float32(float64(view.MaxIm) - imSpan*float64(y1)/h),
			MaxIm: float32(float64(view.MaxIm) - imSpan*float64(y0)/h),
		},
	}, true
}

// frameBox scales the initial view towards the zoom center.
func (s *RequestStream) frameBox(frame uint32) domain.BoundingBox {
	k := math.Pow(s.cfg.Zoom, float64(frame))
	b := s.cfg.Box
	scale := func(v float32, c float64) float32 {
		return float32(c + (float64(v)-c)*k)
	}
	return domain.BoundingBox{
		MinRe: scale(b.MinRe, s.cfg.CenterRe),
		MaxRe: scale(b.MaxRe, s.cfg.CenterRe),
		MinIm: scale(b.MinIm, s.cfg.CenterIm),
		MaxIm: scale(b.MaxIm, s.cfg.CenterIm),
	}
}

// span returns the pixel range [from, to) of tile i out of n over size pixels.
// Edge tiles absorb the remainder.
func span(i, n, size uint32) (uint32, uint32) {
	step := size / n
	from := i * step
	if i == n-1 {
		return from, size
	}
	return from, from + step
}
