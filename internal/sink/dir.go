// internal/sink/dir.go
package sink

import (
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"

	"distributed-fractal/internal/domain"
	"distributed-fractal/internal/fractal"
)

// HeadlessName is the init name of the directory sink.
const HeadlessName = "headless"

// DirSink writes every image to its own file in a directory.
type DirSink struct {
	dir     string
	written int
	done    chan struct{}
	logger  *slog.Logger
}

var _ domain.DisplaySink = (*DirSink)(nil)

// NewDirSink creates dir if needed.
func NewDirSink(dir string, logger *slog.Logger) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}
	return &DirSink{
		dir:    dir,
		done:   make(chan struct{}),
		logger: logger.With("component", "dir-sink", "dir", dir),
	}, nil
}

func (s *DirSink) Name() string { return HeadlessName }

// Deliver writes img as <dir>/<id>.png, id zero-padded to four digits.
func (s *DirSink) Deliver(taskID uint32, img image.Image) error {
	b, err := fractal.Encode(img)
	if err != nil {
		return err
	}
	path := filepath.Join(s.dir, fractal.FileName(taskID))
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	s.written++
	return nil
}

func (s *DirSink) Done(total uint32) {
	s.logger.Info("all images written", "total", total, "written", s.written)
	close(s.done)
}

// Finished is closed after Done.
func (s *DirSink) Finished() <-chan struct{} { return s.done }
