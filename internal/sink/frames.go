// internal/sink/frames.go
package sink

import (
	"image"
	"log/slog"
	"sort"
	"sync"

	"distributed-fractal/internal/domain"
	"distributed-fractal/internal/fractal"
)

// FramesName is the init name of the in-memory sink.
const FramesName = "frames"

// FrameStore keeps the encoded images in memory for the HTTP API.
type FrameStore struct {
	logger *slog.Logger

	mu     sync.RWMutex
	frames map[uint32][]byte
	total  uint32
	done   bool
}

var _ domain.DisplaySink = (*FrameStore)(nil)

// NewFrameStore creates an empty store.
func NewFrameStore(logger *slog.Logger) *FrameStore {
	return &FrameStore{
		logger: logger.With("component", "frame-store"),
		frames: make(map[uint32][]byte),
	}
}

func (s *FrameStore) Name() string { return FramesName }

func (s *FrameStore) Deliver(taskID uint32, img image.Image) error {
	b, err := fractal.Encode(img)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.frames[taskID] = b
	s.mu.Unlock()
	return nil
}

func (s *FrameStore) Done(total uint32) {
	s.mu.Lock()
	s.total = total
	s.done = true
	s.mu.Unlock()
	s.logger.Info("frame sequence complete", "total", total)
}

// Frame returns the PNG bytes of a task.
func (s *FrameStore) Frame(taskID uint32) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.frames[taskID]
	return b, ok
}

// FrameIDs lists the stored task ids in ascending order.
func (s *FrameStore) FrameIDs() []uint32 {
	s.mu.RLock()
	ids := make([]uint32, 0, len(s.frames))
	for id := range s.frames {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Complete reports whether the sequence finished and its total.
func (s *FrameStore) Complete() (uint32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total, s.done
}
