// internal/worker/local.go
package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"distributed-fractal/internal/domain"
	"distributed-fractal/internal/master"
	"distributed-fractal/internal/protocol"
)

// LocalHandle is an in-process worker seen through the master.Handle interface.
type LocalHandle struct {
	id     string
	worker *Worker
	cancel context.CancelFunc
	once   sync.Once
	logger *slog.Logger
}

var _ master.Handle = (*LocalHandle)(nil)

// StartLocal starts a worker in this process and registers it with inbox.
// When the worker stops for any reason, inbox receives WorkerGone.
func StartLocal(ctx context.Context, exec Executor, inbox master.Inbox, logger *slog.Logger) *LocalHandle {
	ctx, cancel := context.WithCancel(ctx)
	h := &LocalHandle{
		id:     "local-" + uuid.NewString(),
		cancel: cancel,
		logger: logger.With("component", "local-handle"),
	}
	h.worker = New(h.id, exec, func(msg protocol.Message) {
		switch m := msg.(type) {
		case protocol.Result:
			inbox.Result(h, m.TaskID, m.Payload)
		case protocol.Exit:
			// reported through the watcher below
		default:
			inbox.Unexpected(h, m)
		}
	}, logger)

	inbox.Register(h)
	go h.worker.Run(ctx)
	go func() {
		<-h.worker.Done()
		inbox.WorkerGone(h)
	}()
	return h
}

func (h *LocalHandle) ID() string { return h.id }

func (h *LocalHandle) Class() domain.WorkerClass { return h.worker.exec.Class() }

// Send queues msg in the worker mailbox without blocking.
func (h *LocalHandle) Send(msg protocol.Message) {
	if err := h.worker.Deliver(msg); err != nil {
		h.logger.Warn("failed to deliver message to local worker", "worker", h.id, "error", err)
	}
}

// Close stops the worker.
func (h *LocalHandle) Close() {
	h.once.Do(h.cancel)
}

// Done is closed once the worker stopped.
func (h *LocalHandle) Done() <-chan struct{} { return h.worker.Done() }
