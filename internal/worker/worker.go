// internal/worker/worker.go
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"distributed-fractal/internal/metrics"
	"distributed-fractal/internal/protocol"
)

// mailboxSize leaves room for a stop message next to the one assign a worker may hold.
const mailboxSize = 4

// ErrMailboxFull is returned when a message cannot be queued for a worker.
var ErrMailboxFull = errors.New("worker mailbox is full")

// Reply sends a message from the worker back to its dispatcher.
type Reply func(msg protocol.Message)

// Worker processes assign messages one at a time and replies with results.
type Worker struct {
	id      string
	exec    Executor
	reply   Reply
	mailbox chan protocol.Message
	done    chan struct{}
	reason  protocol.ExitReason
	logger  *slog.Logger
	tracer  trace.Tracer
}

// New creates a worker. Run must be called to start it.
func New(id string, exec Executor, reply Reply, logger *slog.Logger) *Worker {
	return &Worker{
		id:      id,
		exec:    exec,
		reply:   reply,
		mailbox: make(chan protocol.Message, mailboxSize),
		done:    make(chan struct{}),
		logger:  logger.With("component", "worker", "worker_id", id, "class", exec.Class()),
		tracer:  otel.Tracer("distributed-fractal-worker"),
	}
}

func (w *Worker) ID() string { return w.id }

// Executor returns the executor the worker renders with.
func (w *Worker) Executor() Executor { return w.exec }

// Deliver queues a message without blocking.
func (w *Worker) Deliver(msg protocol.Message) error {
	select {
	case <-w.done:
		return fmt.Errorf("worker %s stopped", w.id)
	default:
	}
	select {
	case w.mailbox <- msg:
		return nil
	default:
		return fmt.Errorf("%w: %s dropped %s", ErrMailboxFull, w.id, msg.Tag())
	}
}

// Done is closed when Run returns.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Reason is why the worker stopped; valid after Done is closed.
func (w *Worker) Reason() protocol.ExitReason { return w.reason }

// Run processes the mailbox until quit, exit, a render failure or ctx cancellation.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)
	w.logger.Info("worker started")

	for {
		select {
		case <-ctx.Done():
			w.stop(protocol.ExitShutdown)
			return
		case msg := <-w.mailbox:
			switch m := msg.(type) {
			case protocol.Assign:
				if err := w.execute(ctx, m); err != nil {
					if ctx.Err() != nil {
						w.stop(protocol.ExitShutdown)
						return
					}
					w.logger.Error("render failed, worker exits", "task_id", m.TaskID, "error", err)
					w.reply(protocol.Exit{Reason: protocol.ExitRenderFailed})
					w.stop(protocol.ExitRenderFailed)
					return
				}
			case protocol.Quit:
				w.stop(protocol.ExitShutdown)
				return
			case protocol.Exit:
				w.stop(m.Reason)
				return
			default:
				w.logger.Warn("unexpected message", "tag", msg.Tag())
			}
		}
	}
}

func (w *Worker) stop(reason protocol.ExitReason) {
	w.reason = reason
	w.logger.Info("worker stopped", "reason", reason)
}

func (w *Worker) execute(ctx context.Context, m protocol.Assign) (err error) {
	task := m.Task()
	ctx, span := w.tracer.Start(ctx, "Worker.Render", trace.WithAttributes(
		attribute.Int64("task.id", int64(task.ID)),
		attribute.Int("task.width", int(task.Width)),
		attribute.Int("task.height", int(task.Height)),
		attribute.Int("task.iterations", int(task.Iterations)),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("render panicked: %v", r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "render failed")
		}
	}()

	start := time.Now()
	payload, err := w.exec.Execute(ctx, task)
	if err != nil {
		return err
	}
	metrics.RenderSeconds.WithLabelValues(w.exec.Class().String()).Observe(time.Since(start).Seconds())
	w.logger.Debug("task rendered", "task_id", task.ID, "bytes", len(payload), "duration", time.Since(start))

	w.reply(protocol.Result{
		TaskID:      task.ID,
		Payload:     payload,
		Accelerated: w.exec.Class().IsAccelerated(),
	})
	return nil
}
