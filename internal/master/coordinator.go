// internal/master/coordinator.go
package master

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

	"distributed-fractal/internal/domain"
	"distributed-fractal/internal/fractal"
	"distributed-fractal/internal/metrics"
	"distributed-fractal/internal/protocol"
)

// State is the lifecycle state of a coordinator run.
type State int

const (
	// StateAwaitingInit holds assignments back until a display sink is named.
	StateAwaitingInit State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateAwaitingInit:
		return "awaiting_init"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// TaskSource is the finite task sequence a run works through.
type TaskSource interface {
	Next() (domain.Task, bool)
	Total() uint32
	Remaining() uint32
	Exhausted() bool
}

// Config holds the coordinator settings.
type Config struct {
	Interval       time.Duration
	DrainTimeout   time.Duration
	MaxNormal      int
	MaxAccelerated int
	// QueueSize is the capacity of the inbound event queue.
	QueueSize int
}

// Status is a snapshot of a run.
type Status struct {
	State     string    `json:"state"`
	Sink      string    `json:"sink,omitempty"`
	Completed uint32    `json:"completed"`
	Total     uint32    `json:"total"`
	InFlight  int       `json:"in_flight"`
	Requeued  int       `json:"requeued"`
	Pending   uint32    `json:"pending"`
	Pool      PoolStats `json:"pool"`
}

var _ Inbox = (*Coordinator)(nil)

type event interface{ kind() string }

type registerEvent struct{ h Handle }

type resultEvent struct {
	h       Handle
	taskID  uint32
	payload []byte
}

type goneEvent struct{ h Handle }

type initEvent struct{ sink string }

type limitEvent struct {
	class domain.WorkerClass
	limit int
	reply chan int
}

type statsEvent struct{ reply chan Status }

type shutdownEvent struct{}

type unexpectedEvent struct {
	h   Handle
	msg protocol.Message
}

func (registerEvent) kind() string { return "register" }
func (resultEvent) kind() string { return "result" }
func (goneEvent) kind() string { return "worker_gone" }
func (initEvent) kind() string { return "init" }
func (limitEvent) kind() string { return "limit" }
func (statsEvent) kind() string { return "stats" }
func (shutdownEvent) kind() string { return "shutdown" }
func (unexpectedEvent) kind() string { return "unexpected" }

// Coordinator owns the worker pool, the job tracker and the task source, and
// mutates them from its Run goroutine only. Every other goroutine talks to it
// through the event queue.
type Coordinator struct {
	cfg    Config
	pool   *WorkerPool
	jobs   *JobTracker
	source TaskSource
	// retry holds tasks of disconnected workers; served before the source.
	retry []domain.Task

	sinks map[string]domain.DisplaySink
	sink  domain.DisplaySink

	state     State
	completed uint32
	drainC    <-chan time.Time

	events  chan event
	done    chan struct{}
	stopped chan struct{}

	logger *slog.Logger
	tracer trace.Tracer
}

// NewCoordinator creates a coordinator in the AwaitingInit state. sinks are
// the display sinks an init message may name.
func NewCoordinator(cfg Config, source TaskSource, sinks []domain.DisplaySink, logger *slog.Logger) *Coordinator {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 50 * time.Millisecond
	}
	byName := make(map[string]domain.DisplaySink, len(sinks))
	for _, s := range sinks {
		byName[s.Name()] = s
	}
	return &Coordinator{
		cfg:     cfg,
		pool:    NewWorkerPool(cfg.MaxNormal, cfg.MaxAccelerated),
		jobs:    NewJobTracker(),
		source:  source,
		sinks:   byName,
		events:  make(chan event, cfg.QueueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		logger:  logger.With("component", "coordinator"),
		tracer:  otel.Tracer("distributed-fractal-coordinator"),
	}
}

// Done is closed once every task of the source has a result.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Stopped is closed when the coordinator reaches the Stopped state.
func (c *Coordinator) Stopped() <-chan struct{} { return c.stopped }

// Register announces a new worker.
func (c *Coordinator) Register(h Handle) { c.post(registerEvent{h: h}) }

// Result delivers the reply of a worker.
func (c *Coordinator) Result(h Handle, taskID uint32, payload []byte) {
	c.post(resultEvent{h: h, taskID: taskID, payload: payload})
}

// WorkerGone reports that a worker disconnected or stopped.
func (c *Coordinator) WorkerGone(h Handle) { c.post(goneEvent{h: h}) }

// Init names the display sink and starts assigning.
func (c *Coordinator) Init(sink string) { c.post(initEvent{sink: sink}) }

// Unexpected reports a message a transport could not route.
func (c *Coordinator) Unexpected(h Handle, msg protocol.Message) {
	c.post(unexpectedEvent{h: h, msg: msg})
}

// UpdateLimit changes the limit of a class without waiting for it to apply.
func (c *Coordinator) UpdateLimit(class domain.WorkerClass, limit int) {
	c.post(limitEvent{class: class, limit: limit})
}

// SetLimit changes the limit of a class and returns the clamped value applied.
func (c *Coordinator) SetLimit(ctx context.Context, class domain.WorkerClass, limit int) (int, error) {
	reply := make(chan int, 1)
	if err := c.postWait(ctx, limitEvent{class: class, limit: limit, reply: reply}); err != nil {
		return 0, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-c.stopped:
		return 0, domain.ErrStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Stats returns a snapshot taken by the coordinator goroutine.
func (c *Coordinator) Stats(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	if err := c.postWait(ctx, statsEvent{reply: reply}); err != nil {
		return Status{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-c.stopped:
		return Status{}, domain.ErrStopped
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// Shutdown starts draining: no new assignments, in-flight work gets DrainTimeout to finish.
func (c *Coordinator) Shutdown() { c.post(shutdownEvent{}) }

func (c *Coordinator) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.stopped:
	}
}

func (c *Coordinator) postWait(ctx context.Context, ev event) error {
	select {
	case c.events <- ev:
		return nil
	case <-c.stopped:
		return domain.ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes events one at a time until the coordinator stops or ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("coordinator started", "interval", c.cfg.Interval, "total_tasks", c.source.Total(),
		"max_normal", c.cfg.MaxNormal, "max_accelerated", c.cfg.MaxAccelerated)

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.stop("context cancelled")
			return ctx.Err()
		case ev := <-c.events:
			c.handle(ctx, ev)
			c.observe()
		case <-ticker.C:
			if c.onTick(ctx) > 0 {
				c.observe()
			}
		case <-c.drainC:
			c.logger.Warn("drain timeout elapsed", "in_flight", c.jobs.Len())
			c.stop("drain timeout")
		}

		if c.state == StateDraining && c.jobs.Len() == 0 {
			c.stop("drained")
		}
		if c.state == StateStopped {
			return nil
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, ev event) {
	switch ev := ev.(type) {
	case registerEvent:
		c.onRegister(ctx, ev.h)
	case resultEvent:
		c.onResult(ctx, ev.h, ev.taskID, ev.payload)
	case goneEvent:
		c.onWorkerGone(ev.h)
	case initEvent:
		c.onInit(ev.sink)
	case limitEvent:
		applied := c.onLimitUpdate(ev.class, ev.limit)
		if ev.reply != nil {
			ev.reply <- applied
		}
	case statsEvent:
		ev.reply <- c.status()
	case shutdownEvent:
		c.onShutdown()
	case unexpectedEvent:
		c.unexpected(ev.msg.Tag().String(), "unexpected message", "worker", handleID(ev.h), "tag", ev.msg.Tag())
	default:
		c.logger.Error("unknown coordinator event", "kind", ev.kind())
	}
}

func (c *Coordinator) onRegister(ctx context.Context, h Handle) {
	if c.state == StateStopped {
		h.Send(protocol.Quit{})
		h.Close()
		return
	}
	if err := c.pool.Register(h); err != nil {
		if errors.Is(err, domain.ErrAlreadyRegistered) {
			c.unexpected("new_worker", "worker registered twice", "worker", h.ID())
			return
		}
		c.logger.Warn("worker rejected", "worker", h.ID(), "class", h.Class(), "error", err)
		metrics.WorkersRejectedTotal.WithLabelValues(h.Class().String()).Inc()
		h.Send(protocol.Quit{})
		h.Close()
		return
	}
	c.logger.Info("worker registered", "worker", h.ID(), "class", h.Class())

	if c.state == StateRunning && c.hasPending() {
		c.assign(ctx, h.Class())
	}
}

// onTick runs one assignment pass over every class; it returns the number of tasks assigned.
func (c *Coordinator) onTick(ctx context.Context) int {
	if c.state != StateRunning {
		return 0
	}
	n := 0
	for _, class := range domain.AssignmentOrder {
		n += c.assign(ctx, class)
	}
	return n
}

// assign pairs idle workers of one class with pending tasks until either runs out.
func (c *Coordinator) assign(ctx context.Context, class domain.WorkerClass) int {
	n := 0
	for c.hasPending() {
		h, ok := c.pool.AcquireIdle(class)
		if !ok {
			break
		}
		task := c.nextTask()

		_, span := c.tracer.Start(ctx, "Coordinator.Assign", trace.WithAttributes(
			attribute.Int64("task.id", int64(task.ID)),
			attribute.String("worker.id", h.ID()),
			attribute.String("worker.class", class.String()),
		))
		if err := c.jobs.Track(h, task); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "tracking failed")
			span.End()
			c.logger.Error("failed to track assignment", "task_id", task.ID, "worker", h.ID(), "error", err)
			c.pool.Release(h)
			c.retry = append([]domain.Task{task}, c.retry...)
			break
		}
		h.Send(protocol.AssignTask(task))
		span.End()

		metrics.AssignmentsTotal.WithLabelValues(class.String()).Inc()
		c.logger.Debug("task assigned", "task_id", task.ID, "worker", h.ID(), "class", class)
		n++
	}
	return n
}

func (c *Coordinator) hasPending() bool {
	return len(c.retry) > 0 || !c.source.Exhausted()
}

// nextTask must only be called when hasPending is true.
func (c *Coordinator) nextTask() domain.Task {
	if len(c.retry) > 0 {
		task := c.retry[0]
		c.retry = c.retry[1:]
		return task
	}
	task, _ := c.source.Next()
	return task
}

func (c *Coordinator) onResult(ctx context.Context, h Handle, taskID uint32, payload []byte) {
	task, ok := c.jobs.Complete(h, taskID)
	if !ok {
		held, holds := c.jobs.Lookup(h)
		c.unexpected("result", "result does not match an in-flight task",
			"worker", handleID(h), "task_id", taskID, "holds_task", holds, "held_task_id", held.ID)
		return
	}
	c.pool.Release(h)
	metrics.ResultsTotal.WithLabelValues(h.Class().String()).Inc()

	_, span := c.tracer.Start(ctx, "Coordinator.Result", trace.WithAttributes(
		attribute.Int64("task.id", int64(task.ID)),
		attribute.String("worker.id", h.ID()),
		attribute.Int("payload.bytes", len(payload)),
	))
	c.deliver(task.ID, payload, span)
	span.End()

	c.completed++
	if c.completed == c.source.Total() {
		c.emitDone()
	}
}

func (c *Coordinator) deliver(taskID uint32, payload []byte, span trace.Span) {
	img, err := fractal.Decode(payload)
	if err != nil {
		serr := &protocol.SerializationError{Tag: protocol.TagResult, Field: "payload", Err: err}
		span.RecordError(serr)
		span.SetStatus(codes.Error, "payload decode failed")
		metrics.DecodeErrorsTotal.WithLabelValues("payload").Inc()
		c.logger.Error("failed to decode result payload", "task_id", taskID, "error", serr)
		return
	}
	if c.sink == nil {
		return
	}
	if err := c.sink.Deliver(taskID, img); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sink delivery failed")
		c.logger.Error("failed to deliver image to sink", "task_id", taskID, "sink", c.sink.Name(), "error", err)
	}
}

func (c *Coordinator) emitDone() {
	select {
	case <-c.done:
		return
	default:
	}
	total := c.source.Total()
	c.logger.Info("all tasks completed", "total", total)
	if c.sink != nil {
		c.sink.Done(total)
	}
	close(c.done)
}

func (c *Coordinator) onInit(name string) {
	sink, ok := c.sinks[name]
	if !ok {
		c.unexpected("init", "init names an unknown display sink", "sink", name)
		return
	}
	if c.state != StateAwaitingInit {
		c.unexpected("init", "init received twice", "sink", name, "state", c.state)
		return
	}
	c.sink = sink
	c.state = StateRunning
	c.logger.Info("display sink attached, assigning", "sink", name)
	if c.source.Total() == 0 {
		c.emitDone()
	}
}

func (c *Coordinator) onLimitUpdate(class domain.WorkerClass, limit int) int {
	applied := c.pool.SetLimit(class, limit)
	c.logger.Info("worker limit updated", "class", class, "requested", limit, "applied", applied)
	return applied
}

func (c *Coordinator) onWorkerGone(h Handle) {
	if _, ok := c.pool.Remove(h); !ok {
		c.logger.Debug("worker gone before registration", "worker", h.ID())
		h.Close()
		return
	}
	metrics.WorkersGoneTotal.WithLabelValues(h.Class().String()).Inc()

	if task, ok := c.jobs.Drop(h); ok {
		c.retry = append(c.retry, task)
		metrics.RequeuedTasksTotal.Inc()
		c.logger.Warn("worker gone with task in flight, task requeued", "worker", h.ID(), "class", h.Class(), "task_id", task.ID)
	} else {
		c.logger.Info("worker gone", "worker", h.ID(), "class", h.Class())
	}
	h.Close()
}

func (c *Coordinator) onShutdown() {
	switch c.state {
	case StateAwaitingInit:
		c.stop("shutdown before init")
	case StateRunning:
		c.state = StateDraining
		c.drainC = time.After(c.cfg.DrainTimeout)
		c.logger.Info("draining", "in_flight", c.jobs.Len(), "timeout", c.cfg.DrainTimeout)
	}
}

// stop moves to Stopped, asks every registered worker to quit and closes its handle.
func (c *Coordinator) stop(reason string) {
	if c.state == StateStopped {
		return
	}
	c.state = StateStopped
	c.drainC = nil
	for _, h := range c.pool.Handles() {
		h.Send(protocol.Quit{})
		h.Close()
	}
	abandoned := c.jobs.Len() + len(c.retry) + int(c.source.Remaining())
	if abandoned > 0 {
		c.logger.Warn("coordinator stopped with unfinished tasks", "reason", reason, "abandoned", abandoned,
			"completed", c.completed, "total", c.source.Total())
	} else {
		c.logger.Info("coordinator stopped", "reason", reason, "completed", c.completed)
	}
	close(c.stopped)
}

func (c *Coordinator) unexpected(kind, msg string, args ...any) {
	metrics.UnexpectedMessagesTotal.WithLabelValues(kind).Inc()
	c.logger.Warn(msg, args...)
}

func (c *Coordinator) status() Status {
	s := Status{
		State:     c.state.String(),
		Completed: c.completed,
		Total:     c.source.Total(),
		InFlight:  c.jobs.Len(),
		Requeued:  len(c.retry),
		Pending:   c.source.Remaining(),
		Pool:      c.pool.Stats(),
	}
	if c.sink != nil {
		s.Sink = c.sink.Name()
	}
	return s
}

func (c *Coordinator) observe() {
	for _, cs := range c.pool.Stats().Classes {
		metrics.PoolWorkers.WithLabelValues(cs.Name, "registered").Set(float64(cs.Registered))
		metrics.PoolWorkers.WithLabelValues(cs.Name, "idle").Set(float64(cs.Idle))
		metrics.PoolWorkers.WithLabelValues(cs.Name, "in_flight").Set(float64(cs.InFlight))
		metrics.PoolWorkers.WithLabelValues(cs.Name, "limit").Set(float64(cs.Limit))
		metrics.PoolWorkers.WithLabelValues(cs.Name, "max").Set(float64(cs.Max))
	}
	metrics.TasksCompleted.Set(float64(c.completed))
}

func handleID(h Handle) string {
	if h == nil {
		return ""
	}
	return h.ID()
}
