// internal/scheduler/cron_scheduler.go
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"distributed-fractal/internal/domain"
	"distributed-fractal/internal/master"
)

// DefaultSchedule reports every ten seconds.
const DefaultSchedule = "@every 10s"

const statsTimeout = 2 * time.Second

// StatsSource provides the coordinator status.
type StatsSource interface {
	Stats(ctx context.Context) (master.Status, error)
}

// StatusReporter periodically logs the pool state and render progress.
type StatusReporter struct {
	cron   *cron.Cron
	source StatsSource
	logger *slog.Logger
	tracer trace.Tracer

	mu       sync.Mutex
	last     uint32
	lastTime time.Time
	reports  int
}

// NewStatusReporter creates a reporter firing on schedule, a robfig/cron expression
// with optional seconds field or a descriptor such as "@every 5s".
func NewStatusReporter(source StatsSource, schedule string, logger *slog.Logger) (*StatusReporter, error) {
	r := &StatusReporter{
		cron:   cron.New(cron.WithSeconds()),
		source: source,
		logger: logger.With("component", "status-reporter"),
		tracer: otel.Tracer("distributed-fractal-scheduler"),
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := parser.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("failed to parse status schedule %q: %w", schedule, err)
	}
	r.cron.Schedule(sched, cron.FuncJob(r.Report))
	return r, nil
}

// Start runs the reporter until ctx is cancelled.
func (r *StatusReporter) Start(ctx context.Context) error {
	r.logger.Info("status reporter started")
	r.cron.Start()
	<-ctx.Done()
	stopCtx := r.cron.Stop()
	<-stopCtx.Done()
	r.logger.Info("status reporter stopped")
	return ctx.Err()
}

// Report logs one status line. It is the cron job and may be called directly.
func (r *StatusReporter) Report() {
	ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
	defer cancel()
	ctx, span := r.tracer.Start(ctx, "scheduler.ReportStatus")
	defer span.End()

	st, err := r.source.Stats(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrStopped) {
			r.logger.Warn("failed to read coordinator status", "error", err)
			span.RecordError(err)
		}
		return
	}
	span.SetAttributes(
		attribute.String("coordinator.state", st.State),
		attribute.Int64("tasks.completed", int64(st.Completed)),
	)

	rate := r.advance(st.Completed, time.Now())
	attrs := []any{
		"state", st.State,
		"completed", st.Completed,
		"total", st.Total,
		"in_flight", st.InFlight,
		"requeued", st.Requeued,
		"tasks_per_second", rate,
	}
	for _, cs := range st.Pool.Classes {
		attrs = append(attrs, slog.Group(cs.Name,
			"registered", cs.Registered,
			"idle", cs.Idle,
			"in_flight", cs.InFlight,
			"limit", cs.Limit,
			"max", cs.Max,
		))
	}
	r.logger.Info("render status", attrs...)
}

// advance records a completion sample and returns the rate since the previous one.
func (r *StatusReporter) advance(completed uint32, now time.Time) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var rate float64
	if r.reports > 0 && completed >= r.last {
		if elapsed := now.Sub(r.lastTime).Seconds(); elapsed > 0 {
			rate = float64(completed-r.last) / elapsed
		}
	}
	r.last, r.lastTime = completed, now
	r.reports++
	return rate
}

// Reports is the number of successful reports so far.
func (r *StatusReporter) Reports() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reports
}
