// internal/usecase/render_service.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	clientv3 "go.etcd.io/etcd/client/v3"
	"google.golang.org/grpc"

	http_api "distributed-fractal/internal/api/http"
	"distributed-fractal/internal/api/rpc"
	"distributed-fractal/internal/config"
	"distributed-fractal/internal/domain"
	"distributed-fractal/internal/infra/etcd"
	"distributed-fractal/internal/infra/tcp"
	"distributed-fractal/internal/master"
	"distributed-fractal/internal/node"
	"distributed-fractal/internal/scheduler"
	"distributed-fractal/internal/sink"
	"distributed-fractal/internal/stream"
	"distributed-fractal/internal/worker"
)

const shutdownTimeout = 5 * time.Second

// RenderService runs one dispatcher: the request stream, the coordinator, its
// transports and sinks, and the optional HTTP, controller and status surfaces.
type RenderService struct {
	cfg    *config.Config
	etcd   *clientv3.Client
	logger *slog.Logger

	coord    *master.Coordinator
	server   *tcp.Server
	listener net.Listener
	frames   *sink.FrameStore
	sinkName string
}

// NewRenderService builds the dispatcher and binds its worker port.
// etcdClient may be nil, which disables node discovery and device locking.
func NewRenderService(cfg *config.Config, etcdClient *clientv3.Client, logger *slog.Logger) (*RenderService, error) {
	source, err := stream.New(cfg.Stream())
	if err != nil {
		return nil, fmt.Errorf("failed to create request stream: %w", err)
	}

	s := &RenderService{
		cfg:    cfg,
		etcd:   etcdClient,
		logger: logger.With("component", "render-service"),
		frames: sink.NewFrameStore(logger),
	}
	sinks := []domain.DisplaySink{s.frames}
	s.sinkName = sink.FramesName
	if cfg.Headless {
		dir, err := sink.NewDirSink(cfg.OutputDir, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, dir)
		s.sinkName = sink.HeadlessName
	}

	s.coord = master.NewCoordinator(master.Config{
		Interval:       cfg.Interval,
		DrainTimeout:   cfg.DrainTimeout,
		MaxNormal:      cfg.MaxNormal,
		MaxAccelerated: cfg.MaxAccelerated,
		QueueSize:      cfg.QueueSize,
	}, source, sinks, logger)
	s.server = tcp.NewServer(s.coord, tcp.DefaultQueueSize, logger)

	s.listener, err = net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.ListenAddr(), err)
	}
	return s, nil
}

// Coordinator returns the coordinator of the run.
func (s *RenderService) Coordinator() *master.Coordinator { return s.coord }

// Frames returns the in-memory sink.
func (s *RenderService) Frames() *sink.FrameStore { return s.frames }

// Addr is the address worker nodes connect to.
func (s *RenderService) Addr() net.Addr { return s.listener.Addr() }

// Run serves the run until it ends. A headless run ends after the last image;
// otherwise the run ends when ctx is cancelled or a peer sends quit. Either way
// the coordinator drains before Run returns.
func (s *RenderService) Run(ctx context.Context) error {
	infraCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- s.coord.Run(infraCtx) }()
	go func() {
		if err := s.server.Serve(infraCtx, s.listener); err != nil {
			s.logger.Error("worker listener failed", "error", err)
		}
	}()

	locals, lease, err := s.startLocalWorkers(infraCtx)
	if err != nil {
		s.coord.Shutdown()
		<-runErr
		s.server.Close()
		return err
	}
	defer func() {
		if lease == nil {
			return
		}
		releaseCtx, releaseCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer releaseCancel()
		if err := lease.Release(releaseCtx); err != nil {
			s.logger.Warn("failed to release accelerated device", "error", err)
		}
	}()

	if len(s.cfg.Nodes) > 0 {
		connected := s.server.DialAll(infraCtx, s.cfg.Nodes)
		s.logger.Info("peers dialed", "requested", len(s.cfg.Nodes), "connected", connected)
	}
	if s.etcd != nil {
		discovery := master.NewNodeDiscovery(s.etcd, s.server, s.logger)
		go discovery.WatchNodes(infraCtx)
	}

	httpServer := s.startHTTP()
	grpcServer := s.startController()
	if s.cfg.StatusSchedule != "" {
		reporter, err := scheduler.NewStatusReporter(s.coord, s.cfg.StatusSchedule, s.logger)
		if err != nil {
			s.logger.Warn("status reporter disabled", "error", err)
		} else {
			go reporter.Start(infraCtx)
		}
	}

	if !s.cfg.AwaitInit {
		s.coord.Init(s.sinkName)
	} else {
		s.logger.Info("waiting for init", "sinks", []string{sink.FramesName, sink.HeadlessName})
	}

	var result error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown requested, draining")
		s.coord.Shutdown()
		result = <-runErr
	case <-s.doneTrigger(ctx):
		s.coord.Shutdown()
		result = <-runErr
	case result = <-runErr:
	}

	cancel()
	s.teardown(httpServer, grpcServer)
	for _, h := range locals {
		<-h.Done()
	}
	s.logger.Info("render run finished", "error", result)
	return result
}

// doneTrigger fires when the last image arrived in headless mode; in display
// mode the images stay available until ctx ends.
func (s *RenderService) doneTrigger(ctx context.Context) <-chan struct{} {
	if s.cfg.Headless {
		return s.coord.Done()
	}
	return ctx.Done()
}

func (s *RenderService) startLocalWorkers(ctx context.Context) ([]*worker.LocalHandle, domain.DeviceLease, error) {
	if s.cfg.Workers <= 0 {
		return nil, nil, nil
	}
	var locker domain.DeviceLocker
	if s.etcd != nil {
		locker = etcd.NewDeviceLocker(s.etcd)
	}
	execs, lease, err := node.BuildExecutors(ctx, node.WorkerSet{
		Count:       s.cfg.Workers,
		Accelerated: s.cfg.Accelerated,
		Device:      s.cfg.Device,
	}, locker, s.logger)
	if err != nil {
		return nil, nil, err
	}
	locals := make([]*worker.LocalHandle, 0, len(execs))
	for _, exec := range execs {
		locals = append(locals, worker.StartLocal(ctx, exec, s.coord, s.logger))
	}
	s.logger.Info("local workers started", "count", len(locals))
	return locals, lease, nil
}

func (s *RenderService) startHTTP() *http.Server {
	if s.cfg.HttpListenAddr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	http_api.NewHandler(s.coord, s.frames, s.logger).RegisterRoutes(mux)

	server := &http.Server{Addr: s.cfg.HttpListenAddr, Handler: http_api.CORS(mux)}
	go func() {
		s.logger.Info("starting HTTP API server", "addr", s.cfg.HttpListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", "error", err)
		}
	}()
	return server
}

func (s *RenderService) startController() *grpc.Server {
	if s.cfg.ControllerAddr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", s.cfg.ControllerAddr)
	if err != nil {
		s.logger.Error("controller service disabled", "addr", s.cfg.ControllerAddr, "error", err)
		return nil
	}
	server := rpc.NewServer(s.coord, s.logger)
	go func() {
		s.logger.Info("starting controller service", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil {
			s.logger.Error("controller service failed", "error", err)
		}
	}()
	return server
}

func (s *RenderService) teardown(httpServer *http.Server, grpcServer *grpc.Server) {
	if httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			s.logger.Warn("HTTP server shutdown failed", "error", err)
		}
	}
	if grpcServer != nil {
		grpcServer.Stop()
	}
	s.server.Close()
}
