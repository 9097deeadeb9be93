// cmd/worker/main.go
package main

import (
	"context"
	"errors"
	"io"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"distributed-fractal/internal/config"
	"distributed-fractal/internal/domain"
	"distributed-fractal/internal/infra/etcd"
	"distributed-fractal/internal/node"
	"distributed-fractal/internal/tracing"
)

func main() {
	// 1. Init logger, config, tracer
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load("worker", os.Args[1:])
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	var traceOut io.Writer
	if cfg.Trace {
		traceOut = os.Stderr
	}
	tracerShutdown, err := tracing.InitTracer("distributed-fractal-worker", traceOut)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tracerShutdown(context.Background()); err != nil {
			log.Printf("failed to shutdown tracer: %v", err)
		}
	}()

	// 2. Create root context for lifecycle management
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Setup graceful shutdown
	setupGracefulShutdown(cancel)

	// 4. Init etcd client, optional
	var (
		etcdClient *clientv3.Client
		locker     domain.DeviceLocker
	)
	if len(cfg.EtcdEndpoints) > 0 {
		etcdClient, err = etcd.NewClient(cfg.EtcdEndpoints, cfg.EtcdTimeout)
		if err != nil {
			log.Fatalf("Failed to create etcd client: %v", err)
		}
		defer etcdClient.Close()
		locker = etcd.NewDeviceLocker(etcdClient)
		log.Println("Connected to etcd.")
	}

	// 5. Start the local workers
	execs, lease, err := node.BuildExecutors(rootCtx, node.WorkerSet{
		Count:       cfg.WorkerCount(true),
		Accelerated: cfg.Accelerated,
		Device:      cfg.Device,
	}, locker, logger)
	if err != nil {
		log.Fatalf("Failed to create workers: %v", err)
	}
	if lease != nil {
		defer func() {
			releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer releaseCancel()
			if err := lease.Release(releaseCtx); err != nil {
				logger.Error("failed to release accelerated device", "error", err)
			}
		}()
	}

	n, err := node.Start(rootCtx, execs, logger)
	if err != nil {
		log.Fatalf("Failed to start worker node: %v", err)
	}
	log.Printf("Worker node %s started with %d workers", n.ID(), len(execs))

	// 6. Link to the dispatcher
	if cfg.Publish {
		err = publish(rootCtx, cfg, n, etcdClient, logger)
	} else {
		err = n.Connect(rootCtx, cfg.Addr())
	}

	var connErr *node.ConnectionError
	if errors.As(err, &connErr) {
		logger.Error("dispatcher link failed", "op", connErr.Op, "addr", connErr.Addr, "error", connErr.Err)
		cancel()
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("Worker node failed: %v", err)
	}
	log.Println("Worker node shut down.")
}

// publish waits for a dispatcher on the configured port. With etcd the node is
// registered once it listens, so discovering dispatchers can dial it.
func publish(ctx context.Context, cfg *config.Config, n *node.Node, etcdClient *clientv3.Client, logger *slog.Logger) error {
	if etcdClient == nil {
		return n.PublishAddr(ctx, cfg.ListenAddr())
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		n.EmergencyShutdown()
		return &node.ConnectionError{Op: "publish", Addr: cfg.ListenAddr(), Err: err}
	}

	registry := node.NewRegistry(etcdClient, logger)
	if err := registry.Register(ctx, n.ID(), cfg.Addr(), cfg.NodeTTL); err != nil {
		ln.Close()
		n.Stop()
		return err
	}
	defer func() {
		deregCtx, deregCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer deregCancel()
		if err := registry.Deregister(deregCtx); err != nil {
			logger.Error("failed to deregister node", "error", err)
		}
	}()
	return n.Publish(ctx, ln)
}

func setupGracefulShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v. Initiating graceful shutdown...", sig)
		cancel()
	}()
}
