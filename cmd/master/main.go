// cmd/master/main.go
package main

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	clientv3 "go.etcd.io/etcd/client/v3"

	"distributed-fractal/internal/config"
	"distributed-fractal/internal/infra/etcd"
	"distributed-fractal/internal/tracing"
	"distributed-fractal/internal/usecase"
)

func main() {
	// 1. Initialize logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 2. Load configuration
	cfg, err := config.Load("master", os.Args[1:])
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	var traceOut io.Writer
	if cfg.Trace {
		traceOut = os.Stderr
	}
	tracerShutdown, err := tracing.InitTracer("distributed-fractal-master", traceOut)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tracerShutdown(context.Background()); err != nil {
			log.Printf("failed to shutdown tracer: %v", err)
		}
	}()

	log.Printf("Starting fractal dispatcher on %s...", cfg.ListenAddr())

	// 3. Create root context for lifecycle management
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Setup graceful shutdown
	setupGracefulShutdown(cancel)

	// 5. Init etcd client, optional
	var etcdClient *clientv3.Client
	if len(cfg.EtcdEndpoints) > 0 {
		etcdClient, err = etcd.NewClient(cfg.EtcdEndpoints, cfg.EtcdTimeout)
		if err != nil {
			log.Fatalf("Failed to create etcd client: %v", err)
		}
		defer etcdClient.Close()
		log.Println("Connected to etcd.")
	}

	// 6. Build and run the dispatcher
	svc, err := usecase.NewRenderService(cfg, etcdClient, logger)
	if err != nil {
		log.Fatalf("Failed to create render service: %v", err)
	}
	if err := svc.Run(rootCtx); err != nil {
		logger.Error("render run failed", "error", err)
		os.Exit(1)
	}
	log.Println("Dispatcher shut down.")
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
