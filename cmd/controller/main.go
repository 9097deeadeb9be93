// cmd/controller/main.go
package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"os"
	"time"

	"distributed-fractal/internal/api/rpc"
	"distributed-fractal/internal/config"
	"distributed-fractal/internal/domain"
)

const requestTimeout = 5 * time.Second

// The controller adjusts a running dispatcher: it applies --limit updates,
// optionally starts the run with --init and prints the pool.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load("controller", os.Args[1:])
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	updates, err := cfg.LimitUpdates()
	if err != nil {
		log.Fatalf("Invalid limit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	client, err := rpc.NewClient(cfg.ControllerTarget())
	if err != nil {
		log.Fatalf("Failed to create controller client: %v", err)
	}
	defer client.Close()

	for _, u := range updates {
		class, err := domain.ParseWorkerClass(u.Class)
		if err != nil {
			log.Fatalf("Invalid limit: %v", err)
		}
		applied, err := client.SetLimit(ctx, class, u.Limit)
		if err != nil {
			log.Fatalf("Failed to set %s limit: %v", u.Class, err)
		}
		logger.Info("limit applied", "class", u.Class, "requested", u.Limit, "limit", applied)
	}

	if cfg.InitSink != "" {
		if err := client.Init(ctx, cfg.InitSink); err != nil {
			log.Fatalf("Failed to init run: %v", err)
		}
		logger.Info("run initialised", "sink", cfg.InitSink)
	}

	status, err := client.Pool(ctx)
	if err != nil {
		log.Fatalf("Failed to read pool: %v", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(status); err != nil {
		log.Fatalf("Failed to print pool: %v", err)
	}
}
