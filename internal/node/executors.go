// internal/node/executors.go
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"distributed-fractal/internal/domain"
	"distributed-fractal/internal/fractal"
	"distributed-fractal/internal/worker"
)

// WorkerSet describes the workers a process hosts.
type WorkerSet struct {
	// Count is the total number of workers, the accelerated one included.
	Count       int
	Accelerated bool
	Device      uint32
}

// DeviceName identifies the accelerated device of this host in the lock namespace.
func DeviceName(device uint32) string {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return fmt.Sprintf("%s-%d", host, device)
}

// BuildExecutors creates the executors of set. With a locker the accelerated
// worker only starts if the device lock is granted; a busy device falls back to
// normal workers. The returned lease is nil when no device lock is held.
func BuildExecutors(ctx context.Context, set WorkerSet, locker domain.DeviceLocker, logger *slog.Logger) ([]worker.Executor, domain.DeviceLease, error) {
	count := set.Count
	if count <= 0 {
		count = 1
	}

	var (
		execs []worker.Executor
		lease domain.DeviceLease
	)
	if set.Accelerated {
		accelerated := true
		if locker != nil {
			l, err := locker.Acquire(ctx, DeviceName(set.Device))
			switch {
			case errors.Is(err, domain.ErrDeviceBusy):
				logger.Warn("accelerated device busy, starting normal workers only", "device", set.Device, "error", err)
				accelerated = false
			case err != nil:
				return nil, nil, fmt.Errorf("failed to acquire accelerated device: %w", err)
			default:
				lease = l
			}
		}
		if accelerated {
			program := fractal.NewProgram(set.Device, runtime.NumCPU())
			execs = append(execs, worker.NewAcceleratedExecutor(program))
			count--
		}
	}
	for i := 0; i < count; i++ {
		execs = append(execs, worker.NewNormalExecutor())
	}
	return execs, lease, nil
}
