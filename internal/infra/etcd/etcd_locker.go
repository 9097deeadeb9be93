// internal/infra/etcd/etcd_locker.go
package etcd

import (
	"context"
	"errors"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"distributed-fractal/internal/domain"
)

const (
	// DeviceLockPrefix is the etcd prefix of accelerated device locks.
	DeviceLockPrefix = "/fractal/devices/"
	// DeviceSessionTTL is the lease TTL in seconds; a crashed node frees its device after it.
	DeviceSessionTTL = 10

	tryLockTimeout = 500 * time.Millisecond
)

type deviceLease struct {
	mutex   *concurrency.Mutex
	session *concurrency.Session
	device  string
}

func (l *deviceLease) Release(ctx context.Context) error {
	defer l.session.Close()
	if err := l.mutex.Unlock(ctx); err != nil {
		return fmt.Errorf("failed to release device %s: %w", l.device, err)
	}
	return nil
}

// DeviceLocker hands out accelerated devices through etcd mutexes.
type DeviceLocker struct {
	client *clientv3.Client
}

var _ domain.DeviceLocker = (*DeviceLocker)(nil)

// NewDeviceLocker creates a locker backed by client.
func NewDeviceLocker(client *clientv3.Client) *DeviceLocker {
	return &DeviceLocker{client: client}
}

// Acquire takes the device lock without waiting for a current holder.
func (l *DeviceLocker) Acquire(ctx context.Context, device string) (domain.DeviceLease, error) {
	session, err := concurrency.NewSession(l.client, concurrency.WithTTL(DeviceSessionTTL))
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd session for device %s: %w", device, err)
	}

	mutex := concurrency.NewMutex(session, DeviceLockPrefix+device)
	tryCtx, cancel := context.WithTimeout(ctx, tryLockTimeout)
	defer cancel()

	if err := mutex.TryLock(tryCtx); err != nil {
		session.Close()
		if errors.Is(err, concurrency.ErrLocked) {
			return nil, fmt.Errorf("%w: %s", domain.ErrDeviceBusy, device)
		}
		return nil, fmt.Errorf("failed to lock device %s: %w", device, err)
	}
	return &deviceLease{mutex: mutex, session: session, device: device}, nil
}
