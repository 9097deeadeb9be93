// internal/domain/locker.go
package domain

import (
	"context"
	"errors"
)

// ErrDeviceBusy is returned when another node already drives the accelerated device.
var ErrDeviceBusy = errors.New("accelerated device is held by another node")

// DeviceLease is held while a node runs its accelerated worker on a device.
type DeviceLease interface {
	// Release gives the device back.
	Release(ctx context.Context) error
}

// DeviceLocker grants exclusive use of an accelerated device.
type DeviceLocker interface {
	// Acquire does not wait: a device that is already held yields ErrDeviceBusy.
	Acquire(ctx context.Context, device string) (DeviceLease, error)
}
