package interfaces

import (
	"context"
	"errors"
	"time"
)

// ErrDeviceNotFound is returned when a device name is not registered
var ErrDeviceNotFound = errors.New("device not found")

type DeviceRepository interface {
	// Resolve a device name to its id; ErrDeviceNotFound when unknown
	GetDeviceID(ctx context.Context, deviceName string) (int64, error)

	// Last time data arrived for a device; ok is false when never seen
	GetLastSeen(ctx context.Context, deviceName string) (lastSeen time.Time, ok bool, err error)

	// Record arrival of data and mark the device visible
	UpdateLastSeen(ctx context.Context, deviceID int64, lastSeen time.Time) error

	// Hide devices not seen within notSeenFor, show the rest; returns rows changed
	UpdateVisibility(ctx context.Context, notSeenFor time.Duration) (int64, error)
}
