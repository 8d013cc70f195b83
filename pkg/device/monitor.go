package device

import (
	"context"
	"time"

	"github.com/thumbsup-team/securenas/internal/logger"
)

// InactivityMonitor periodically asks the device to check its idle
// timer. Keeping the tick outside the Device keeps the lifecycle logic
// timer-free and testable.
type InactivityMonitor struct {
	device   *Device
	interval time.Duration
}

// NewInactivityMonitor creates a monitor ticking at the given interval.
func NewInactivityMonitor(device *Device, interval time.Duration) *InactivityMonitor {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &InactivityMonitor{device: device, interval: interval}
}

// Run ticks until the context is cancelled.
func (m *InactivityMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.device.CheckInactivity(ctx); err != nil {
				logger.Error("Inactivity check failed", logger.Err(err))
			}
		}
	}
}
