package commands

import (
	"context"
	"errors"

	"github.com/thumbsup-team/securenas/pkg/controlplane/api/handlers"
	"github.com/thumbsup-team/securenas/pkg/device"
)

// deviceAdapter exposes the device core through the API's controller
// interface, keeping pkg/device free of HTTP types.
type deviceAdapter struct {
	device *device.Device
}

func newDeviceAdapter(d *device.Device) handlers.DeviceController {
	return &deviceAdapter{device: d}
}

func (a *deviceAdapter) Status() handlers.DeviceStatus {
	return handlers.DeviceStatus{
		State:           a.device.State().String(),
		Sessions:        a.device.SessionCount(),
		Advertising:     a.device.Advertising(),
		StorageUnlocked: a.device.StorageUnlocked(),
	}
}

func (a *deviceAdapter) SessionList() []handlers.SessionInfo {
	sessions := a.device.Sessions()
	infos := make([]handlers.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, handlers.SessionInfo{
			ID:             s.ID,
			Identity:       s.Identity,
			Address:        s.Address,
			ConnectedAt:    s.ConnectedAt,
			LastActivityAt: s.LastActivityAt,
		})
	}
	return infos
}

func (a *deviceAdapter) Activate(ctx context.Context) error {
	return mapActivateErr(a.device.Activate(ctx))
}

// mapActivateErr translates device sentinels into the API's error
// vocabulary so handlers stay free of device types.
func mapActivateErr(err error) error {
	if errors.Is(err, device.ErrShuttingDown) {
		return handlers.ErrNotActivatable
	}
	return err
}

func (a *deviceAdapter) Shutdown(ctx context.Context) error {
	return a.device.Shutdown(ctx)
}
