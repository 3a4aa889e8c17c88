package cloudapi

import (
	"context"
	"fmt"

	"github.com/muurk/ryobigdo/internal/logging"
	"go.uber.org/zap"
)

// Discover logs in, lists the account's devices and fetches the detail of
// each. Any failure aborts the whole discovery; a partially discovered
// account is never returned.
func Discover(ctx context.Context, api Discoverer) ([]Device, error) {
	sess, err := api.Login(ctx)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	summaries, err := api.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	if len(summaries) == 0 {
		return nil, ErrNoDevices
	}

	devices := make([]Device, 0, len(summaries))
	for _, summary := range summaries {
		detail, err := api.GetDeviceDetail(ctx, summary.DeviceID)
		if err != nil {
			return nil, fmt.Errorf("device detail: %w", err)
		}

		initial, err := detail.InitialState()
		if err != nil {
			// Attributes that fail to decode stay unknown until the first update.
			logging.Warn("Initial state partially decoded",
				zap.String("device_id", summary.DeviceID), zap.Error(err))
		}

		devices = append(devices, Device{
			Descriptor: Describe(api.Username(), sess, summary, detail),
			Initial:    initial,
		})
		logging.Info("Discovered device",
			zap.String("device_id", summary.DeviceID),
			zap.String("name", summary.Name),
			zap.Int("port_id", detail.PortID))
	}

	return devices, nil
}
