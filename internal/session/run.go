package session

import (
	"context"
	"fmt"
	"time"

	"github.com/muurk/ryobigdo/internal/logging"
	"go.uber.org/zap"
)

// Run is the supervisory loop. It connects immediately, then wakes every
// RefreshInterval and reconnects when the session is not Open. Failures in
// an iteration are logged and never end the loop; only ctx cancellation
// does, after which the socket is closed and Run returns nil.
func (c *Controller) Run(ctx context.Context) error {
	logging.Info("Starting session supervisor",
		zap.String("device_id", c.desc.DeviceID),
		zap.Duration("refresh_interval", c.opts.RefreshInterval))

	ticker := time.NewTicker(c.opts.RefreshInterval)
	defer ticker.Stop()

	for {
		c.supervise(ctx)

		select {
		case <-ctx.Done():
			logging.Info("Stopping session supervisor", zap.String("device_id", c.desc.DeviceID))
			_ = c.Close()
			return nil
		case <-ticker.C:
		}
	}
}

// supervise runs one loop iteration.
func (c *Controller) supervise(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Error during session refresh",
				zap.String("device_id", c.desc.DeviceID),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()

	if ctx.Err() != nil || c.State() == StateOpen {
		return
	}
	if err := c.Connect(ctx); err != nil {
		logging.Warn("Session connect failed, will retry",
			zap.String("device_id", c.desc.DeviceID),
			zap.Duration("retry_in", c.opts.RefreshInterval),
			zap.Error(err))
	}
}
