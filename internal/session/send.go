package session

import (
	"context"
	"fmt"

	"github.com/muurk/ryobigdo/internal/logging"
	"github.com/muurk/ryobigdo/internal/protocol"
	"go.uber.org/zap"
)

// Send transmits a module command. When the session is not Open it
// reconnects first; each attempt is one (re)connect plus one write, up to
// SendAttempts. Send never holds a lock while reconnecting.
func (c *Controller) Send(ctx context.Context, body protocol.CommandBody) error {
	frame, err := protocol.BuildCommand(c.desc.PortID, c.desc.DeviceID, body)
	if err != nil {
		return fmt.Errorf("build command: %w", err)
	}

	logging.Debug("Sending command",
		zap.String("device_id", c.desc.DeviceID),
		zap.String("command", body.String()))

	c.checkWatchdog()

	var lastErr error
	for attempt := 1; attempt <= c.opts.SendAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		conn, gen, open := c.current()
		if !open {
			logging.Debug("Can't publish, reconnecting",
				zap.String("device_id", c.desc.DeviceID),
				zap.String("state", c.State().String()),
				zap.Int("attempt", attempt))
			if err := c.Connect(ctx); err != nil {
				lastErr = err
				continue
			}
			if conn, gen, open = c.current(); !open {
				lastErr = ErrConnectionLost
				continue
			}
		}

		if err := c.write(conn, frame); err != nil {
			lastErr = err
			logging.Debug("Error while publishing command",
				zap.String("device_id", c.desc.DeviceID), zap.Error(err))
			c.abandon(gen, StateClosed)
			continue
		}

		c.mu.Lock()
		if c.generation == gen {
			c.sent++
		}
		c.mu.Unlock()

		c.opts.Recorder.CommandSent(c.desc.DeviceID, "sent")
		logging.Info("Command sent",
			zap.String("device_id", c.desc.DeviceID),
			zap.String("command", body.String()),
			zap.Int("attempt", attempt))

		// The command is on the wire; a stalled link is closed now so the
		// next Send reconnects instead of writing into the void.
		c.checkWatchdog()
		return nil
	}

	c.opts.Recorder.CommandSent(c.desc.DeviceID, "failed")
	logging.Error("Failed to send command",
		zap.String("device_id", c.desc.DeviceID),
		zap.String("command", body.String()),
		zap.Int("attempts", c.opts.SendAttempts),
		zap.Error(lastErr))
	return fmt.Errorf("%w after %d attempts: %w", ErrSendFailed, c.opts.SendAttempts, lastErr)
}

// checkWatchdog force-closes a link that has taken WatchdogThreshold sends
// without any inbound frame in between.
func (c *Controller) checkWatchdog() {
	c.mu.Lock()
	if c.state != StateOpen || c.conn == nil || c.sent < c.opts.WatchdogThreshold {
		c.mu.Unlock()
		return
	}
	unanswered := c.sent
	conn := c.conn
	c.conn = nil
	c.sent = 0
	c.setStateLocked(StateClosed)
	c.mu.Unlock()

	_ = conn.Close()
	c.opts.Recorder.WatchdogTrip(c.desc.DeviceID)
	logging.Warn("Forcing reconnect",
		zap.String("device_id", c.desc.DeviceID),
		zap.Int("unanswered_sends", unanswered),
		zap.Error(ErrLinkStalled))
	c.markUnavailable()
}

// OpenDoor sends the open-door command.
func (c *Controller) OpenDoor(ctx context.Context) error {
	return c.Send(ctx, protocol.OpenDoor())
}

// CloseDoor sends the close-door command.
func (c *Controller) CloseDoor(ctx context.Context) error {
	return c.Send(ctx, protocol.CloseDoor())
}

// SetLight switches the opener light.
func (c *Controller) SetLight(ctx context.Context, on bool) error {
	return c.Send(ctx, protocol.SetLight(on))
}

// SetPosition is accepted for API completeness; the cloud has no
// positioning command.
func (c *Controller) SetPosition(_ context.Context, percent int) error {
	logging.Warn("Set position is not supported",
		zap.String("device_id", c.desc.DeviceID), zap.Int("percent", percent))
	return ErrNotImplemented
}
