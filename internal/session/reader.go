package session

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/muurk/ryobigdo/internal/gdo"
	"github.com/muurk/ryobigdo/internal/logging"
	"github.com/muurk/ryobigdo/internal/protocol"
	"go.uber.org/zap"
)

// readLoop is the only reader of conn. Frames are handled in arrival order.
func (c *Controller) readLoop(conn *websocket.Conn, gen uint64, done chan struct{}) {
	defer close(done)

	keepalive := c.opts.PingInterval > 0
	if keepalive {
		_ = conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		conn.SetPongHandler(func(string) error {
			logging.Debug("Got a pong", zap.String("device_id", c.desc.DeviceID))
			return conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		})
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.connectionLost(gen, err)
			return
		}
		if keepalive {
			_ = conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		}
		c.handleFrame(gen, data)
	}
}

// keepalive pings the server until the reader of the same connection exits.
func (c *Controller) keepalive(conn *websocket.Conn, gen uint64, done <-chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if !c.isCurrent(gen) {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				logging.Debug("Ping failed", zap.String("device_id", c.desc.DeviceID), zap.Error(err))
				return
			}
		}
	}
}

// connectionLost handles the socket close/error callback of connection gen.
// It never reconnects; that is left to Run and Send.
func (c *Controller) connectionLost(gen uint64, err error) {
	next := StateError
	if errorsIsClose(err) {
		next = StateClosed
	}

	c.mu.Lock()
	if c.generation != gen || c.conn == nil {
		// Already torn down by Close, the watchdog or a failed handshake.
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	c.setStateLocked(next)
	signal := c.authSignal
	c.mu.Unlock()

	_ = conn.Close()
	poke(signal)

	if next == StateClosed {
		logging.LogConnection(c.desc.DeviceID, "closed_by_server", zap.Error(err))
	} else {
		logging.LogConnection(c.desc.DeviceID, "socket_error", zap.Error(err))
	}
	c.markUnavailable()
}

func poke(signal chan struct{}) {
	if signal == nil {
		return
	}
	select {
	case signal <- struct{}{}:
	default:
	}
}

// handleFrame decodes and dispatches one inbound frame of connection gen.
func (c *Controller) handleFrame(gen uint64, data []byte) {
	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return
	}
	// Any inbound traffic proves the link is alive.
	c.sent = 0
	c.mu.Unlock()

	logging.LogWebSocketMessage(c.desc.DeviceID, "received", data)

	msg, err := protocol.Decode(data)
	if err != nil {
		c.opts.Recorder.FrameReceived(c.desc.DeviceID, "invalid")
		logging.Warn("Dropping unrecognized frame",
			zap.String("device_id", c.desc.DeviceID), zap.Error(err))
		return
	}
	c.opts.Recorder.FrameReceived(c.desc.DeviceID, msg.Kind().String())

	switch m := msg.(type) {
	case *protocol.UpdateNotification:
		c.applyUpdate(m)
	case *protocol.AuthResult:
		c.recordAuth(gen, m)
	case *protocol.CommandResult:
		if m.OK() {
			logging.Debug("Received OK result from server", zap.String("device_id", c.desc.DeviceID))
		} else {
			logging.Debug("Received result from server",
				zap.String("device_id", c.desc.DeviceID),
				zap.String("status", m.Status),
				zap.ByteString("result", m.Raw))
		}
	}
}

func (c *Controller) applyUpdate(u *protocol.UpdateNotification) {
	applied, err := c.model.Apply(u.DeviceID(), u.Params)
	if errors.Is(err, gdo.ErrForeignDevice) {
		logging.Debug("Ignoring update for a different device",
			zap.String("device_id", c.desc.DeviceID), zap.Error(err))
		return
	}
	if err != nil {
		logging.Warn("Update partially applied",
			zap.String("device_id", c.desc.DeviceID), zap.Error(err))
	}
	if applied {
		c.notify()
	}
}

func (c *Controller) recordAuth(gen uint64, r *protocol.AuthResult) {
	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return
	}
	wasPending := c.auth == authPending
	if r.Authorized {
		c.auth = authAccepted
	} else {
		c.auth = authRejected
	}
	signal := c.authSignal
	c.mu.Unlock()

	poke(signal)
	if !wasPending && !r.Authorized {
		logging.Error("Server revoked websocket authorization", zap.String("device_id", c.desc.DeviceID))
		c.abandon(gen, StateClosed)
	}
}
