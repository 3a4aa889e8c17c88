package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/muurk/ryobigdo/internal/gdo"
	"github.com/muurk/ryobigdo/internal/logging"
	"github.com/muurk/ryobigdo/internal/notify"
	"github.com/muurk/ryobigdo/internal/protocol"
	"github.com/muurk/ryobigdo/internal/version"
	"go.uber.org/zap"
)

// Controller owns the WebSocket session of one device.
//
// Lock order: connectMu, then mu. writeMu and notifyMu are only ever taken
// alone. No lock is held while dialing or waiting for the auth
// acknowledgement.
type Controller struct {
	desc  gdo.Descriptor
	opts  Options
	model *gdo.Model
	subs  notify.Hub[gdo.State]

	connectMu sync.Mutex
	writeMu   sync.Mutex
	notifyMu  sync.Mutex

	mu         sync.Mutex
	state      ConnState
	conn       *websocket.Conn
	generation uint64
	sent       int
	auth       authStatus
	authSignal chan struct{}
}

// New creates a controller for desc seeded with initial. Nothing is dialed
// until Connect, Send or Run is called.
func New(desc gdo.Descriptor, initial gdo.State, opts Options) *Controller {
	opts = opts.withDefaults()
	c := &Controller{
		desc:  desc,
		opts:  opts,
		model: gdo.NewModel(desc.DeviceID, desc.PortID, initial),
		state: StateClosed,
	}
	c.model.SetAvailable(false)
	opts.Recorder.ConnectionState(desc.DeviceID, StateClosed.String())
	return c
}

// Descriptor returns the device this controller serves.
func (c *Controller) Descriptor() gdo.Descriptor {
	return c.desc
}

// State returns the current connection state.
func (c *Controller) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns a copy of the mirrored device state.
func (c *Controller) Snapshot() gdo.State {
	return c.model.Snapshot()
}

// IsAvailable reports whether the session is subscribed and healthy.
func (c *Controller) IsAvailable() bool {
	return c.model.Snapshot().Available
}

// Subscribe registers fn to receive a snapshot after every state change.
// Deliveries are serialized, so fn sees snapshots in the order they were
// taken. fn should not block and must not call Connect or Send.
func (c *Controller) Subscribe(fn func(gdo.State)) (unsubscribe func()) {
	return c.subs.Subscribe(fn)
}

// notify takes the snapshot and delivers it under notifyMu so a slower
// caller can never hand subscribers an older state after a newer one.
func (c *Controller) notify() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.subs.Notify(c.model.Snapshot())
}

// setStateLocked must be called with mu held.
func (c *Controller) setStateLocked(s ConnState) {
	if c.state == s {
		return
	}
	c.state = s
	c.opts.Recorder.ConnectionState(c.desc.DeviceID, s.String())
}

func (c *Controller) markUnavailable() {
	if c.model.SetAvailable(false) {
		c.notify()
	}
}

// Connect brings the session to Open: dial, authenticate, subscribe. It is
// a no-op when the session is already Open. Failures leave the session
// Closed (or Error when the socket itself failed) and are returned.
func (c *Controller) Connect(ctx context.Context) error {
	if c.State() == StateOpen {
		logging.Debug("Already connected", zap.String("device_id", c.desc.DeviceID))
		return nil
	}

	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	// Another caller may have finished connecting while we waited.
	if c.State() == StateOpen {
		return nil
	}

	authFrame, err := protocol.BuildAuth(c.desc.Username, c.desc.APIKey)
	if err != nil {
		return err
	}
	subFrame, err := protocol.BuildSubscribe(c.desc.DeviceID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	c.opts.Recorder.ConnectAttempt(c.desc.DeviceID)
	logging.LogConnection(c.desc.DeviceID, "connecting", zap.String("url", c.opts.URL))

	conn, resp, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, c.header())
	if err != nil {
		c.mu.Lock()
		c.setStateLocked(StateError)
		c.mu.Unlock()
		if resp != nil {
			return fmt.Errorf("websocket dial failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)

	signal := make(chan struct{}, 1)
	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.conn = conn
	c.sent = 0
	c.auth = authPending
	c.authSignal = signal
	c.mu.Unlock()

	done := make(chan struct{})
	go c.readLoop(conn, gen, done)
	if c.opts.PingInterval > 0 {
		go c.keepalive(conn, gen, done)
	}

	logging.LogConnection(c.desc.DeviceID, "socket_open")

	if err := c.write(conn, authFrame); err != nil {
		c.abandon(gen, StateError)
		return fmt.Errorf("send auth: %w", err)
	}

	if err := c.awaitAuth(ctx, gen, signal); err != nil {
		return err
	}

	if err := c.write(conn, subFrame); err != nil {
		c.abandon(gen, StateError)
		return fmt.Errorf("send subscribe: %w", err)
	}

	c.mu.Lock()
	if c.generation != gen || c.conn != conn {
		c.mu.Unlock()
		return ErrConnectionLost
	}
	c.setStateLocked(StateOpen)
	c.mu.Unlock()

	logging.LogConnection(c.desc.DeviceID, "subscribed",
		zap.String("topic", protocol.UpdateTopic(c.desc.DeviceID)))

	c.model.SetAvailable(true)
	c.notify()
	return nil
}

// awaitAuth polls for the auth acknowledgement of connection gen. The reader
// pokes signal so an ack (or a drop) is seen without waiting a full interval.
func (c *Controller) awaitAuth(ctx context.Context, gen uint64, signal <-chan struct{}) error {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < c.opts.AuthPollAttempts; {
		select {
		case <-ctx.Done():
			c.abandon(gen, StateClosed)
			return ctx.Err()
		case <-signal:
		case <-ticker.C:
			attempt++
			logging.Debug("Awaiting websocket authentication",
				zap.String("device_id", c.desc.DeviceID), zap.Int("attempt", attempt))
		}

		c.mu.Lock()
		current := c.generation == gen && c.conn != nil
		status := c.auth
		c.mu.Unlock()

		switch {
		case !current:
			return ErrConnectionLost
		case status == authAccepted:
			logging.LogConnection(c.desc.DeviceID, "authenticated")
			return nil
		case status == authRejected:
			c.abandon(gen, StateClosed)
			logging.Error("WebSocket authentication rejected", zap.String("device_id", c.desc.DeviceID))
			return ErrAuthRejected
		}
	}

	c.abandon(gen, StateClosed)
	logging.Warn("No websocket authentication acknowledgement",
		zap.String("device_id", c.desc.DeviceID),
		zap.Int("attempts", c.opts.AuthPollAttempts),
		zap.Duration("interval", c.opts.PollInterval))
	return ErrConnectTimeout
}

func (c *Controller) header() http.Header {
	h := http.Header{}
	for k, v := range c.opts.Header {
		h[k] = append([]string(nil), v...)
	}
	if h.Get("User-Agent") == "" {
		h.Set("User-Agent", version.UserAgent())
	}
	return h
}

// abandon tears down connection gen, if it is still the current one, and
// moves to state.
func (c *Controller) abandon(gen uint64, state ConnState) {
	c.mu.Lock()
	if c.generation != gen || c.conn == nil {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	c.setStateLocked(state)
	c.mu.Unlock()

	_ = conn.Close()
	c.markUnavailable()
}

// write sends one text frame. Writes are serialized across goroutines.
func (c *Controller) write(conn *websocket.Conn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	logging.LogWebSocketMessage(c.desc.DeviceID, "sent", data)
	return nil
}

// Close shuts the current socket, if any, and marks the device unavailable.
func (c *Controller) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.generation++
	c.setStateLocked(StateClosed)
	c.mu.Unlock()

	c.markUnavailable()
	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.writeMu.Unlock()

	logging.LogConnection(c.desc.DeviceID, "closed")
	return conn.Close()
}

// current returns the open connection, if any.
func (c *Controller) current() (*websocket.Conn, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen || c.conn == nil {
		return nil, 0, false
	}
	return c.conn, c.generation, true
}

// isCurrent reports whether gen is still the live connection.
func (c *Controller) isCurrent(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation == gen && c.conn != nil
}

// errorsIsClose reports whether err carries a WebSocket close frame.
func errorsIsClose(err error) bool {
	var closeErr *websocket.CloseError
	return errors.As(err, &closeErr)
}
