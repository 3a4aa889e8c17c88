package simulator

import (
	"encoding/json"
	"maps"

	"github.com/gorilla/websocket"
	"github.com/muurk/ryobigdo/internal/logging"
	"github.com/muurk/ryobigdo/internal/protocol"
	"go.uber.org/zap"
)

// publish sends an update notification for the simulated device to every
// connection subscribed to its topic.
func (s *Simulator) publish(deltas map[string]any) {
	topic := protocol.UpdateTopic(s.opts.DeviceID)
	params := map[string]any{
		protocol.ParamTopic:   topic,
		protocol.ParamVarName: s.opts.DeviceID,
		protocol.ParamID:      s.opts.DeviceID,
	}
	maps.Copy(params, deltas)

	data, err := json.Marshal(map[string]any{
		"jsonrpc": protocol.JSONRPCVersion,
		"method":  protocol.MethodUpdate,
		"params":  params,
	})
	if err != nil {
		logging.Error("Failed to encode update", zap.Error(err))
		return
	}

	for _, c := range s.connections() {
		if c.subscribed(topic) {
			s.send(c, data)
		}
	}
}

func (s *Simulator) send(c *wsConn, data []byte) {
	s.mu.Lock()
	muted := s.muted
	s.mu.Unlock()
	if muted {
		return
	}
	if err := c.write(data); err != nil {
		logging.Debug("Simulator write failed", zap.Error(err))
	}
}

func (s *Simulator) connections() []*wsConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	conns := make([]*wsConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	return conns
}

// PushUpdate sends raw update params (routing keys and attribute deltas)
// to every connection subscribed to topic's device, or to every connection
// when topic is empty.
func (s *Simulator) PushUpdate(topic string, params map[string]any) {
	data, err := json.Marshal(map[string]any{
		"jsonrpc": protocol.JSONRPCVersion,
		"method":  protocol.MethodUpdate,
		"params":  params,
	})
	if err != nil {
		return
	}
	for _, c := range s.connections() {
		if topic == "" || c.subscribed(topic) {
			s.send(c, data)
		}
	}
}

// PushRaw writes data to every open connection.
func (s *Simulator) PushRaw(data []byte) {
	for _, c := range s.connections() {
		s.send(c, data)
	}
}

// DropConnections closes every WebSocket with a normal close frame.
func (s *Simulator) DropConnections() {
	for _, c := range s.connections() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "simulator closing")
		c.writeMu.Lock()
		_ = c.conn.WriteMessage(websocket.CloseMessage, msg)
		c.writeMu.Unlock()
		_ = c.conn.Close()
	}
}

// SetRejectAuth makes srvWebSocketAuth answer authorized=false.
func (s *Simulator) SetRejectAuth(reject bool) {
	s.mu.Lock()
	s.rejectAuth = reject
	s.mu.Unlock()
}

// SetDropAuthReply suppresses the auth acknowledgement entirely.
func (s *Simulator) SetDropAuthReply(drop bool) {
	s.mu.Lock()
	s.dropAuthReply = drop
	s.mu.Unlock()
}

// SetMuted keeps connections open but stops every outbound frame, the way a
// stalled cloud behaves.
func (s *Simulator) SetMuted(muted bool) {
	s.mu.Lock()
	s.muted = muted
	s.mu.Unlock()
}

// SetRefuseUpgrade makes /api/wsrpc answer 503 instead of upgrading.
func (s *Simulator) SetRefuseUpgrade(refuse bool) {
	s.mu.Lock()
	s.refuseUpgrade = refuse
	s.mu.Unlock()
}

// FailHTTP makes the next n HTTP calls answer status. A negative n fails
// every call until FailHTTP(0, 0).
func (s *Simulator) FailHTTP(n, status int) {
	s.mu.Lock()
	s.httpFailures = n
	s.httpStatus = status
	s.mu.Unlock()
}

// HTTPCalls returns how often an endpoint ("login", "devices", "detail")
// was called.
func (s *Simulator) HTTPCalls(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.httpCalls[endpoint]
}

// Upgrades returns the number of accepted WebSocket upgrades.
func (s *Simulator) Upgrades() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upgrades
}

// Connections returns the number of open WebSocket connections.
func (s *Simulator) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Frames returns a copy of every frame received from clients.
func (s *Simulator) Frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.frames))
	copy(out, s.frames)
	return out
}

// Commands returns the module commands accepted from authorized clients.
func (s *Simulator) Commands() []protocol.ModuleCommandParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.ModuleCommandParams, len(s.commands))
	copy(out, s.commands)
	return out
}

// DoorState returns the simulated door state index and light state.
func (s *Simulator) DoorState() (door int, light bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.door, s.light
}
