package simulator

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/muurk/ryobigdo/internal/gdo"
	"github.com/muurk/ryobigdo/internal/logging"
	"github.com/muurk/ryobigdo/internal/protocol"
	"go.uber.org/zap"
)

// wsConn is one client connection to /api/wsrpc.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu         sync.Mutex
	authorized bool
	topics     map[string]bool
}

func (c *wsConn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topics[topic]
}

type inbound struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func (s *Simulator) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	refuse := s.refuseUpgrade
	s.mu.Unlock()
	if refuse {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(maxMessageSize)

	c := &wsConn{conn: conn, topics: make(map[string]bool)}
	s.mu.Lock()
	s.upgrades++
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	remote := r.RemoteAddr
	logging.LogConnection(remote, "websocket_upgraded")

	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		_ = conn.Close()
		logging.LogConnection(remote, "websocket_closed")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Debug("Connection closed or error reading frame",
					zap.String("remote_addr", remote), zap.Error(err))
			}
			return
		}
		logging.LogWebSocketMessage(remote, "received", data)
		s.handleFrame(c, data)
	}
}

func (s *Simulator) handleFrame(c *wsConn, data []byte) {
	s.mu.Lock()
	s.frames = append(s.frames, append([]byte(nil), data...))
	muted := s.muted
	s.mu.Unlock()

	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		logging.Warn("Simulator received malformed frame", zap.Error(err))
		return
	}

	switch msg.Method {
	case protocol.MethodAuth:
		s.handleAuth(c, msg, muted)
	case protocol.MethodSubscribe:
		s.handleSubscribe(c, msg, muted)
	case protocol.MethodModuleCommand:
		s.handleCommand(c, msg, muted)
	default:
		logging.Warn("Simulator received unknown method", zap.String("method", msg.Method))
	}
}

func (s *Simulator) handleAuth(c *wsConn, msg inbound, muted bool) {
	var params protocol.AuthParams
	_ = json.Unmarshal(msg.Params, &params)

	s.mu.Lock()
	ok := !s.rejectAuth && params.VarName == s.opts.Username && params.APIKey == s.apiKey
	drop := s.dropAuthReply
	s.mu.Unlock()

	c.mu.Lock()
	c.authorized = ok
	c.mu.Unlock()

	if muted || drop {
		return
	}
	s.reply(c, msg.ID, map[string]any{"authorized": ok, "varName": params.VarName, "aCnt": 0})
}

func (s *Simulator) handleSubscribe(c *wsConn, msg inbound, muted bool) {
	var params protocol.SubscribeParams
	_ = json.Unmarshal(msg.Params, &params)

	c.mu.Lock()
	allowed := c.authorized
	if allowed {
		c.topics[params.Topic] = true
	}
	c.mu.Unlock()

	if muted {
		return
	}
	if !allowed {
		s.reply(c, msg.ID, map[string]any{"result": "NotAuthorized"})
		return
	}
	s.reply(c, msg.ID, map[string]any{"result": protocol.ResultOK})
}

func (s *Simulator) handleCommand(c *wsConn, msg inbound, muted bool) {
	var params protocol.ModuleCommandParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		logging.Warn("Simulator received malformed command", zap.Error(err))
		return
	}

	c.mu.Lock()
	allowed := c.authorized
	c.mu.Unlock()
	if !allowed || params.Topic != s.opts.DeviceID {
		return
	}

	s.mu.Lock()
	s.commands = append(s.commands, params)
	s.mu.Unlock()

	logging.Info("Simulator command", zap.String("command", params.ModuleMsg.String()))
	if muted {
		return
	}

	switch {
	case params.ModuleMsg.DoorCommand != nil:
		s.moveDoor(*params.ModuleMsg.DoorCommand == protocol.DoorCommandOpen)
	case params.ModuleMsg.LightState != nil:
		s.setLight(*params.ModuleMsg.LightState)
	}
}

func (s *Simulator) reply(c *wsConn, id json.RawMessage, result any) {
	frame := map[string]any{"jsonrpc": protocol.JSONRPCVersion, "result": result}
	if len(id) > 0 {
		frame["id"] = id
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	if err := c.write(data); err != nil {
		logging.Debug("Simulator reply failed", zap.Error(err))
	}
}

// moveDoor starts the Opening/Closing animation. A door already at the
// target stays put but still reports its state.
func (s *Simulator) moveDoor(open bool) {
	moving, final, position := doorClosing, doorClosed, 0
	if open {
		moving, final, position = doorOpening, doorOpen, 100
	}

	s.mu.Lock()
	if s.door == final {
		s.mu.Unlock()
		s.publishDoor()
		return
	}
	s.setDoorLocked(moving)
	s.mu.Unlock()
	s.publishDoor()

	s.mu.Lock()
	defer s.mu.Unlock()
	t := time.AfterFunc(s.opts.TravelTime, func() {
		s.mu.Lock()
		s.setDoorLocked(final)
		s.position = position
		s.mu.Unlock()
		s.publishDoor()
	})
	s.timers = append(s.timers, t)
}

func (s *Simulator) setDoorLocked(state int) {
	s.door = state
	s.lastSet["doorState"] = time.Now().UnixMilli()
}

func (s *Simulator) setLight(on bool) {
	s.mu.Lock()
	s.light = on
	s.lastSet["lightState"] = time.Now().UnixMilli()
	attrs := map[string]any{"lightState": s.lightAttributesLocked()["lightState"]}
	s.mu.Unlock()

	s.publish(s.moduleKeys(gdo.ModuleLight, attrs))
}

func (s *Simulator) publishDoor() {
	s.mu.Lock()
	all := s.doorAttributesLocked()
	s.mu.Unlock()
	attrs := map[string]any{
		"doorState":    all["doorState"],
		"doorPosition": all["doorPosition"],
	}
	s.publish(s.moduleKeys(gdo.ModuleDoor, attrs))
}

// moduleKeys turns attribute deltas into "<module>_<port>.<attr>" params.
func (s *Simulator) moduleKeys(module string, attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for name, delta := range attrs {
		out[fmt.Sprintf("%s_%d.%s", module, s.opts.PortID, name)] = delta
	}
	return out
}
