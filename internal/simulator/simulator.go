package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/muurk/ryobigdo/internal/logging"
	"github.com/muurk/ryobigdo/internal/protocol"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	// DefaultTravelTime is how long the simulated door takes to open or close
	DefaultTravelTime = 3 * time.Second
)

// Door states, as indices into the doorState enum
const (
	doorClosed  = 0
	doorOpen    = 1
	doorClosing = 2
	doorOpening = 3
)

var doorEnum = []string{"Closed", "Open", "Closing", "Opening", "Fault"}

// Options configure the simulated account and opener.
type Options struct {
	Username   string
	Password   string
	DeviceID   string
	DeviceName string
	ModuleID   int
	PortID     int
	// TravelTime is the delay between Opening and Open (or Closing and Closed)
	TravelTime time.Duration
}

func (o *Options) setDefaults() {
	if o.Username == "" {
		o.Username = "demo@example.com"
	}
	if o.Password == "" {
		o.Password = "demo"
	}
	if o.DeviceID == "" {
		o.DeviceID = "sim-" + uuid.NewString()[:8]
	}
	if o.DeviceName == "" {
		o.DeviceName = "Simulated Garage"
	}
	if o.ModuleID == 0 {
		o.ModuleID = 9
	}
	if o.PortID == 0 {
		o.PortID = 7
	}
	if o.TravelTime == 0 {
		o.TravelTime = DefaultTravelTime
	}
}

// Simulator is an in-process fake of the Ryobi cloud: the three HTTP calls
// used for discovery and the /api/wsrpc JSON-RPC WebSocket.
type Simulator struct {
	opts   Options
	userID string
	apiKey string

	upgrader websocket.Upgrader

	mu            sync.Mutex
	door          int
	position      int
	light         bool
	lastSet       map[string]int64
	conns         map[*wsConn]struct{}
	upgrades      int
	frames        [][]byte
	commands      []protocol.ModuleCommandParams
	rejectAuth    bool
	dropAuthReply bool
	muted         bool
	refuseUpgrade bool
	httpFailures  int
	httpStatus    int
	httpCalls     map[string]int
	timers        []*time.Timer
}

// New creates a simulator with the door closed and the light off.
func New(opts Options) *Simulator {
	opts.setDefaults()
	return &Simulator{
		opts:      opts,
		userID:    uuid.NewString(),
		apiKey:    strings.ReplaceAll(uuid.NewString(), "-", ""),
		door:      doorClosed,
		lastSet:   make(map[string]int64),
		conns:     make(map[*wsConn]struct{}),
		httpCalls: make(map[string]int),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Options returns the effective options (with defaults filled in).
func (s *Simulator) Options() Options { return s.opts }

// UserID returns the user id handed out by /api/login.
func (s *Simulator) UserID() string { return s.userID }

// APIKey returns the api key handed out by /api/login.
func (s *Simulator) APIKey() string { return s.apiKey }

// Handler returns the HTTP handler serving the fake API under /api.
func (s *Simulator) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("GET /api/devices", s.handleDevices)
	mux.HandleFunc("GET /api/devices/{id}", s.handleDeviceDetail)
	mux.HandleFunc("/api/wsrpc", s.handleWebSocket)
	return mux
}

// ListenAndServe serves the simulator on addr until ctx is cancelled.
func (s *Simulator) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves the simulator on ln until ctx is cancelled.
func (s *Simulator) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	logging.Info("Simulator listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("username", s.opts.Username),
		zap.String("device_id", s.opts.DeviceID),
	)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Close()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Close drops every WebSocket connection and stops pending door animations.
func (s *Simulator) Close() {
	s.mu.Lock()
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
	s.mu.Unlock()
	s.DropConnections()
}

// APIURL returns the HTTP API root for a server base URL, e.g. an
// httptest.Server URL.
func APIURL(baseURL string) string {
	return strings.TrimSuffix(baseURL, "/") + "/api"
}

// WebSocketURL returns the wsrpc endpoint for a server base URL.
func WebSocketURL(baseURL string) string {
	u := strings.TrimSuffix(baseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/api/wsrpc"
}

// HTTP handlers

func (s *Simulator) failHTTP(w http.ResponseWriter, endpoint string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.httpCalls[endpoint]++
	if s.httpFailures == 0 {
		return false
	}
	if s.httpFailures > 0 {
		s.httpFailures--
	}
	w.WriteHeader(s.httpStatus)
	return true
}

func (s *Simulator) checkCredentials(username, password string) bool {
	return username == s.opts.Username && password == s.opts.Password
}

func (s *Simulator) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.failHTTP(w, "login") {
		return
	}

	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		creds.Username = r.URL.Query().Get("username")
		creds.Password = r.URL.Query().Get("password")
	}
	if !s.checkCredentials(creds.Username, creds.Password) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	writeJSON(w, map[string]any{
		"result": map[string]any{
			"_id":     s.userID,
			"varName": s.opts.Username,
			"auth":    map[string]any{"apiKey": s.apiKey},
		},
	})
}

func (s *Simulator) handleDevices(w http.ResponseWriter, r *http.Request) {
	if s.failHTTP(w, "devices") {
		return
	}
	if !s.checkCredentials(r.URL.Query().Get("username"), r.URL.Query().Get("password")) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	writeJSON(w, map[string]any{
		"result": []any{
			map[string]any{
				"varName":       s.opts.DeviceID,
				"deviceTypeIds": []string{"gdoMasterUnit"},
				"metaData": map[string]any{
					"name":        s.opts.DeviceName,
					"description": "Simulated opener",
					"version":     1,
					"sys":         map[string]any{"lastSeen": time.Now().UnixMilli()},
				},
			},
		},
	})
}

func (s *Simulator) handleDeviceDetail(w http.ResponseWriter, r *http.Request) {
	if s.failHTTP(w, "detail") {
		return
	}
	if !s.checkCredentials(r.URL.Query().Get("username"), r.URL.Query().Get("password")) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if r.PathValue("id") != s.opts.DeviceID {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	s.mu.Lock()
	door := s.doorAttributesLocked()
	light := s.lightAttributesLocked()
	s.mu.Unlock()

	port := fmt.Sprint(s.opts.PortID)
	writeJSON(w, map[string]any{
		"result": []any{
			map[string]any{
				"varName": s.opts.DeviceID,
				"deviceTypeMap": map[string]any{
					"masterUnit": map[string]any{"at": map[string]any{
						"serialNumber": map[string]any{"value": "SIM0001"},
						"macAddress":   map[string]any{"value": "02:00:00:00:00:01"},
					}},
					"modulePort_" + port: map[string]any{"at": map[string]any{
						"moduleProfiles": map[string]any{"value": []string{"garageDoor_" + port, "garageLight_" + port}},
						"moduleId":       map[string]any{"value": s.opts.ModuleID},
						"portId":         map[string]any{"value": s.opts.PortID},
					}},
					"garageDoor_" + port:  map[string]any{"at": door},
					"garageLight_" + port: map[string]any{"at": light},
				},
			},
		},
	})
}

func (s *Simulator) doorAttributesLocked() map[string]any {
	return map[string]any{
		"doorState":       map[string]any{"value": s.door, "lastSet": s.lastSet["doorState"], "enum": doorEnum},
		"doorPosition":    map[string]any{"value": s.position},
		"doorPercentOpen": map[string]any{"value": s.position},
		"vacationMode":    map[string]any{"value": 0, "enum": []string{"off", "on"}},
		"sensorFlag":      map[string]any{"value": false},
		"opMode":          map[string]any{"value": 0, "enum": []string{"normal", "learn"}},
	}
}

func (s *Simulator) lightAttributesLocked() map[string]any {
	return map[string]any{
		"lightState": map[string]any{"value": s.light, "lastSet": s.lastSet["lightState"]},
		"lightTimer": map[string]any{"value": 0},
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("Failed to write response", zap.Error(err))
	}
}
