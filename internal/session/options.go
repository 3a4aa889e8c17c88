package session

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// DefaultURL is the Ryobi cloud JSON-RPC WebSocket
	DefaultURL = "wss://tti.tiwiconnect.com/api/wsrpc"

	// DefaultAuthPollAttempts bounds how many poll intervals Connect waits
	// for the auth acknowledgement
	DefaultAuthPollAttempts = 10

	// DefaultPollInterval is the auth poll period
	DefaultPollInterval = 500 * time.Millisecond

	// DefaultWatchdogThreshold is the number of consecutive sends without
	// any inbound frame after which the link is considered stalled
	DefaultWatchdogThreshold = 5

	// DefaultSendAttempts bounds the reconnect-and-resend attempts of Send
	DefaultSendAttempts = 5

	// DefaultRefreshInterval is the supervisory loop period
	DefaultRefreshInterval = 60 * time.Second

	// DefaultHandshakeTimeout bounds the WebSocket upgrade
	DefaultHandshakeTimeout = 10 * time.Second

	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 256 * 1024
)

// Dialer opens WebSocket connections. *websocket.Dialer implements it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Recorder receives controller events for metrics export. All methods must
// be safe for concurrent use.
type Recorder interface {
	ConnectionState(deviceID, state string)
	ConnectAttempt(deviceID string)
	WatchdogTrip(deviceID string)
	FrameReceived(deviceID, kind string)
	CommandSent(deviceID, result string)
}

type nopRecorder struct{}

func (nopRecorder) ConnectionState(string, string) {}
func (nopRecorder) ConnectAttempt(string)          {}
func (nopRecorder) WatchdogTrip(string)            {}
func (nopRecorder) FrameReceived(string, string)   {}
func (nopRecorder) CommandSent(string, string)     {}

// Options tune a Controller. Zero values select the defaults.
type Options struct {
	URL               string
	Dialer            Dialer
	Header            http.Header
	AuthPollAttempts  int
	PollInterval      time.Duration
	WatchdogThreshold int
	SendAttempts      int
	RefreshInterval   time.Duration

	// PingInterval enables keepalive pings; a negative value disables them.
	PingInterval time.Duration
	// PongWait is how long the read side waits for any frame or pong.
	PongWait time.Duration

	Recorder Recorder
}

func (o Options) withDefaults() Options {
	if o.URL == "" {
		o.URL = DefaultURL
	}
	if o.Dialer == nil {
		o.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: DefaultHandshakeTimeout,
		}
	}
	if o.AuthPollAttempts <= 0 {
		o.AuthPollAttempts = DefaultAuthPollAttempts
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.WatchdogThreshold <= 0 {
		o.WatchdogThreshold = DefaultWatchdogThreshold
	}
	if o.SendAttempts <= 0 {
		o.SendAttempts = DefaultSendAttempts
	}
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = DefaultRefreshInterval
	}
	if o.PingInterval == 0 {
		o.PingInterval = pingPeriod
	}
	if o.PongWait <= 0 {
		o.PongWait = pongWait
	}
	if o.PingInterval > 0 && o.PingInterval >= o.PongWait {
		o.PingInterval = (o.PongWait * 9) / 10
	}
	if o.Recorder == nil {
		o.Recorder = nopRecorder{}
	}
	return o
}
