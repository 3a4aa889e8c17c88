package config

import (
	"time"
)

// CurrentVersion is the config file format version.
const CurrentVersion = 1

// Config is the whole user configuration file.
type Config struct {
	Version   int                `yaml:"version"`
	Account   Account            `yaml:"account"`
	Endpoints Endpoints          `yaml:"endpoints,omitempty"`
	Session   SessionPrefs       `yaml:"session,omitempty"`
	Devices   map[string]*Device `yaml:"devices,omitempty"` // Keyed by device id (varName)
	MQTT      *MQTT              `yaml:"mqtt,omitempty"`
	Metrics   *Metrics           `yaml:"metrics,omitempty"`
}

// Account holds the Ryobi cloud login. The password is optional; when it
// is empty the CLI prompts for it.
type Account struct {
	Username string `yaml:"username"`
	Password string `yaml:"password,omitempty"`
}

// Endpoints override the cloud URLs, e.g. to point at a local simulator.
type Endpoints struct {
	API       string `yaml:"api,omitempty"`       // e.g. https://tti.tiwiconnect.com/api
	WebSocket string `yaml:"websocket,omitempty"` // e.g. wss://tti.tiwiconnect.com/api/wsrpc
}

// SessionPrefs tune the session controllers. Zero values keep the built-in
// defaults.
type SessionPrefs struct {
	RefreshInterval   time.Duration `yaml:"refresh_interval,omitempty"`
	PollInterval      time.Duration `yaml:"poll_interval,omitempty"`
	AuthPollAttempts  int           `yaml:"auth_poll_attempts,omitempty"`
	SendAttempts      int           `yaml:"send_attempts,omitempty"`
	WatchdogThreshold int           `yaml:"watchdog_threshold,omitempty"`
}

// Device is user metadata for one opener.
type Device struct {
	Nickname string    `yaml:"nickname,omitempty"`  // Overrides the cloud display name
	Serial   string    `yaml:"serial,omitempty"`    // Last seen serial number
	LastSeen time.Time `yaml:"last_seen,omitempty"` // Last discovery time
	Ignore   bool      `yaml:"ignore,omitempty"`    // Skip this device entirely
}

// MQTT configures the bridge started by `watch --mqtt`.
type MQTT struct {
	Broker   string `yaml:"broker"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	ClientID string `yaml:"client_id,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	Addr string `yaml:"addr"` // e.g. :9108
}

// New creates a Config with default values.
func New() *Config {
	return &Config{
		Version: CurrentVersion,
		Devices: make(map[string]*Device),
	}
}

// EnsureDevice returns the entry for deviceID, creating it if needed.
func (c *Config) EnsureDevice(deviceID string) *Device {
	if c.Devices == nil {
		c.Devices = make(map[string]*Device)
	}
	if device, exists := c.Devices[deviceID]; exists {
		return device
	}
	device := &Device{}
	c.Devices[deviceID] = device
	return device
}

// SetDeviceNickname sets a user-friendly nickname for a device.
func (c *Config) SetDeviceNickname(deviceID, nickname string) {
	c.EnsureDevice(deviceID).Nickname = nickname
}

// UpdateDeviceSeen records a discovery of the device.
func (c *Config) UpdateDeviceSeen(deviceID, serial string) {
	device := c.EnsureDevice(deviceID)
	device.LastSeen = time.Now()
	if serial != "" {
		device.Serial = serial
	}
}

// Nicknames maps device ids to their configured nicknames.
func (c *Config) Nicknames() map[string]string {
	out := make(map[string]string)
	for id, d := range c.Devices {
		if d != nil && d.Nickname != "" {
			out[id] = d.Nickname
		}
	}
	return out
}

// Ignored reports whether deviceID is marked to be skipped.
func (c *Config) Ignored(deviceID string) bool {
	d := c.Devices[deviceID]
	return d != nil && d.Ignore
}
