package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/muurk/ryobigdo/internal/gdo"
	"github.com/muurk/ryobigdo/internal/logging"
	"go.uber.org/zap"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 250 // milliseconds
	defaultKeepAlive         = 60 * time.Second
	defaultCommandTimeout    = 30 * time.Second
)

var (
	// ErrConnectionFailed is returned when the broker cannot be reached.
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	// ErrTimeout is returned when the broker does not acknowledge in time.
	ErrTimeout = errors.New("mqtt: operation timed out")
)

// Device is the part of a session controller the bridge drives.
type Device interface {
	Descriptor() gdo.Descriptor
	Snapshot() gdo.State
	Subscribe(fn func(gdo.State)) (unsubscribe func())
	OpenDoor(ctx context.Context) error
	CloseDoor(ctx context.Context) error
	SetLight(ctx context.Context, on bool) error
}

// Config describes the broker connection.
type Config struct {
	Broker   string // e.g. tcp://localhost:1883
	Username string
	Password string
	ClientID string
	Prefix   string
	QoS      byte

	// CommandTimeout bounds one command received on a set topic.
	CommandTimeout time.Duration
}

// Bridge publishes device snapshots to MQTT and forwards commands from the
// set topics to the devices.
type Bridge struct {
	cfg    Config
	topics Topics
	client pahomqtt.Client

	mu      sync.Mutex
	devices map[string]Device
	unsubs  []func()
}

// New creates a bridge with a paho client configured for auto-reconnect
// and a retained offline LWT on the status topic.
func New(cfg Config) *Bridge {
	if cfg.ClientID == "" {
		cfg.ClientID = "ryobigdo-" + uuid.NewString()[:8]
	}
	b := newBridge(cfg, nil)
	b.client = pahomqtt.NewClient(b.clientOptions())
	return b
}

func newBridge(cfg Config, client pahomqtt.Client) *Bridge {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}
	return &Bridge{
		cfg:     cfg,
		topics:  Topics{Prefix: cfg.Prefix},
		client:  client,
		devices: make(map[string]Device),
	}
}

func (b *Bridge) clientOptions() *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(b.cfg.Broker)
	opts.SetClientID(b.cfg.ClientID)
	if b.cfg.Username != "" {
		opts.SetUsername(b.cfg.Username)
		opts.SetPassword(b.cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)
	// Commands may block while a session reconnects.
	opts.SetOrderMatters(false)
	opts.SetWill(b.topics.Status(), PayloadOffline, b.cfg.QoS, true)

	opts.SetOnConnectHandler(func(pahomqtt.Client) { b.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logging.Warn("MQTT connection lost", zap.String("broker", b.cfg.Broker), zap.Error(err))
	})
	return opts
}

// Topics returns the topic layout in use.
func (b *Bridge) Topics() Topics {
	return b.topics
}

// Connect opens the broker connection.
func (b *Bridge) Connect(ctx context.Context) error {
	logging.Info("Connecting to MQTT broker",
		zap.String("broker", b.cfg.Broker), zap.String("client_id", b.cfg.ClientID))

	if err := wait(ctx, b.client.Connect(), defaultConnectTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return nil
}

// handleConnect runs on every (re)connect: it announces the bridge,
// restores command subscriptions and republishes every device.
func (b *Bridge) handleConnect() {
	logging.Info("MQTT connected", zap.String("broker", b.cfg.Broker))
	b.publish(b.topics.Status(), PayloadOnline)

	b.mu.Lock()
	devices := make([]Device, 0, len(b.devices))
	for _, d := range b.devices {
		devices = append(devices, d)
	}
	b.mu.Unlock()

	for _, d := range devices {
		b.subscribeCommands(d)
		b.publishState(d.Descriptor(), d.Snapshot())
	}
}

// Attach starts mirroring a device: its snapshots are published on every
// fan-out notification and its set topic is subscribed.
func (b *Bridge) Attach(d Device) {
	desc := d.Descriptor()

	b.mu.Lock()
	b.devices[desc.DeviceID] = d
	b.mu.Unlock()

	unsub := d.Subscribe(func(s gdo.State) {
		b.publishState(desc, s)
	})

	b.mu.Lock()
	b.unsubs = append(b.unsubs, unsub)
	b.mu.Unlock()

	if b.client.IsConnected() {
		b.subscribeCommands(d)
		b.publishState(desc, d.Snapshot())
	}
	logging.Info("Bridging device",
		zap.String("device_id", desc.DeviceID),
		zap.String("state_topic", b.topics.State(desc.DeviceID)),
		zap.String("command_topic", b.topics.Command(desc.DeviceID)))
}

func (b *Bridge) subscribeCommands(d Device) {
	topic := b.topics.Command(d.Descriptor().DeviceID)
	token := b.client.Subscribe(topic, b.cfg.QoS, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleCommand(d, msg.Payload())
	})
	go func() {
		if err := wait(context.Background(), token, defaultPublishTimeout); err != nil {
			logging.Error("MQTT subscribe failed", zap.String("topic", topic), zap.Error(err))
		}
	}()
}

// handleCommand executes one set-topic payload against a device.
func (b *Bridge) handleCommand(d Device, payload []byte) {
	deviceID := d.Descriptor().DeviceID
	cmd, err := ParseCommand(payload)
	if err != nil {
		logging.Warn("Ignoring MQTT command", zap.String("device_id", deviceID), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.CommandTimeout)
	defer cancel()

	switch cmd {
	case CommandOpen:
		err = d.OpenDoor(ctx)
	case CommandClose:
		err = d.CloseDoor(ctx)
	case CommandLightOn:
		err = d.SetLight(ctx, true)
	case CommandLightOff:
		err = d.SetLight(ctx, false)
	}
	if err != nil {
		logging.Error("MQTT command failed",
			zap.String("device_id", deviceID), zap.String("command", string(cmd)), zap.Error(err))
		return
	}
	logging.Info("MQTT command executed",
		zap.String("device_id", deviceID), zap.String("command", string(cmd)))
}

func (b *Bridge) publishState(desc gdo.Descriptor, s gdo.State) {
	data, err := json.Marshal(NewStatePayload(desc, s))
	if err != nil {
		logging.Error("Failed to encode state", zap.String("device_id", desc.DeviceID), zap.Error(err))
		return
	}
	availability := PayloadOffline
	if s.Available {
		availability = PayloadOnline
	}
	b.publish(b.topics.State(desc.DeviceID), data)
	b.publish(b.topics.Availability(desc.DeviceID), availability)
}

// publish sends a retained message without blocking the caller, which is
// usually a session reader goroutine.
func (b *Bridge) publish(topic string, payload any) {
	token := b.client.Publish(topic, b.cfg.QoS, true, payload)
	go func() {
		if err := wait(context.Background(), token, defaultPublishTimeout); err != nil {
			logging.Warn("MQTT publish failed", zap.String("topic", topic), zap.Error(err))
		}
	}()
}

// Run connects and keeps the bridge up until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.Connect(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	b.Close()
	return nil
}

// Close detaches every device, marks the bridge offline and disconnects.
func (b *Bridge) Close() {
	b.mu.Lock()
	unsubs := b.unsubs
	b.unsubs = nil
	b.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}

	if b.client.IsConnected() {
		token := b.client.Publish(b.topics.Status(), b.cfg.QoS, true, PayloadOffline)
		token.WaitTimeout(defaultPublishTimeout)
	}
	b.client.Disconnect(defaultDisconnectQuiesce)
	logging.Info("MQTT bridge closed", zap.String("broker", b.cfg.Broker))
}

func wait(ctx context.Context, token pahomqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
