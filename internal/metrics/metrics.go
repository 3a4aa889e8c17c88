package metrics

import (
	"net/http"

	"github.com/muurk/ryobigdo/internal/gdo"
	"github.com/muurk/ryobigdo/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ryobigdo"

// doorStates is every symbolic door state exported as a door_state series.
var doorStates = []gdo.DoorState{
	gdo.DoorClosed, gdo.DoorOpen, gdo.DoorClosing, gdo.DoorOpening, gdo.DoorFault, gdo.DoorUnknown,
}

// Collector exports session and device metrics. It implements
// session.Recorder. A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	connState     *prometheus.GaugeVec
	connects      *prometheus.CounterVec
	watchdogTrips *prometheus.CounterVec
	frames        *prometheus.CounterVec
	commands      *prometheus.CounterVec

	doorState    *prometheus.GaugeVec
	doorPosition *prometheus.GaugeVec
	lightOn      *prometheus.GaugeVec
	available    *prometheus.GaugeVec
}

var _ session.Recorder = (*Collector)(nil)

// NewCollector creates a collector on its own registry, together with the
// Go runtime and process collectors.
func NewCollector() *Collector {
	device := []string{"device_id"}
	c := &Collector{
		registry: prometheus.NewRegistry(),
		connState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Current WebSocket session state (1=current state)",
		}, []string{"device_id", "state"}),
		connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "WebSocket dial attempts",
		}, device),
		watchdogTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watchdog_trips_total",
			Help:      "Connections force-closed after unanswered sends",
		}, device),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Inbound WebSocket frames by decoded kind",
		}, []string{"device_id", "kind"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Module commands by outcome (sent, failed)",
		}, []string{"device_id", "result"}),
		doorState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "door_state",
			Help:      "Symbolic door state (1=current state)",
		}, []string{"device_id", "state"}),
		doorPosition: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "door_position",
			Help:      "Cover position (-1=closed, 100=open)",
		}, device),
		lightOn: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "light_on",
			Help:      "Opener light state (1=on, 0=off)",
		}, device),
		available: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_available",
			Help:      "Whether the device session is live (1=available, 0=unavailable)",
		}, device),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.connState, c.connects, c.watchdogTrips, c.frames, c.commands,
		c.doorState, c.doorPosition, c.lightOn, c.available,
	)
	return c
}

// Registry returns the registry the collector exports through.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler exposes the collector's registry.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ConnectionState sets the one-hot connection_state series for a device.
func (c *Collector) ConnectionState(deviceID, state string) {
	if c == nil {
		return
	}
	for _, s := range session.AllStates {
		v := 0.0
		if s.String() == state {
			v = 1
		}
		c.connState.WithLabelValues(deviceID, s.String()).Set(v)
	}
}

func (c *Collector) ConnectAttempt(deviceID string) {
	if c == nil {
		return
	}
	c.connects.WithLabelValues(deviceID).Inc()
}

func (c *Collector) WatchdogTrip(deviceID string) {
	if c == nil {
		return
	}
	c.watchdogTrips.WithLabelValues(deviceID).Inc()
}

func (c *Collector) FrameReceived(deviceID, kind string) {
	if c == nil {
		return
	}
	c.frames.WithLabelValues(deviceID, kind).Inc()
}

func (c *Collector) CommandSent(deviceID, result string) {
	if c == nil {
		return
	}
	c.commands.WithLabelValues(deviceID, result).Inc()
}

// ObserveState updates the device gauges from a snapshot. It has the shape
// of a fan-out subscriber once bound to a device id.
func (c *Collector) ObserveState(deviceID string, s gdo.State) {
	if c == nil {
		return
	}

	current := s.DoorState()
	for _, ds := range doorStates {
		v := 0.0
		if ds == current {
			v = 1
		}
		c.doorState.WithLabelValues(deviceID, string(ds)).Set(v)
	}

	if pos, ok := s.CoverPosition(); ok {
		c.doorPosition.WithLabelValues(deviceID).Set(float64(pos))
	} else {
		c.doorPosition.DeleteLabelValues(deviceID)
	}

	if on, ok := s.LightOn(); ok {
		c.lightOn.WithLabelValues(deviceID).Set(boolGauge(on))
	} else {
		c.lightOn.DeleteLabelValues(deviceID)
	}

	c.available.WithLabelValues(deviceID).Set(boolGauge(s.Available))
}

// Observer returns a subscriber that feeds ObserveState for deviceID.
func (c *Collector) Observer(deviceID string) func(gdo.State) {
	return func(s gdo.State) { c.ObserveState(deviceID, s) }
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
