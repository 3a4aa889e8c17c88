package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/muurk/ryobigdo/internal/gdo"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	server := httptest.NewServer(c.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func assertLine(t *testing.T, body, line string) {
	t.Helper()
	for _, l := range strings.Split(body, "\n") {
		if l == line {
			return
		}
	}
	t.Errorf("metrics output missing %q", line)
}

func TestRecorderCounters(t *testing.T) {
	c := NewCollector()
	c.ConnectAttempt("dev1")
	c.ConnectAttempt("dev1")
	c.WatchdogTrip("dev1")
	c.FrameReceived("dev1", "update")
	c.FrameReceived("dev1", "update")
	c.FrameReceived("dev1", "auth_result")
	c.CommandSent("dev1", "sent")
	c.CommandSent("dev1", "failed")

	body := scrape(t, c)
	assertLine(t, body, `ryobigdo_connect_attempts_total{device_id="dev1"} 2`)
	assertLine(t, body, `ryobigdo_watchdog_trips_total{device_id="dev1"} 1`)
	assertLine(t, body, `ryobigdo_frames_received_total{device_id="dev1",kind="update"} 2`)
	assertLine(t, body, `ryobigdo_frames_received_total{device_id="dev1",kind="auth_result"} 1`)
	assertLine(t, body, `ryobigdo_commands_total{device_id="dev1",result="sent"} 1`)
	assertLine(t, body, `ryobigdo_commands_total{device_id="dev1",result="failed"} 1`)
}

func TestConnectionStateIsOneHot(t *testing.T) {
	c := NewCollector()
	c.ConnectionState("dev1", "connecting")
	c.ConnectionState("dev1", "open")

	body := scrape(t, c)
	assertLine(t, body, `ryobigdo_connection_state{device_id="dev1",state="open"} 1`)
	assertLine(t, body, `ryobigdo_connection_state{device_id="dev1",state="connecting"} 0`)
	assertLine(t, body, `ryobigdo_connection_state{device_id="dev1",state="closed"} 0`)
	assertLine(t, body, `ryobigdo_connection_state{device_id="dev1",state="error"} 0`)
}

func TestObserveState(t *testing.T) {
	c := NewCollector()
	s := gdo.DefaultState()
	s.Available = true
	s.Door[gdo.AttrDoorState] = gdo.Attribute{Value: float64(0)}
	s.Light[gdo.AttrLightState] = gdo.Attribute{Value: true}

	c.Observer("dev1")(s)

	body := scrape(t, c)
	assertLine(t, body, `ryobigdo_door_state{device_id="dev1",state="Closed"} 1`)
	assertLine(t, body, `ryobigdo_door_state{device_id="dev1",state="Open"} 0`)
	assertLine(t, body, `ryobigdo_door_position{device_id="dev1"} -1`)
	assertLine(t, body, `ryobigdo_light_on{device_id="dev1"} 1`)
	assertLine(t, body, `ryobigdo_device_available{device_id="dev1"} 1`)
}

func TestObserveState_UnknownPositionDropsSeries(t *testing.T) {
	c := NewCollector()
	s := gdo.DefaultState()
	s.Door[gdo.AttrDoorState] = gdo.Attribute{Value: float64(1)}
	c.ObserveState("dev1", s)

	// Moving with no reported position: the series must disappear.
	s.Door[gdo.AttrDoorState] = gdo.Attribute{Value: float64(3)}
	c.ObserveState("dev1", s)

	body := scrape(t, c)
	if strings.Contains(body, `ryobigdo_door_position{device_id="dev1"}`) {
		t.Error("door_position still exported for an unknown position")
	}
	assertLine(t, body, `ryobigdo_door_state{device_id="dev1",state="Opening"} 1`)
	assertLine(t, body, `ryobigdo_device_available{device_id="dev1"} 0`)
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	c.ConnectionState("dev1", "open")
	c.ConnectAttempt("dev1")
	c.WatchdogTrip("dev1")
	c.FrameReceived("dev1", "update")
	c.CommandSent("dev1", "sent")
	c.ObserveState("dev1", gdo.DefaultState())
	c.Observer("dev1")(gdo.DefaultState())

	if c.Registry() != nil {
		t.Error("Registry() on nil collector = non-nil")
	}
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("nil Handler() status = %d, want 404", rec.Code)
	}
}
