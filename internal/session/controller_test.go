package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/muurk/ryobigdo/internal/gdo"
	"github.com/muurk/ryobigdo/internal/protocol"
	"github.com/muurk/ryobigdo/internal/simulator"
)

type countingRecorder struct {
	mu       sync.Mutex
	states   []string
	dials    int
	trips    int
	frames   map[string]int
	commands map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{frames: map[string]int{}, commands: map[string]int{}}
}

func (r *countingRecorder) ConnectionState(_, state string) {
	r.mu.Lock()
	r.states = append(r.states, state)
	r.mu.Unlock()
}

func (r *countingRecorder) ConnectAttempt(string) {
	r.mu.Lock()
	r.dials++
	r.mu.Unlock()
}

func (r *countingRecorder) WatchdogTrip(string) {
	r.mu.Lock()
	r.trips++
	r.mu.Unlock()
}

func (r *countingRecorder) FrameReceived(_, kind string) {
	r.mu.Lock()
	r.frames[kind]++
	r.mu.Unlock()
}

func (r *countingRecorder) CommandSent(_, result string) {
	r.mu.Lock()
	r.commands[result]++
	r.mu.Unlock()
}

func (r *countingRecorder) totalFrames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, v := range r.frames {
		n += v
	}
	return n
}

func (r *countingRecorder) get(f func(*countingRecorder) int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return f(r)
}

type fixture struct {
	sim  *simulator.Simulator
	ctrl *Controller
	rec  *countingRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	sim := simulator.New(simulator.Options{
		Username:   "u@example.com",
		Password:   "pw",
		DeviceID:   "dev1",
		PortID:     7,
		TravelTime: 20 * time.Millisecond,
	})
	server := httptest.NewServer(sim.Handler())

	rec := newCountingRecorder()
	desc := gdo.Descriptor{
		DeviceID: "dev1",
		Username: "u@example.com",
		APIKey:   sim.APIKey(),
		PortID:   7,
		Name:     "Garage",
	}
	ctrl := New(desc, gdo.State{}, Options{
		URL:              simulator.WebSocketURL(server.URL),
		PollInterval:     10 * time.Millisecond,
		AuthPollAttempts: 10,
		RefreshInterval:  30 * time.Millisecond,
		PingInterval:     -1,
		Recorder:         rec,
	})

	t.Cleanup(func() {
		_ = ctrl.Close()
		sim.Close()
		server.Close()
	})
	return &fixture{sim: sim, ctrl: ctrl, rec: rec}
}

// connect opens the session and waits for the handshake replies so later
// assertions do not race with them.
func (f *fixture) connect(t *testing.T) {
	t.Helper()
	if err := f.ctrl.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, "handshake replies", func() bool { return f.rec.totalFrames() >= 2 })
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnect_OpensAndSubscribes(t *testing.T) {
	f := newFixture(t)

	var notified atomic.Int32
	f.ctrl.Subscribe(func(s gdo.State) {
		if s.Available {
			notified.Add(1)
		}
	})

	f.connect(t)

	if got := f.ctrl.State(); got != StateOpen {
		t.Errorf("State() = %v, want %v", got, StateOpen)
	}
	if !f.ctrl.IsAvailable() {
		t.Error("IsAvailable() = false after Connect")
	}
	if n := notified.Load(); n != 1 {
		t.Errorf("notifications = %d, want 1", n)
	}
	if f.sim.Connections() != 1 {
		t.Errorf("simulator connections = %d, want 1", f.sim.Connections())
	}
}

func TestConnect_IdempotentWhenOpen(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	for i := 0; i < 3; i++ {
		if err := f.ctrl.Connect(context.Background()); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
	}

	if n := f.sim.Upgrades(); n != 1 {
		t.Errorf("Upgrades() = %d, want 1", n)
	}
	if n := f.rec.get(func(r *countingRecorder) int { return r.dials }); n != 1 {
		t.Errorf("dial attempts = %d, want 1", n)
	}
}

func TestConnect_Concurrent(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.ctrl.Connect(context.Background()); err != nil {
				t.Errorf("Connect() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if n := f.sim.Upgrades(); n != 1 {
		t.Errorf("Upgrades() = %d, want 1", n)
	}
}

func TestConnect_AuthRejected(t *testing.T) {
	f := newFixture(t)
	f.sim.SetRejectAuth(true)

	err := f.ctrl.Connect(context.Background())
	if !errors.Is(err, ErrAuthRejected) {
		t.Fatalf("Connect() error = %v, want ErrAuthRejected", err)
	}
	if got := f.ctrl.State(); got != StateClosed {
		t.Errorf("State() = %v, want %v", got, StateClosed)
	}
	if f.ctrl.IsAvailable() {
		t.Error("IsAvailable() = true after rejected auth")
	}
}

func TestConnect_AuthTimeout(t *testing.T) {
	f := newFixture(t)
	f.sim.SetDropAuthReply(true)

	start := time.Now()
	err := f.ctrl.Connect(context.Background())
	if !errors.Is(err, ErrConnectTimeout) {
		t.Fatalf("Connect() error = %v, want ErrConnectTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Connect() took %v, want bounded by the poll budget", elapsed)
	}
	if got := f.ctrl.State(); got != StateClosed {
		t.Errorf("State() = %v, want %v", got, StateClosed)
	}
}

func TestConnect_DialFailure(t *testing.T) {
	f := newFixture(t)
	f.sim.SetRefuseUpgrade(true)

	if err := f.ctrl.Connect(context.Background()); err == nil {
		t.Fatal("Connect() error = nil, want dial error")
	}
	if got := f.ctrl.State(); got != StateError {
		t.Errorf("State() = %v, want %v", got, StateError)
	}
}

func TestUpdate_AppliedAndNotifiedOnce(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	var calls atomic.Int32
	var last atomic.Value
	f.ctrl.Subscribe(func(s gdo.State) {
		calls.Add(1)
		last.Store(s)
	})

	f.sim.PushUpdate("", map[string]any{
		"topic":                  "dev1.wskAttributeUpdateNtfy",
		"varName":                "dev1",
		"garageDoor_7.doorState": map[string]any{"value": 1},
	})

	waitFor(t, "notification", func() bool { return calls.Load() >= 1 })
	time.Sleep(30 * time.Millisecond)

	if n := calls.Load(); n != 1 {
		t.Errorf("notifications = %d, want 1", n)
	}
	snap := f.ctrl.Snapshot()
	if v, _ := snap.Door[gdo.AttrDoorState].Int(); v != 1 {
		t.Errorf("doorState.value = %v, want 1", snap.Door[gdo.AttrDoorState].Value)
	}
	if got := snap.DoorState(); got != gdo.DoorOpen {
		t.Errorf("DoorState() = %q, want %q", got, gdo.DoorOpen)
	}
	if s, _ := last.Load().(gdo.State); s.DoorState() != gdo.DoorOpen {
		t.Errorf("subscriber saw %q, want %q", s.DoorState(), gdo.DoorOpen)
	}
}

func TestUpdate_ForeignDeviceIgnored(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	var calls atomic.Int32
	f.ctrl.Subscribe(func(gdo.State) { calls.Add(1) })

	f.sim.PushUpdate("", map[string]any{
		"varName":                "someone-else",
		"garageDoor_7.doorState": map[string]any{"value": 1},
	})
	// A valid update afterwards proves the foreign one was processed first.
	f.sim.PushUpdate("", map[string]any{
		"varName":                 "dev1",
		"garageLight_7.lightState": map[string]any{"value": true},
	})

	waitFor(t, "notification", func() bool { return calls.Load() >= 1 })
	time.Sleep(30 * time.Millisecond)

	if n := calls.Load(); n != 1 {
		t.Errorf("notifications = %d, want 1", n)
	}
	snap := f.ctrl.Snapshot()
	if got := snap.DoorState(); got != gdo.DoorUnknown {
		t.Errorf("DoorState() = %q, foreign update leaked", got)
	}
	if on, ok := snap.LightOn(); !ok || !on {
		t.Errorf("LightOn() = (%v, %v), want (true, true)", on, ok)
	}
}

func TestUnknownFrameIsDropped(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	f.sim.PushRaw([]byte(`{"jsonrpc":"2.0","method":"somethingNew","params":{}}`))
	f.sim.PushRaw([]byte(`not json`))

	waitFor(t, "invalid frames", func() bool {
		return f.rec.get(func(r *countingRecorder) int { return r.frames["invalid"] }) >= 2
	})
	if got := f.ctrl.State(); got != StateOpen {
		t.Errorf("State() = %v, want %v after unknown frames", got, StateOpen)
	}
}

func TestServerClose_MarksUnavailable(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	var lost atomic.Bool
	f.ctrl.Subscribe(func(s gdo.State) {
		if !s.Available {
			lost.Store(true)
		}
	})

	f.sim.DropConnections()

	waitFor(t, "state change", func() bool { return f.ctrl.State() != StateOpen })
	if got := f.ctrl.State(); got != StateClosed && got != StateError {
		t.Errorf("State() = %v, want closed or error", got)
	}
	waitFor(t, "unavailable notification", lost.Load)
	if f.ctrl.IsAvailable() {
		t.Error("IsAvailable() = true after the server closed the socket")
	}
	// Losing the socket must not reconnect on its own.
	time.Sleep(50 * time.Millisecond)
	if n := f.sim.Upgrades(); n != 1 {
		t.Errorf("Upgrades() = %d, want 1", n)
	}
}

func TestSend_CommandReachesDevice(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	var opened atomic.Bool
	f.ctrl.Subscribe(func(s gdo.State) {
		if s.DoorState() == gdo.DoorOpen {
			opened.Store(true)
		}
	})

	if err := f.ctrl.OpenDoor(context.Background()); err != nil {
		t.Fatalf("OpenDoor() error = %v", err)
	}
	waitFor(t, "door open", opened.Load)

	cmds := f.sim.Commands()
	if len(cmds) != 1 {
		t.Fatalf("len(Commands()) = %d, want 1", len(cmds))
	}
	if cmds[0].PortID != 7 || cmds[0].ModuleMsg.DoorCommand == nil || *cmds[0].ModuleMsg.DoorCommand != protocol.DoorCommandOpen {
		t.Errorf("command = %+v, want doorCommand=1 on port 7", cmds[0])
	}
}

func TestSend_ReconnectsWhenClosed(t *testing.T) {
	f := newFixture(t)

	if err := f.ctrl.SetLight(context.Background(), true); err != nil {
		t.Fatalf("SetLight() error = %v", err)
	}

	if n := f.sim.Upgrades(); n != 1 {
		t.Errorf("Upgrades() = %d, want 1", n)
	}
	if n := len(f.sim.Commands()); n != 1 {
		t.Errorf("len(Commands()) = %d, want 1", n)
	}
	if got := f.ctrl.State(); got != StateOpen {
		t.Errorf("State() = %v, want %v", got, StateOpen)
	}
}

func TestSend_FailsAfterReconnectAttempts(t *testing.T) {
	f := newFixture(t)
	f.sim.SetRefuseUpgrade(true)

	err := f.ctrl.OpenDoor(context.Background())
	if !errors.Is(err, ErrSendFailed) {
		t.Fatalf("OpenDoor() error = %v, want ErrSendFailed", err)
	}
	if n := f.rec.get(func(r *countingRecorder) int { return r.dials }); n != DefaultSendAttempts {
		t.Errorf("dial attempts = %d, want %d", n, DefaultSendAttempts)
	}
	if n := len(f.sim.Commands()); n != 0 {
		t.Errorf("len(Commands()) = %d, want 0", n)
	}
	if n := f.rec.get(func(r *countingRecorder) int { return r.commands["failed"] }); n != 1 {
		t.Errorf("failed commands = %d, want 1", n)
	}
}

func TestSend_NotSentWithoutAuth(t *testing.T) {
	f := newFixture(t)
	f.sim.SetDropAuthReply(true)

	err := f.ctrl.CloseDoor(context.Background())
	if !errors.Is(err, ErrSendFailed) || !errors.Is(err, ErrConnectTimeout) {
		t.Fatalf("CloseDoor() error = %v, want ErrSendFailed wrapping ErrConnectTimeout", err)
	}
	if n := len(f.sim.Commands()); n != 0 {
		t.Errorf("len(Commands()) = %d, want 0", n)
	}
}

func TestWatchdog_ForcesOneReconnect(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	f.sim.SetMuted(true)
	for i := 0; i < DefaultWatchdogThreshold; i++ {
		if err := f.ctrl.SetLight(context.Background(), i%2 == 0); err != nil {
			t.Fatalf("send %d error = %v", i+1, err)
		}
	}
	if got := f.ctrl.State(); got != StateClosed {
		t.Errorf("State() = %v after %d unanswered sends, want %v", got, DefaultWatchdogThreshold, StateClosed)
	}
	if f.ctrl.IsAvailable() {
		t.Error("IsAvailable() = true after the watchdog closed the link")
	}
	if n := f.rec.get(func(r *countingRecorder) int { return r.trips }); n != 1 {
		t.Errorf("watchdog trips = %d right after the last unanswered send, want 1", n)
	}
	waitFor(t, "muted commands", func() bool { return len(f.sim.Commands()) == DefaultWatchdogThreshold })
	if n := f.sim.Upgrades(); n != 1 {
		t.Fatalf("Upgrades() = %d before the next send, want 1", n)
	}

	f.sim.SetMuted(false)
	if err := f.ctrl.OpenDoor(context.Background()); err != nil {
		t.Fatalf("OpenDoor() error = %v", err)
	}

	if n := f.sim.Upgrades(); n != 2 {
		t.Errorf("Upgrades() = %d, want exactly one reconnect", n)
	}
	if n := f.rec.get(func(r *countingRecorder) int { return r.trips }); n != 1 {
		t.Errorf("watchdog trips = %d, want 1", n)
	}
	cmds := f.sim.Commands()
	if len(cmds) != DefaultWatchdogThreshold+1 {
		t.Fatalf("len(Commands()) = %d, want %d", len(cmds), DefaultWatchdogThreshold+1)
	}
	if last := cmds[len(cmds)-1]; last.ModuleMsg.DoorCommand == nil {
		t.Errorf("last command = %+v, want the door command", last)
	}
	if got := f.ctrl.State(); got != StateOpen {
		t.Errorf("State() = %v, want %v", got, StateOpen)
	}
}

func TestWatchdog_ResetByInboundTraffic(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	for i := 0; i < 2*DefaultWatchdogThreshold; i++ {
		before := f.rec.totalFrames()
		if err := f.ctrl.SetLight(context.Background(), i%2 == 0); err != nil {
			t.Fatalf("send %d error = %v", i+1, err)
		}
		// The simulator answers every light command with an update.
		waitFor(t, "update", func() bool { return f.rec.totalFrames() > before })
	}

	if n := f.sim.Upgrades(); n != 1 {
		t.Errorf("Upgrades() = %d, want 1", n)
	}
	if n := f.rec.get(func(r *countingRecorder) int { return r.trips }); n != 0 {
		t.Errorf("watchdog trips = %d, want 0", n)
	}
}

func TestSetPosition_NotImplemented(t *testing.T) {
	f := newFixture(t)
	if err := f.ctrl.SetPosition(context.Background(), 50); !errors.Is(err, ErrNotImplemented) {
		t.Errorf("SetPosition() error = %v, want ErrNotImplemented", err)
	}
	if n := f.sim.Upgrades(); n != 0 {
		t.Errorf("Upgrades() = %d, SetPosition should not dial", n)
	}
}

func TestRun_ReconnectsAndStops(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.ctrl.Run(ctx) }()

	waitFor(t, "first connect", func() bool { return f.ctrl.State() == StateOpen })

	f.sim.DropConnections()
	waitFor(t, "reconnect", func() bool { return f.sim.Upgrades() >= 2 && f.ctrl.State() == StateOpen })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run() did not return after cancellation")
	}

	if got := f.ctrl.State(); got != StateClosed {
		t.Errorf("State() = %v, want %v", got, StateClosed)
	}
}

func TestRun_SurvivesFailures(t *testing.T) {
	f := newFixture(t)
	f.sim.SetRejectAuth(true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.ctrl.Run(ctx) }()

	waitFor(t, "retries", func() bool { return f.sim.Upgrades() >= 2 })
	f.sim.SetRejectAuth(false)
	waitFor(t, "recovery", func() bool { return f.ctrl.State() == StateOpen })

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}
}

func TestConnState_String(t *testing.T) {
	tests := []struct {
		s    ConnState
		want string
	}{
		{StateClosed, "closed"},
		{StateConnecting, "connecting"},
		{StateOpen, "open"},
		{StateError, "error"},
		{ConnState(9), "ConnState(9)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestKeepalive_HoldsQuietLink(t *testing.T) {
	f := newFixture(t)
	f.ctrl.opts.PingInterval = 20 * time.Millisecond
	f.ctrl.opts.PongWait = 100 * time.Millisecond
	f.connect(t)

	// No JSON frames arrive while muted; only pongs extend the read deadline.
	f.sim.SetMuted(true)
	time.Sleep(350 * time.Millisecond)

	if got := f.ctrl.State(); got != StateOpen {
		t.Errorf("State() = %v after a quiet period with pings, want open", got)
	}
	if !f.ctrl.IsAvailable() {
		t.Error("IsAvailable() = false, want true")
	}
}

func TestOptions_PingIntervalBelowPongWait(t *testing.T) {
	opts := Options{PingInterval: time.Hour, PongWait: time.Second}.withDefaults()
	if opts.PingInterval != 900*time.Millisecond {
		t.Errorf("PingInterval = %v, want 900ms", opts.PingInterval)
	}

	opts = Options{PingInterval: -1}.withDefaults()
	if opts.PingInterval >= 0 {
		t.Errorf("PingInterval = %v, want keepalive left disabled", opts.PingInterval)
	}
}

func TestNotify_LastDeliveryIsLatestState(t *testing.T) {
	f := newFixture(t)

	var mu sync.Mutex
	var last gdo.State
	f.ctrl.Subscribe(func(s gdo.State) {
		mu.Lock()
		last = s
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(pos int) {
			defer wg.Done()
			params := map[string]json.RawMessage{
				"garageDoor_7.doorPosition": json.RawMessage(fmt.Sprintf(`{"value":%d}`, pos)),
			}
			if applied, _ := f.ctrl.model.Apply("dev1", params); applied {
				f.ctrl.notify()
			}
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if want := f.ctrl.Snapshot(); !last.Equal(want) {
		t.Errorf("last delivered doorPosition = %v, want latest %v",
			last.Door[gdo.AttrDoorPosition].Value, want.Door[gdo.AttrDoorPosition].Value)
	}
}
