package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/muurk/ryobigdo/internal/gdo"
	"github.com/muurk/ryobigdo/internal/notify"
	"github.com/muurk/ryobigdo/internal/session"
)

type fakeDevice struct {
	desc gdo.Descriptor
	hub  notify.Hub[gdo.State]

	mu    sync.Mutex
	state gdo.State
	calls []string
	err   error
}

func newFakeDevice(id, name string) *fakeDevice {
	s := gdo.DefaultState()
	s.Available = true
	s.Door[gdo.AttrDoorState] = gdo.Attribute{Value: float64(0)}
	s.Light[gdo.AttrLightState] = gdo.Attribute{Value: false}
	return &fakeDevice{desc: gdo.Descriptor{DeviceID: id, Name: name}, state: s}
}

func (f *fakeDevice) Descriptor() gdo.Descriptor { return f.desc }
func (f *fakeDevice) State() session.ConnState   { return session.StateOpen }

func (f *fakeDevice) Snapshot() gdo.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.Clone()
}

func (f *fakeDevice) Subscribe(fn func(gdo.State)) func() { return f.hub.Subscribe(fn) }

func (f *fakeDevice) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeDevice) OpenDoor(context.Context) error  { return f.record("open") }
func (f *fakeDevice) CloseDoor(context.Context) error { return f.record("close") }

func (f *fakeDevice) SetLight(_ context.Context, on bool) error {
	if on {
		return f.record("light on")
	}
	return f.record("light off")
}

func (f *fakeDevice) set(door int) {
	f.mu.Lock()
	f.state.Door[gdo.AttrDoorState] = gdo.Attribute{Value: float64(door)}
	snap := f.state.Clone()
	f.mu.Unlock()
	f.hub.Notify(snap)
}

func keyPress(s string) tea.KeyMsg {
	switch s {
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "shift+tab":
		return tea.KeyMsg{Type: tea.KeyShiftTab}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m DashboardModel, msg tea.Msg) (DashboardModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	dm, ok := next.(DashboardModel)
	if !ok {
		t.Fatalf("Update() returned %T, want DashboardModel", next)
	}
	return dm, cmd
}

// runCommand executes cmd and returns the first commandDoneMsg it yields.
func runCommand(t *testing.T, cmd tea.Cmd) commandDoneMsg {
	t.Helper()
	if cmd == nil {
		t.Fatal("expected a command")
	}
	switch msg := cmd().(type) {
	case commandDoneMsg:
		return msg
	case tea.BatchMsg:
		for _, c := range msg {
			if c == nil {
				continue
			}
			if done, ok := c().(commandDoneMsg); ok {
				return done
			}
		}
	}
	t.Fatal("command did not produce commandDoneMsg")
	return commandDoneMsg{}
}

func TestDashboard_ViewShowsDevices(t *testing.T) {
	m := NewDashboardModel([]Device{newFakeDevice("dev1", "Main"), newFakeDevice("dev2", "Side")})

	view := m.View()
	for _, want := range []string{"Main", "Side", "Closed", "online", "open"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q", want)
		}
	}
}

func TestDashboard_SelectionWraps(t *testing.T) {
	m := NewDashboardModel([]Device{newFakeDevice("dev1", "A"), newFakeDevice("dev2", "B")})

	m, _ = update(t, m, keyPress("tab"))
	if m.selected != 1 {
		t.Errorf("selected = %d after tab, want 1", m.selected)
	}
	m, _ = update(t, m, keyPress("tab"))
	if m.selected != 0 {
		t.Errorf("selected = %d after second tab, want 0", m.selected)
	}
	m, _ = update(t, m, keyPress("shift+tab"))
	if m.selected != 1 {
		t.Errorf("selected = %d after shift+tab, want 1", m.selected)
	}
}

func TestDashboard_OpenTargetsSelected(t *testing.T) {
	a, b := newFakeDevice("dev1", "A"), newFakeDevice("dev2", "B")
	m := NewDashboardModel([]Device{a, b})

	m, _ = update(t, m, keyPress("tab"))
	m, cmd := update(t, m, keyPress("o"))
	if m.pending["dev2"] != "open" {
		t.Errorf("pending = %v, want dev2 open", m.pending)
	}

	done := runCommand(t, cmd)
	if done.deviceID != "dev2" || done.err != nil {
		t.Errorf("commandDoneMsg = %+v", done)
	}
	if len(a.calls) != 0 || len(b.calls) != 1 || b.calls[0] != "open" {
		t.Errorf("calls a=%v b=%v, want only b open", a.calls, b.calls)
	}

	m, _ = update(t, m, done)
	if _, ok := m.pending["dev2"]; ok {
		t.Error("pending not cleared after completion")
	}
	if !strings.Contains(m.View(), "open sent") {
		t.Error("View() missing completion status")
	}
}

func TestDashboard_OneCommandInFlightPerDevice(t *testing.T) {
	m := NewDashboardModel([]Device{newFakeDevice("dev1", "A")})

	m, cmd := update(t, m, keyPress("c"))
	if cmd == nil {
		t.Fatal("first close produced no command")
	}
	_, cmd = update(t, m, keyPress("o"))
	if cmd != nil {
		t.Error("second command dispatched while one is in flight")
	}
}

func TestDashboard_LightToggles(t *testing.T) {
	d := newFakeDevice("dev1", "A")
	m := NewDashboardModel([]Device{d})

	_, cmd := update(t, m, keyPress("l"))
	if done := runCommand(t, cmd); done.action != "light on" {
		t.Errorf("action = %q, want light on", done.action)
	}
	if d.calls[0] != "light on" {
		t.Errorf("calls = %v", d.calls)
	}
}

func TestDashboard_CommandError(t *testing.T) {
	d := newFakeDevice("dev1", "A")
	d.err = session.ErrSendFailed
	m := NewDashboardModel([]Device{d})

	m, cmd := update(t, m, keyPress("o"))
	m, _ = update(t, m, runCommand(t, cmd))

	if !errors.Is(m.lastErr, session.ErrSendFailed) {
		t.Errorf("lastErr = %v, want ErrSendFailed", m.lastErr)
	}
	if !strings.Contains(m.View(), "Error:") {
		t.Error("View() does not show the error")
	}
}

func TestDashboard_UpdatesCoalesce(t *testing.T) {
	d := newFakeDevice("dev1", "A")
	m := NewDashboardModel([]Device{d})
	stop := m.Watch()
	defer stop()

	d.set(3)
	d.set(1)
	d.set(1)

	msg := waitForUpdate(m.updates)()
	if _, ok := msg.(refreshMsg); !ok {
		t.Fatalf("waitForUpdate() = %T, want refreshMsg", msg)
	}
	if len(m.updates) != 0 {
		t.Errorf("%d refreshes still queued, want bursts collapsed into one", len(m.updates))
	}

	m, cmd := update(t, m, refreshMsg{})
	if cmd == nil {
		t.Error("refresh did not re-arm the listener")
	}
	if got := m.states[0].DoorState(); got != gdo.DoorOpen {
		t.Errorf("DoorState() = %q after refresh, want %q", got, gdo.DoorOpen)
	}
}

func TestDashboard_WatchStop(t *testing.T) {
	d := newFakeDevice("dev1", "A")
	m := NewDashboardModel([]Device{d})

	stop := m.Watch()
	if d.hub.Len() != 1 {
		t.Fatalf("subscribers = %d, want 1", d.hub.Len())
	}
	stop()
	if d.hub.Len() != 0 {
		t.Errorf("subscribers = %d after stop, want 0", d.hub.Len())
	}
}

func TestDashboard_Quit(t *testing.T) {
	m := NewDashboardModel(nil)
	for _, k := range []string{"q", "ctrl+c"} {
		_, cmd := update(t, m, keyPress(k))
		if cmd == nil {
			t.Fatalf("%s produced no command", k)
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Errorf("%s did not quit", k)
		}
	}
}

func TestCard(t *testing.T) {
	s := gdo.DefaultState()
	s.Door[gdo.AttrDoorState] = gdo.Attribute{Value: float64(4)}
	s.Light[gdo.AttrLightState] = gdo.Attribute{Value: true}
	s.Light[gdo.AttrLightTimer] = gdo.Attribute{Value: float64(120)}

	out := Card(gdo.Descriptor{DeviceID: "dev1", Name: "Main"}, s, "closed")
	for _, want := range []string{"Main", "Fault", "on (timer 120s)", "offline", "(closed)"} {
		if !strings.Contains(out, want) {
			t.Errorf("Card() missing %q:\n%s", want, out)
		}
	}
}

func TestContentWidth(t *testing.T) {
	tests := []struct{ in, want int }{
		{20, MinTerminalWidth},
		{80, 80},
		{300, MaxContentWidth},
	}
	for _, tt := range tests {
		if got := ContentWidth(tt.in); got != tt.want {
			t.Errorf("ContentWidth(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
