package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muurk/ryobigdo/internal/gdo"
	"github.com/muurk/ryobigdo/internal/session"
)

// CommandTimeout bounds one command issued from the dashboard.
const CommandTimeout = 30 * time.Second

// Device is the part of a session controller the dashboard drives.
type Device interface {
	Descriptor() gdo.Descriptor
	Snapshot() gdo.State
	State() session.ConnState
	Subscribe(fn func(gdo.State)) (unsubscribe func())
	OpenDoor(ctx context.Context) error
	CloseDoor(ctx context.Context) error
	SetLight(ctx context.Context, on bool) error
}

// Messages
type refreshMsg struct{}

type commandDoneMsg struct {
	deviceID string
	action   string
	err      error
}

// DashboardModel shows one card per device and sends commands to the
// selected one.
type DashboardModel struct {
	devices []Device
	states  []gdo.State
	conns   []session.ConnState

	selected int
	pending  map[string]string // device id -> action in flight
	lastErr  error
	status   string

	updates chan struct{}

	keys    keyMap
	help    help.Model
	spinner spinner.Model

	width  int
	height int
}

// NewDashboardModel creates a dashboard over devices. Subscriptions start in
// Init and are released by Close.
func NewDashboardModel(devices []Device) DashboardModel {
	s := spinner.New(spinner.WithSpinner(spinner.Dot))
	s.Style = SpinnerStyle

	width, height := GetTerminalSize()
	m := DashboardModel{
		devices: devices,
		pending: make(map[string]string),
		updates: make(chan struct{}, 1),
		keys:    defaultKeyMap(),
		help:    help.New(),
		spinner: s,
		width:   width,
		height:  height,
	}
	m.refresh()
	return m
}

// Watch subscribes to every device and returns a function that undoes it.
// Bursts of updates collapse into a single pending refresh.
func (m DashboardModel) Watch() (stop func()) {
	unsubs := make([]func(), 0, len(m.devices))
	for _, d := range m.devices {
		unsubs = append(unsubs, d.Subscribe(func(gdo.State) {
			select {
			case m.updates <- struct{}{}:
			default:
			}
		}))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Init starts the spinner and the update listener.
func (m DashboardModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForUpdate(m.updates))
}

func waitForUpdate(updates <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-updates
		return refreshMsg{}
	}
}

func (m *DashboardModel) refresh() {
	m.states = make([]gdo.State, len(m.devices))
	m.conns = make([]session.ConnState, len(m.devices))
	for i, d := range m.devices {
		m.states[i] = d.Snapshot()
		m.conns[i] = d.State()
	}
}

// Update handles messages
func (m DashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case refreshMsg:
		m.refresh()
		return m, waitForUpdate(m.updates)

	case commandDoneMsg:
		delete(m.pending, msg.deviceID)
		if msg.err != nil {
			m.lastErr = fmt.Errorf("%s: %w", msg.action, msg.err)
			m.status = ""
		} else {
			m.lastErr = nil
			m.status = msg.action + " sent"
		}
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m DashboardModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil

	case key.Matches(msg, m.keys.Next):
		if len(m.devices) > 0 {
			m.selected = (m.selected + 1) % len(m.devices)
		}
		return m, nil

	case key.Matches(msg, m.keys.Prev):
		if len(m.devices) > 0 {
			m.selected = (m.selected - 1 + len(m.devices)) % len(m.devices)
		}
		return m, nil

	case key.Matches(msg, m.keys.Open):
		return m.dispatch("open", func(ctx context.Context, d Device) error { return d.OpenDoor(ctx) })

	case key.Matches(msg, m.keys.Close):
		return m.dispatch("close", func(ctx context.Context, d Device) error { return d.CloseDoor(ctx) })

	case key.Matches(msg, m.keys.Light):
		on, _ := m.selectedState().LightOn()
		action := "light on"
		if on {
			action = "light off"
		}
		return m.dispatch(action, func(ctx context.Context, d Device) error { return d.SetLight(ctx, !on) })
	}

	return m, nil
}

func (m DashboardModel) selectedState() gdo.State {
	if m.selected < len(m.states) {
		return m.states[m.selected]
	}
	return gdo.State{}
}

// dispatch runs a command against the selected device unless one is already
// in flight for it.
func (m DashboardModel) dispatch(action string, fn func(context.Context, Device) error) (tea.Model, tea.Cmd) {
	if len(m.devices) == 0 {
		return m, nil
	}
	d := m.devices[m.selected]
	id := d.Descriptor().DeviceID
	if _, busy := m.pending[id]; busy {
		return m, nil
	}
	m.pending[id] = action
	m.status = ""
	return m, tea.Batch(commandCmd(d, action, fn), m.spinner.Tick)
}

func commandCmd(d Device, action string, fn func(context.Context, Device) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), CommandTimeout)
		defer cancel()
		return commandDoneMsg{
			deviceID: d.Descriptor().DeviceID,
			action:   action,
			err:      fn(ctx, d),
		}
	}
}

// View renders the dashboard
func (m DashboardModel) View() string {
	var b strings.Builder
	width := ContentWidth(m.width)

	b.WriteString(TitleStyle.Render(AppName))
	b.WriteString("\n\n")

	if len(m.devices) == 0 {
		b.WriteString(SubtitleStyle.Render("No devices."))
		b.WriteString("\n")
	}

	for i, d := range m.devices {
		desc := d.Descriptor()
		body := Card(desc, m.states[i], m.conns[i].String())
		if action, ok := m.pending[desc.DeviceID]; ok {
			body += "\n\n" + m.spinner.View() + " " + action + "..."
		}
		style := CardStyle
		if i == m.selected {
			style = SelectedCardStyle
		}
		b.WriteString(style.Width(width - 4).Render(body))
		b.WriteString("\n")
	}

	switch {
	case m.lastErr != nil:
		b.WriteString(ErrorStyle.Render("Error: " + m.lastErr.Error()))
		b.WriteString("\n")
	case m.status != "":
		b.WriteString(StatusBarStyle.Render(m.status))
		b.WriteString("\n")
	}

	b.WriteString(HelpStyle.Render(m.help.View(m.keys)))
	return lipgloss.NewStyle().MaxWidth(width).Render(b.String())
}

// Run shows the dashboard until the user quits or ctx is cancelled.
func Run(ctx context.Context, devices []Device) error {
	m := NewDashboardModel(devices)
	stop := m.Watch()
	defer stop()
	// Catch changes that landed between the first snapshot and Watch.
	m.refresh()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	return nil
}
