package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muurk/ryobigdo/internal/gdo"
)

// Card renders one device's state as labelled rows. conn is the session
// state name and may be empty.
func Card(desc gdo.Descriptor, s gdo.State, conn string) string {
	door := s.DoorState()

	rows := []string{
		TitleStyle.Padding(0).Render(desc.DisplayName()) + "  " + SubtitleStyle.Render(desc.DeviceID),
		"",
		row("Door", DoorStyle(door).Render(string(door))),
		row("Position", position(s)),
		row("Light", light(s)),
	}
	if mode := s.VacationMode(); mode != "" {
		rows = append(rows, row("Vacation", mode))
	}
	if flag, ok := s.SensorFlag(); ok {
		rows = append(rows, row("Sensor", onOff(flag)))
	}
	if t := s.DoorLastSet(); !t.IsZero() {
		rows = append(rows, row("Last change", t.Local().Format(time.DateTime)))
	}

	availability := lipgloss.NewStyle().Foreground(ErrorColor).Render("offline")
	if s.Available {
		availability = lipgloss.NewStyle().Foreground(SuccessColor).Render("online")
	}
	if conn != "" {
		availability += SubtitleStyle.Render(" (" + conn + ")")
	}
	rows = append(rows, row("Cloud", availability))

	if info := s.ErrorInfo(); info != "" {
		rows = append(rows, "", ErrorStyle.Render(info))
	}
	return strings.Join(rows, "\n")
}

func row(label, value string) string {
	return LabelStyle.Render(label) + ValueStyle.Render(value)
}

func position(s gdo.State) string {
	pos, ok := s.CoverPosition()
	switch {
	case !ok:
		return "unknown"
	case pos == gdo.ClosedPosition:
		return "closed"
	default:
		return fmt.Sprintf("%d%%", pos)
	}
}

func light(s gdo.State) string {
	on, ok := s.LightOn()
	if !ok {
		return "unknown"
	}
	out := onOff(on)
	if timer, ok := s.LightTimer(); ok && timer > 0 {
		out += fmt.Sprintf(" (timer %ds)", timer)
	}
	return out
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
