package tui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muurk/ryobigdo/internal/gdo"
	"golang.org/x/term"
)

// Application branding
const AppName = "RYOBI GARAGE DOOR"

// Layout constants
const (
	MinTerminalWidth = 60  // Minimum supported terminal width
	MaxContentWidth  = 100 // Maximum content width before capping
)

// Color palette
var (
	PrimaryColor = lipgloss.Color("#7D56F4") // Purple - headers, borders
	SuccessColor = lipgloss.Color("#43BF6D") // Green - closed, online
	ErrorColor   = lipgloss.Color("#FF5555") // Red - fault, offline
	WarningColor = lipgloss.Color("#FFA500") // Orange - moving, open
	MutedColor   = lipgloss.Color("#626262") // Gray - secondary info
	TextColor    = lipgloss.Color("#FFFFFF") // White - main content
)

var (
	TitleStyle = lipgloss.NewStyle().
			Foreground(PrimaryColor).
			Bold(true).
			Padding(0, 1)

	SubtitleStyle = lipgloss.NewStyle().
			Foreground(MutedColor).
			Italic(true)

	CardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(MutedColor).
			Padding(0, 2)

	SelectedCardStyle = CardStyle.
				BorderForeground(PrimaryColor)

	LabelStyle = lipgloss.NewStyle().
			Foreground(MutedColor).
			Width(14)

	ValueStyle = lipgloss.NewStyle().
			Foreground(TextColor)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ErrorColor).
			Bold(true)

	StatusBarStyle = lipgloss.NewStyle().
			Foreground(MutedColor).
			Padding(0, 1)

	SpinnerStyle = lipgloss.NewStyle().
			Foreground(PrimaryColor)

	HelpStyle = lipgloss.NewStyle().
			Padding(1, 1, 0, 1)
)

// DoorStyle colors a door state.
func DoorStyle(s gdo.DoorState) lipgloss.Style {
	style := lipgloss.NewStyle().Bold(true)
	switch s {
	case gdo.DoorClosed:
		return style.Foreground(SuccessColor)
	case gdo.DoorOpen, gdo.DoorOpening, gdo.DoorClosing:
		return style.Foreground(WarningColor)
	case gdo.DoorFault:
		return style.Foreground(ErrorColor)
	default:
		return style.Foreground(MutedColor)
	}
}

// GetTerminalSize returns the terminal dimensions, or 80x24 when stdout is
// not a terminal.
func GetTerminalSize() (width, height int) {
	width, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 80, 24
	}
	return width, height
}

// ContentWidth clamps a terminal width to the usable content width.
func ContentWidth(termWidth int) int {
	switch {
	case termWidth < MinTerminalWidth:
		return MinTerminalWidth
	case termWidth > MaxContentWidth:
		return MaxContentWidth
	default:
		return termWidth
	}
}
