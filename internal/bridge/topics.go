package bridge

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultPrefix is the root of every bridge topic.
const DefaultPrefix = "ryobigdo"

// Availability payloads
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// Topics builds the bridge's topic names under one prefix.
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultPrefix
	}
	return strings.TrimSuffix(t.Prefix, "/")
}

// Status is the bridge's own online/offline topic, also used for the LWT.
func (t Topics) Status() string {
	return t.prefix() + "/bridge/status"
}

// State carries the retained JSON snapshot of a device.
func (t Topics) State(deviceID string) string {
	return fmt.Sprintf("%s/%s/state", t.prefix(), deviceID)
}

// Availability carries the retained online/offline flag of a device.
func (t Topics) Availability(deviceID string) string {
	return fmt.Sprintf("%s/%s/availability", t.prefix(), deviceID)
}

// Command is where OPEN, CLOSE, LIGHT_ON and LIGHT_OFF are accepted.
func (t Topics) Command(deviceID string) string {
	return fmt.Sprintf("%s/%s/set", t.prefix(), deviceID)
}

// Command is a device command received over MQTT.
type Command string

const (
	CommandOpen     Command = "OPEN"
	CommandClose    Command = "CLOSE"
	CommandLightOn  Command = "LIGHT_ON"
	CommandLightOff Command = "LIGHT_OFF"
)

// ErrUnknownCommand is returned for payloads that are not a known command.
var ErrUnknownCommand = errors.New("unknown command")

// ParseCommand reads a command payload. Case and surrounding whitespace are
// ignored.
func ParseCommand(payload []byte) (Command, error) {
	cmd := Command(strings.ToUpper(strings.TrimSpace(string(payload))))
	switch cmd {
	case CommandOpen, CommandClose, CommandLightOn, CommandLightOff:
		return cmd, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCommand, payload)
}
