package gdo

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/muurk/ryobigdo/internal/logging"
	"github.com/muurk/ryobigdo/internal/protocol"
	"go.uber.org/zap"
)

var (
	// ErrForeignDevice is returned for an update addressed to another device.
	ErrForeignDevice = errors.New("update for a different device")

	// ErrUnknownModule is returned (joined, per key) for update keys whose
	// module this model does not mirror. The remaining keys are still applied.
	ErrUnknownModule = errors.New("unknown module")
)

// Attribute fields carried in update deltas
const (
	fieldValue     = "value"
	fieldLastValue = "lastValue"
	fieldLastSet   = "lastSet"
	fieldEnum      = "enum"
)

// Model is the live state mirror of one device. Each Apply call is atomic
// with respect to Snapshot.
type Model struct {
	deviceID string
	portID   int

	mu    sync.RWMutex
	state State
}

// NewModel creates a model seeded with initial. A zero State is replaced by
// DefaultState.
func NewModel(deviceID string, portID int, initial State) *Model {
	if initial.Door == nil && initial.Light == nil {
		initial = DefaultState()
	}
	return &Model{deviceID: deviceID, portID: portID, state: initial.Clone()}
}

// Snapshot returns a deep copy of the current state.
func (m *Model) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Clone()
}

// SetAvailable updates the availability flag and reports whether it changed.
func (m *Model) SetAvailable(available bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := m.state.Available != available
	m.state.Available = available
	return changed
}

// Apply merges the params of an update notification. addressedTo is the
// device the notification names (varName or topic prefix); an empty value
// means the notification came on this device's own topic.
//
// Keys are "<module>_<port>.<attribute>"; each field delta is written into
// that attribute without touching any other attribute or field. applied is
// true when at least one key was merged. A foreign device yields
// ErrForeignDevice and no change; unknown modules are reported in err but do
// not stop the other keys.
func (m *Model) Apply(addressedTo string, params map[string]json.RawMessage) (applied bool, err error) {
	if addressedTo != "" && addressedTo != m.deviceID {
		return false, fmt.Errorf("%w: got %s, watching %s", ErrForeignDevice, addressedTo, m.deviceID)
	}

	type pending struct {
		group string
		attr  string
		delta map[string]json.RawMessage
	}

	// Decode everything first so a garbled key never leaves a half-applied update.
	var (
		updates []pending
		errs    []error
	)
	for key, raw := range params {
		switch key {
		case protocol.ParamTopic, protocol.ParamVarName, protocol.ParamID:
			continue
		}

		group, attr, perr := m.route(key)
		if perr != nil {
			errs = append(errs, perr)
			continue
		}

		var delta map[string]json.RawMessage
		if derr := json.Unmarshal(raw, &delta); derr != nil {
			errs = append(errs, fmt.Errorf("attribute %s: %w", key, derr))
			continue
		}
		updates = append(updates, pending{group: group, attr: attr, delta: delta})
	}

	if len(updates) > 0 {
		m.mu.Lock()
		for _, u := range updates {
			target := m.state.Door
			if u.group == ModuleLight {
				target = m.state.Light
			}
			attr, merr := mergeAttribute(target[u.attr], u.delta)
			if merr != nil {
				errs = append(errs, fmt.Errorf("attribute %s.%s: %w", u.group, u.attr, merr))
			}
			target[u.attr] = attr
		}
		m.mu.Unlock()
	}

	return len(updates) > 0, errors.Join(errs...)
}

// route maps "garageDoor_7.doorState" to (ModuleDoor, "doorState").
func (m *Model) route(key string) (string, string, error) {
	module, attr, ok := strings.Cut(key, ".")
	if !ok || attr == "" {
		return "", "", fmt.Errorf("%w: malformed key %q", ErrUnknownModule, key)
	}

	kind, port, hasPort := strings.Cut(module, "_")
	if kind != ModuleDoor && kind != ModuleLight {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownModule, module)
	}
	if hasPort && m.portID > 0 {
		if p, err := strconv.Atoi(port); err == nil && p != m.portID {
			return "", "", fmt.Errorf("%w: %s is not on port %d", ErrUnknownModule, module, m.portID)
		}
	}
	return kind, attr, nil
}

// mergeAttribute writes the known fields of delta over attr. Fields that
// fail to decode are skipped and reported; the rest are still written.
func mergeAttribute(attr Attribute, delta map[string]json.RawMessage) (Attribute, error) {
	var errs []error
	for field, raw := range delta {
		switch field {
		case fieldValue:
			v, err := decodeScalar(raw)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", field, err))
				continue
			}
			attr.Value = v
		case fieldLastValue:
			v, err := decodeScalar(raw)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", field, err))
				continue
			}
			attr.LastValue = v
		case fieldLastSet:
			var ts float64
			if err := json.Unmarshal(raw, &ts); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", field, err))
				continue
			}
			attr.LastSet = int64(ts)
		case fieldEnum:
			var enum []string
			if err := json.Unmarshal(raw, &enum); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", field, err))
				continue
			}
			attr.Enum = enum
		default:
			logging.Debug("Ignoring attribute field", zap.String("field", field))
		}
	}
	return attr, errors.Join(errs...)
}

func decodeScalar(raw json.RawMessage) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	switch v.(type) {
	case nil, bool, float64, string:
		return v, nil
	}
	// Structured values are kept as their JSON text.
	return string(raw), nil
}

// ParseAttributes decodes an "at" block of the device detail response
// (attribute name -> {value, lastValue, lastSet, enum, ...}).
func ParseAttributes(at map[string]json.RawMessage) (map[string]Attribute, error) {
	out := make(map[string]Attribute, len(at))
	var errs []error
	for name, raw := range at {
		var delta map[string]json.RawMessage
		if err := json.Unmarshal(raw, &delta); err != nil {
			// Some detail entries are not attributes (plain strings, arrays).
			continue
		}
		attr, err := mergeAttribute(Attribute{}, delta)
		if err != nil {
			errs = append(errs, fmt.Errorf("attribute %s: %w", name, err))
		}
		out[name] = attr
	}
	return out, errors.Join(errs...)
}

// StateFromDetail builds the initial state from the garageDoor and
// garageLight "at" blocks of the device detail.
func StateFromDetail(door, light map[string]json.RawMessage) (State, error) {
	state := DefaultState()

	doorAttrs, derr := ParseAttributes(door)
	for name, attr := range doorAttrs {
		if name == AttrDoorState && len(attr.Enum) == 0 {
			attr.Enum = state.Door[AttrDoorState].Enum
		}
		state.Door[name] = attr
	}

	lightAttrs, lerr := ParseAttributes(light)
	for name, attr := range lightAttrs {
		state.Light[name] = attr
	}

	return state, errors.Join(derr, lerr)
}
