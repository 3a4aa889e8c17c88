package gdo

import (
	"encoding/json"
	"maps"
	"math"
	"reflect"
	"slices"
	"time"
)

// Module kinds, the prefix of the "<module>_<port>" part of an update key.
const (
	ModuleDoor  = "garageDoor"
	ModuleLight = "garageLight"
)

// Door attributes
const (
	AttrDoorState       = "doorState"
	AttrDoorPosition    = "doorPosition"
	AttrDoorPercentOpen = "doorPercentOpen"
	AttrVacationMode    = "vacationMode"
	AttrSensorFlag      = "sensorFlag"
	AttrOpMode          = "opMode"
)

// Light attributes
const (
	AttrLightState = "lightState"
	AttrLightTimer = "lightTimer"
)

// DoorState is the symbolic state of the door.
type DoorState string

const (
	DoorClosed  DoorState = "Closed"
	DoorOpen    DoorState = "Open"
	DoorClosing DoorState = "Closing"
	DoorOpening DoorState = "Opening"
	DoorFault   DoorState = "Fault"
	// DoorUnknown means no doorState value has been received yet.
	DoorUnknown DoorState = "Unknown"
)

// DefaultDoorStateEnum is used when the server has not sent a doorState enum.
var DefaultDoorStateEnum = []string{"Closed", "Open", "Closing", "Opening", "Fault"}

// Cover position scale
const (
	// ClosedPosition is reported for a fully closed door. It sits outside the
	// 0-100 scale so callers can tell it apart from a raw position.
	ClosedPosition = -1
	// OpenPosition is reported for a fully open door.
	OpenPosition = 100
)

// Attribute is one named device attribute as mirrored from the cloud.
// Value and LastValue hold decoded JSON scalars (float64, bool, string) or
// nil when unknown.
type Attribute struct {
	Value     any      `json:"value"`
	LastValue any      `json:"lastValue,omitempty"`
	LastSet   int64    `json:"lastSet,omitempty"`
	Enum      []string `json:"enum,omitempty"`
}

// HasValue reports whether a value has been received.
func (a Attribute) HasValue() bool {
	return a.Value != nil
}

// Int returns the value as an integer. Non-integral numbers fail.
func (a Attribute) Int() (int, bool) {
	return toInt(a.Value)
}

// Float returns the value as a number.
func (a Attribute) Float() (float64, bool) {
	switch v := a.Value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

// Bool returns the value as a boolean; numbers are true when non-zero.
func (a Attribute) Bool() (bool, bool) {
	switch v := a.Value.(type) {
	case bool:
		return v, true
	case float64:
		return v != 0, true
	case int:
		return v != 0, true
	}
	return false, false
}

// Symbol looks the integer value up in the attribute's enum table.
func (a Attribute) Symbol() (string, bool) {
	v, ok := a.Int()
	if !ok {
		return "", false
	}
	return EnumLookup(a.Enum, v)
}

// LastSetTime converts the millisecond lastSet timestamp.
func (a Attribute) LastSetTime() time.Time {
	if a.LastSet == 0 {
		return time.Time{}
	}
	return time.UnixMilli(a.LastSet)
}

func (a Attribute) clone() Attribute {
	a.Enum = slices.Clone(a.Enum)
	return a
}

// EnumLookup returns enum[v] when v is a valid index.
func EnumLookup(enum []string, v int) (string, bool) {
	if v < 0 || v >= len(enum) {
		return "", false
	}
	return enum[v], true
}

func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, false
		}
		return int(v), true
	case int:
		return v, true
	case json.Number:
		i, err := v.Int64()
		return int(i), err == nil
	}
	return 0, false
}

// State is a point-in-time copy of a device's mirrored attributes. Values
// returned by Model.Snapshot share nothing with the live model.
type State struct {
	Door      map[string]Attribute `json:"garageDoor"`
	Light     map[string]Attribute `json:"garageLight"`
	Available bool                 `json:"available"`
}

// DefaultState is the state of a device nothing is known about yet.
func DefaultState() State {
	return State{
		Door: map[string]Attribute{
			AttrDoorState:       {Enum: slices.Clone(DefaultDoorStateEnum)},
			AttrDoorPosition:    {},
			AttrDoorPercentOpen: {},
			AttrVacationMode:    {},
			AttrSensorFlag:      {},
		},
		Light: map[string]Attribute{
			AttrLightState: {},
			AttrLightTimer: {},
		},
	}
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := State{
		Door:      make(map[string]Attribute, len(s.Door)),
		Light:     make(map[string]Attribute, len(s.Light)),
		Available: s.Available,
	}
	for k, v := range s.Door {
		out.Door[k] = v.clone()
	}
	for k, v := range s.Light {
		out.Light[k] = v.clone()
	}
	return out
}

// Equal reports whether two states hold the same attributes.
func (s State) Equal(o State) bool {
	eq := func(a, b Attribute) bool { return reflect.DeepEqual(a, b) }
	return s.Available == o.Available &&
		maps.EqualFunc(s.Door, o.Door, eq) &&
		maps.EqualFunc(s.Light, o.Light, eq)
}

// DoorState derives the symbolic door state from doorState's enum table.
// A value outside the table, or one that is not an integer, is a fault.
func (s State) DoorState() DoorState {
	attr, ok := s.Door[AttrDoorState]
	if !ok || !attr.HasValue() {
		return DoorUnknown
	}
	v, ok := attr.Int()
	if !ok {
		return DoorFault
	}
	enum := attr.Enum
	if len(enum) == 0 {
		enum = DefaultDoorStateEnum
	}
	sym, ok := EnumLookup(enum, v)
	if !ok {
		return DoorFault
	}
	return DoorState(sym)
}

// IsOpening reports whether the door is opening.
func (s State) IsOpening() bool { return s.DoorState() == DoorOpening }

// IsClosing reports whether the door is closing.
func (s State) IsClosing() bool { return s.DoorState() == DoorClosing }

// IsClosed reports whether the door is closed.
func (s State) IsClosed() bool { return s.DoorState() == DoorClosed }

// ErrorInfo is non-empty only while the door is in the Fault state.
func (s State) ErrorInfo() string {
	if s.DoorState() == DoorFault {
		return "Door in faulty state."
	}
	return ""
}

// CoverPosition returns ClosedPosition for a closed door, OpenPosition for an
// open one and the raw doorPosition value otherwise. ok is false while the
// door is moving or faulted and no position has been reported.
func (s State) CoverPosition() (pos int, ok bool) {
	switch s.DoorState() {
	case DoorClosed:
		return ClosedPosition, true
	case DoorOpen:
		return OpenPosition, true
	}
	return s.Door[AttrDoorPosition].Int()
}

// PercentOpen returns doorPercentOpen.
func (s State) PercentOpen() (int, bool) {
	return s.Door[AttrDoorPercentOpen].Int()
}

// VacationMode returns the symbolic vacation mode, or "" when unknown.
func (s State) VacationMode() string {
	sym, _ := s.Door[AttrVacationMode].Symbol()
	return sym
}

// OpMode returns the symbolic operating mode, or "" when unknown.
func (s State) OpMode() string {
	sym, _ := s.Door[AttrOpMode].Symbol()
	return sym
}

// SensorFlag returns the safety sensor flag.
func (s State) SensorFlag() (bool, bool) {
	return s.Door[AttrSensorFlag].Bool()
}

// LightOn returns the opener light state.
func (s State) LightOn() (bool, bool) {
	return s.Light[AttrLightState].Bool()
}

// LightTimer returns the light auto-off timer.
func (s State) LightTimer() (int, bool) {
	return s.Light[AttrLightTimer].Int()
}

// DoorLastSet returns when doorState last changed.
func (s State) DoorLastSet() time.Time {
	return s.Door[AttrDoorState].LastSetTime()
}
