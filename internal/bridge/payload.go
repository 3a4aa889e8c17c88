package bridge

import (
	"time"

	"github.com/muurk/ryobigdo/internal/gdo"
)

// StatePayload is the JSON document published on the state topic.
type StatePayload struct {
	DeviceID     string     `json:"device_id"`
	Name         string     `json:"name"`
	Available    bool       `json:"available"`
	Door         string     `json:"door"`
	Position     *int       `json:"position"`
	PercentOpen  *int       `json:"percent_open,omitempty"`
	Light        *bool      `json:"light"`
	LightTimer   *int       `json:"light_timer,omitempty"`
	VacationMode string     `json:"vacation_mode,omitempty"`
	SensorFlag   *bool      `json:"sensor_flag,omitempty"`
	Error        string     `json:"error,omitempty"`
	DoorLastSet  *time.Time `json:"door_last_set,omitempty"`
}

// NewStatePayload flattens a snapshot. Unknown values are left nil.
func NewStatePayload(desc gdo.Descriptor, s gdo.State) StatePayload {
	p := StatePayload{
		DeviceID:     desc.DeviceID,
		Name:         desc.DisplayName(),
		Available:    s.Available,
		Door:         string(s.DoorState()),
		VacationMode: s.VacationMode(),
		Error:        s.ErrorInfo(),
	}
	if v, ok := s.CoverPosition(); ok {
		p.Position = &v
	}
	if v, ok := s.PercentOpen(); ok {
		p.PercentOpen = &v
	}
	if v, ok := s.LightOn(); ok {
		p.Light = &v
	}
	if v, ok := s.LightTimer(); ok {
		p.LightTimer = &v
	}
	if v, ok := s.SensorFlag(); ok {
		p.SensorFlag = &v
	}
	if t := s.DoorLastSet(); !t.IsZero() {
		t = t.UTC()
		p.DoorLastSet = &t
	}
	return p
}
