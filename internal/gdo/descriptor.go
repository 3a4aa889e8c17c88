package gdo

import "time"

// Descriptor identifies one garage door opener and the account that owns it.
// It is built once by discovery and never modified afterwards.
type Descriptor struct {
	DeviceID    string    `json:"device_id"` // varName, also the WebSocket topic prefix
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	APIKey      string    `json:"-"`
	ModuleID    int       `json:"module_id"`
	PortID      int       `json:"port_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Version     int       `json:"version"`
	TypeIDs     []string  `json:"type_ids,omitempty"`
	LastSeen    time.Time `json:"last_seen"`
	Serial      string    `json:"serial,omitempty"`
	MAC         string    `json:"mac,omitempty"`
}

// UniqueID is a stable identifier combining the display name and device id.
func (d Descriptor) UniqueID() string {
	return d.Name + "_" + d.DeviceID
}

// DisplayName returns the name, falling back to the device id.
func (d Descriptor) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.DeviceID
}
