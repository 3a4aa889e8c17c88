package cloudapi

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/muurk/ryobigdo/internal/gdo"
)

// Session holds the credentials returned by a successful login.
type Session struct {
	UserID string
	APIKey string
}

// DeviceSummary is one entry of GET /devices.
type DeviceSummary struct {
	DeviceID    string
	TypeIDs     []string
	Name        string
	Description string
	Version     int
	LastSeen    time.Time
}

// DeviceDetail is the part of GET /devices/{id} the client cares about.
type DeviceDetail struct {
	Serial   string
	MAC      string
	ModuleID int
	PortID   int

	// Door and Light are the raw "at" blocks of garageDoor_<port> and
	// garageLight_<port>, ready for gdo.StateFromDetail.
	Door  map[string]json.RawMessage
	Light map[string]json.RawMessage
}

// InitialState seeds a state model from the detail's attribute blocks.
func (d *DeviceDetail) InitialState() (gdo.State, error) {
	return gdo.StateFromDetail(d.Door, d.Light)
}

// Device is a fully discovered opener: its descriptor plus the state the
// HTTP API reported at discovery time.
type Device struct {
	Descriptor gdo.Descriptor
	Initial    gdo.State
}

// Describe assembles a descriptor from the login session and discovery data.
func Describe(username string, sess *Session, summary DeviceSummary, detail *DeviceDetail) gdo.Descriptor {
	return gdo.Descriptor{
		DeviceID:    summary.DeviceID,
		UserID:      sess.UserID,
		Username:    username,
		APIKey:      sess.APIKey,
		ModuleID:    detail.ModuleID,
		PortID:      detail.PortID,
		Name:        summary.Name,
		Description: summary.Description,
		Version:     summary.Version,
		TypeIDs:     slices.Clone(summary.TypeIDs),
		LastSeen:    summary.LastSeen,
		Serial:      detail.Serial,
		MAC:         detail.MAC,
	}
}

// Wire shapes

type loginResponse struct {
	Result struct {
		ID   string `json:"_id"`
		Auth struct {
			APIKey string `json:"apiKey"`
		} `json:"auth"`
	} `json:"result"`
}

type devicesResponse struct {
	Result []deviceEntry `json:"result"`
}

type deviceEntry struct {
	VarName       string   `json:"varName"`
	DeviceTypeIDs []string `json:"deviceTypeIds"`
	MetaData      struct {
		Name        string      `json:"name"`
		Description string      `json:"description"`
		Version     json.Number `json:"version"`
		Sys         struct {
			LastSeen json.Number `json:"lastSeen"`
		} `json:"sys"`
	} `json:"metaData"`
}

func (e deviceEntry) summary() DeviceSummary {
	s := DeviceSummary{
		DeviceID:    e.VarName,
		TypeIDs:     e.DeviceTypeIDs,
		Name:        e.MetaData.Name,
		Description: e.MetaData.Description,
	}
	if v, err := e.MetaData.Version.Int64(); err == nil {
		s.Version = int(v)
	}
	if ms, err := e.MetaData.Sys.LastSeen.Float64(); err == nil && ms > 0 {
		s.LastSeen = time.UnixMilli(int64(ms))
	}
	return s
}

type detailResponse struct {
	Result []struct {
		DeviceTypeMap map[string]struct {
			At map[string]json.RawMessage `json:"at"`
		} `json:"deviceTypeMap"`
	} `json:"result"`
}

const (
	masterUnitModule = "masterUnit"
	modulePortPrefix = "modulePort_"
)

// parseDetail walks result[0].deviceTypeMap. The first modulePort_* whose
// moduleProfiles mention garageDoor provides the module and port ids.
func parseDetail(resp *detailResponse) (*DeviceDetail, error) {
	if len(resp.Result) == 0 {
		return nil, NewParseError("device detail has no result", nil)
	}
	typeMap := resp.Result[0].DeviceTypeMap
	detail := &DeviceDetail{}

	if master, ok := typeMap[masterUnitModule]; ok {
		detail.Serial = stringValue(master.At["serialNumber"])
		detail.MAC = stringValue(master.At["macAddress"])
	}

	// Map iteration order is random; sort so the "first" port is stable.
	modules := make([]string, 0, len(typeMap))
	for name := range typeMap {
		if strings.HasPrefix(name, modulePortPrefix) {
			modules = append(modules, name)
		}
	}
	sort.Strings(modules)

	found := false
	for _, name := range modules {
		at := typeMap[name].At
		var profiles []string
		if err := json.Unmarshal(valueOf(at["moduleProfiles"]), &profiles); err != nil {
			continue
		}
		if !slices.ContainsFunc(profiles, func(p string) bool { return strings.Contains(p, gdo.ModuleDoor) }) {
			continue
		}
		moduleID, mok := intValue(at["moduleId"])
		portID, pok := intValue(at["portId"])
		if !mok || !pok {
			return nil, NewParseError(fmt.Sprintf("%s is missing moduleId or portId", name), nil)
		}
		detail.ModuleID, detail.PortID = moduleID, portID
		found = true
		break
	}
	if !found {
		return nil, NewParseError("no module port carries a garage door", nil)
	}

	port := strconv.Itoa(detail.PortID)
	door, ok := typeMap[gdo.ModuleDoor+"_"+port]
	if !ok {
		return nil, NewParseError(fmt.Sprintf("detail has no %s_%s module", gdo.ModuleDoor, port), nil)
	}
	detail.Door = door.At
	if light, ok := typeMap[gdo.ModuleLight+"_"+port]; ok {
		detail.Light = light.At
	}

	return detail, nil
}

// valueOf extracts the "value" field of an attribute object.
func valueOf(raw json.RawMessage) json.RawMessage {
	var attr struct {
		Value json.RawMessage `json:"value"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &attr) != nil {
		return nil
	}
	return attr.Value
}

func stringValue(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(valueOf(raw), &s) != nil {
		return ""
	}
	return s
}

func intValue(raw json.RawMessage) (int, bool) {
	var n json.Number
	if json.Unmarshal(valueOf(raw), &n) != nil {
		return 0, false
	}
	i, err := n.Int64()
	return int(i), err == nil
}
