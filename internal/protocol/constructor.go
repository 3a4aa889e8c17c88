package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Message constructors for frames sent to the Ryobi cloud over /api/wsrpc.

const (
	// JSONRPCVersion is the envelope version carried by every frame
	JSONRPCVersion = "2.0"

	// Outbound methods
	MethodAuth          = "srvWebSocketAuth"
	MethodSubscribe     = "wskSubscribe"
	MethodModuleCommand = "gdoModuleCommand"

	// Inbound methods
	MethodUpdate     = "wskAttributeUpdateNtfy"
	MethodAuthorized = "authorizedWebSocket"

	// ResultOK is the status string of a successful command result
	ResultOK = "OK"

	// HandshakeRequestID is the request id the cloud expects on auth and
	// subscribe requests. Commands are sent as notifications (no id).
	HandshakeRequestID = 3

	// ModuleCommandMsgType is the msgType of a gdoModuleCommand
	ModuleCommandMsgType = 16

	// GarageDoorModuleType is the moduleType of the garage door module
	GarageDoorModuleType = 5
)

// Request is an outbound JSON-RPC 2.0 frame.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int   `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// AuthParams are the params of a srvWebSocketAuth request.
type AuthParams struct {
	VarName string `json:"varName"`
	APIKey  string `json:"apiKey"`
}

// SubscribeParams are the params of a wskSubscribe request.
type SubscribeParams struct {
	Topic string `json:"topic"`
}

// ModuleCommandParams are the params of a gdoModuleCommand notification.
type ModuleCommandParams struct {
	MsgType    int         `json:"msgType"`
	ModuleType int         `json:"moduleType"`
	PortID     int         `json:"portId"`
	ModuleMsg  CommandBody `json:"moduleMsg"`
	Topic      string      `json:"topic"`
}

// CommandBody is the moduleMsg of a module command. Exactly one field is set.
type CommandBody struct {
	DoorCommand *int  `json:"doorCommand,omitempty"`
	LightState  *bool `json:"lightState,omitempty"`
}

// Door command values
const (
	DoorCommandClose = 0
	DoorCommandOpen  = 1
)

// OpenDoor returns the command body that opens the door.
func OpenDoor() CommandBody {
	v := DoorCommandOpen
	return CommandBody{DoorCommand: &v}
}

// CloseDoor returns the command body that closes the door.
func CloseDoor() CommandBody {
	v := DoorCommandClose
	return CommandBody{DoorCommand: &v}
}

// SetLight returns the command body that switches the opener light.
func SetLight(on bool) CommandBody {
	return CommandBody{LightState: &on}
}

// Validate checks that exactly one command is set.
func (b CommandBody) Validate() error {
	set := 0
	if b.DoorCommand != nil {
		if *b.DoorCommand != DoorCommandOpen && *b.DoorCommand != DoorCommandClose {
			return fmt.Errorf("invalid door command %d", *b.DoorCommand)
		}
		set++
	}
	if b.LightState != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("command body must set exactly one field, got %d", set)
	}
	return nil
}

// String renders the body for logs, e.g. "door=open" or "light=off".
func (b CommandBody) String() string {
	var parts []string
	if b.DoorCommand != nil {
		if *b.DoorCommand == DoorCommandOpen {
			parts = append(parts, "door=open")
		} else {
			parts = append(parts, "door=close")
		}
	}
	if b.LightState != nil {
		if *b.LightState {
			parts = append(parts, "light=on")
		} else {
			parts = append(parts, "light=off")
		}
	}
	if len(parts) == 0 {
		return "empty"
	}
	return strings.Join(parts, ",")
}

// UpdateTopic is the notification topic of one device.
func UpdateTopic(deviceID string) string {
	return deviceID + "." + MethodUpdate
}

// BuildAuth builds the srvWebSocketAuth request.
func BuildAuth(username, apiKey string) ([]byte, error) {
	if username == "" || apiKey == "" {
		return nil, fmt.Errorf("auth requires username and api key")
	}
	id := HandshakeRequestID
	return json.Marshal(Request{
		JSONRPC: JSONRPCVersion,
		ID:      &id,
		Method:  MethodAuth,
		Params:  AuthParams{VarName: username, APIKey: apiKey},
	})
}

// BuildSubscribe builds the wskSubscribe request for a device's update topic.
func BuildSubscribe(deviceID string) ([]byte, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("subscribe requires a device id")
	}
	id := HandshakeRequestID
	return json.Marshal(Request{
		JSONRPC: JSONRPCVersion,
		ID:      &id,
		Method:  MethodSubscribe,
		Params:  SubscribeParams{Topic: UpdateTopic(deviceID)},
	})
}

// BuildCommand builds a gdoModuleCommand notification for the module on portID.
func BuildCommand(portID int, deviceID string, body CommandBody) ([]byte, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("command requires a device id")
	}
	if err := body.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(Request{
		JSONRPC: JSONRPCVersion,
		Method:  MethodModuleCommand,
		Params: ModuleCommandParams{
			MsgType:    ModuleCommandMsgType,
			ModuleType: GarageDoorModuleType,
			PortID:     portID,
			ModuleMsg:  body,
			Topic:      deviceID,
		},
	})
}
