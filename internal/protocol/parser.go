package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Kind identifies which of the known inbound shapes a frame decoded to.
type Kind int

const (
	KindUpdate Kind = iota + 1
	KindAuthResult
	KindCommandResult
)

// String returns the metric/log label of the kind.
func (k Kind) String() string {
	switch k {
	case KindUpdate:
		return "update"
	case KindAuthResult:
		return "auth_result"
	case KindCommandResult:
		return "command_result"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Message is one decoded inbound frame: *UpdateNotification, *AuthResult or
// *CommandResult.
type Message interface {
	Kind() Kind
}

// Keys inside update params that carry routing information rather than
// attribute deltas.
const (
	ParamTopic   = "topic"
	ParamVarName = "varName"
	ParamID      = "id"
)

// UpdateNotification is a wskAttributeUpdateNtfy push. Params maps dotted
// "<module>_<port>.<attribute>" keys to field deltas, alongside routing keys.
type UpdateNotification struct {
	Params map[string]json.RawMessage
}

// Kind implements Message
func (*UpdateNotification) Kind() Kind { return KindUpdate }

// DeviceID returns the device the update is addressed to: the varName param,
// else the device prefix of the topic param, else "".
func (u *UpdateNotification) DeviceID() string {
	if raw, ok := u.Params[ParamVarName]; ok {
		var id string
		if err := json.Unmarshal(raw, &id); err == nil && id != "" {
			return id
		}
	}
	if raw, ok := u.Params[ParamTopic]; ok {
		var topic string
		if err := json.Unmarshal(raw, &topic); err == nil {
			if id, found := strings.CutSuffix(topic, "."+MethodUpdate); found {
				return id
			}
		}
	}
	return ""
}

// AuthResult acknowledges the srvWebSocketAuth request.
type AuthResult struct {
	Authorized bool
	// Method is true when the ack came as an authorizedWebSocket notification
	// rather than as the result of the auth request.
	Method bool
}

// Kind implements Message
func (*AuthResult) Kind() Kind { return KindAuthResult }

// CommandResult is the generic result of a request that is not an auth ack.
type CommandResult struct {
	ID     json.RawMessage
	Status string
	Raw    json.RawMessage
}

// Kind implements Message
func (*CommandResult) Kind() Kind { return KindCommandResult }

// OK reports whether the server answered "OK".
func (r *CommandResult) OK() bool {
	return r.Status == ResultOK
}

// ProtocolError describes a frame that matched none of the known shapes.
// Sessions log and drop these.
type ProtocolError struct {
	Reason string
	Frame  []byte
	Err    error
}

// Error implements the error interface
func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return "protocol error: " + e.Reason
}

// Unwrap returns the underlying decode error, if any
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// envelope holds the members of any JSON-RPC frame we care about
type envelope struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
}

// Decode classifies an inbound frame. Shapes are tried in priority order:
// update notification, auth ack, generic result. The first structural match
// wins; anything else is a *ProtocolError.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &ProtocolError{Reason: "malformed frame", Frame: data, Err: err}
	}

	if msg, ok := decodeUpdate(env); ok {
		return msg, nil
	}
	if msg, ok := decodeAuthResult(env); ok {
		return msg, nil
	}
	if msg, ok := decodeCommandResult(env); ok {
		return msg, nil
	}

	reason := "unrecognized frame"
	if env.Method != "" {
		reason = fmt.Sprintf("unrecognized method %q", env.Method)
	}
	return nil, &ProtocolError{Reason: reason, Frame: data}
}

func decodeUpdate(env envelope) (*UpdateNotification, bool) {
	if env.Method != MethodUpdate || !isObject(env.Params) {
		return nil, false
	}
	var params map[string]json.RawMessage
	if err := json.Unmarshal(env.Params, &params); err != nil {
		return nil, false
	}
	return &UpdateNotification{Params: params}, true
}

type authorizedBody struct {
	Authorized *bool `json:"authorized"`
}

func decodeAuthResult(env envelope) (*AuthResult, bool) {
	if env.Method == MethodAuthorized && isObject(env.Params) {
		var body authorizedBody
		if err := json.Unmarshal(env.Params, &body); err == nil && body.Authorized != nil {
			return &AuthResult{Authorized: *body.Authorized, Method: true}, true
		}
		return nil, false
	}
	if env.Method == "" && isObject(env.Result) {
		var body authorizedBody
		if err := json.Unmarshal(env.Result, &body); err == nil && body.Authorized != nil {
			return &AuthResult{Authorized: *body.Authorized}, true
		}
	}
	return nil, false
}

type resultBody struct {
	Result *string `json:"result"`
}

func decodeCommandResult(env envelope) (*CommandResult, bool) {
	if env.Method != "" || len(env.Result) == 0 || bytes.Equal(env.Result, []byte("null")) {
		return nil, false
	}

	res := &CommandResult{ID: env.ID, Raw: env.Result}
	switch {
	case isObject(env.Result):
		var body resultBody
		if err := json.Unmarshal(env.Result, &body); err == nil && body.Result != nil {
			res.Status = *body.Result
		}
	default:
		var status string
		if err := json.Unmarshal(env.Result, &status); err == nil {
			res.Status = status
		}
	}
	return res, true
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
