package session

import (
	"errors"
	"fmt"
)

// ConnState is the lifecycle state of a controller's WebSocket.
type ConnState int

const (
	StateClosed ConnState = iota
	StateConnecting
	StateOpen
	StateError
)

// String returns the lowercase state name used in logs and metrics.
func (s ConnState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

// AllStates lists every state, for exporters that publish one series per state.
var AllStates = []ConnState{StateClosed, StateConnecting, StateOpen, StateError}

var (
	// ErrAuthRejected means the cloud answered the auth frame with authorized=false.
	ErrAuthRejected = errors.New("websocket authentication rejected")

	// ErrConnectTimeout means no auth acknowledgement arrived within the poll budget.
	ErrConnectTimeout = errors.New("timed out waiting for websocket authentication")

	// ErrConnectionLost means the socket dropped while the handshake was in flight.
	ErrConnectionLost = errors.New("websocket closed during handshake")

	// ErrLinkStalled is logged when the watchdog force-closes a link that is
	// up but no longer answering.
	ErrLinkStalled = errors.New("link up but server stopped answering")

	// ErrSendFailed is returned by Send once every attempt is used up.
	ErrSendFailed = errors.New("failed to send command")

	// ErrNotImplemented is returned by SetPosition.
	ErrNotImplemented = errors.New("not implemented")
)

type authStatus int

const (
	authPending authStatus = iota
	authAccepted
	authRejected
)
