// Package protocol implements the Ryobi cloud JSON-RPC dialect spoken over
// the /api/wsrpc WebSocket.
//
// # Outbound Frames
//
// Every outbound frame is a JSON-RPC 2.0 envelope:
//
//	{"jsonrpc":"2.0","id":3,"method":"srvWebSocketAuth","params":{"varName":"<username>","apiKey":"<apiKey>"}}
//	{"jsonrpc":"2.0","id":3,"method":"wskSubscribe","params":{"topic":"<deviceId>.wskAttributeUpdateNtfy"}}
//	{"jsonrpc":"2.0","method":"gdoModuleCommand","params":{"msgType":16,"moduleType":5,"portId":7,"moduleMsg":{"doorCommand":1},"topic":"<deviceId>"}}
//
// Use BuildAuth, BuildSubscribe and BuildCommand with one of the command bodies
// returned by OpenDoor, CloseDoor and SetLight.
//
// # Inbound Frames
//
// Decode recognizes three shapes, tried in this order:
//
//   - update notification: method "wskAttributeUpdateNtfy" with a params object
//     whose keys are "<module>_<port>.<attribute>" paths
//   - auth ack: method "authorizedWebSocket" with params.authorized, or a result
//     object carrying an "authorized" bool
//   - command result: any other result member; {"result":"OK"} is success
//
// Anything else is returned as a *ProtocolError. Callers log and drop those;
// a bad frame never ends a session.
//
// # Thread Safety
//
// All functions are stateless and safe for concurrent use.
package protocol
