// Package simulator is a local stand-in for the Ryobi cloud.
//
// It serves the discovery endpoints (POST /api/login, GET /api/devices,
// GET /api/devices/{id}) and the /api/wsrpc WebSocket speaking the same
// JSON-RPC dialect as tti.tiwiconnect.com, for one account with one opener.
// Door commands animate Opening -> Open and Closing -> Closed through
// wskAttributeUpdateNtfy pushes; light commands toggle lightState.
//
// Tests mount Handler on an httptest.Server and use the hooks (SetMuted,
// SetRejectAuth, FailHTTP, DropConnections, ...) to reproduce the failure
// modes of the real service. "ryobi-gdo simulate" serves it on a TCP port.
package simulator
