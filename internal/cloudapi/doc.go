// Package cloudapi is the HTTP client for the Ryobi cloud (tti.tiwiconnect.com).
//
// It covers the three calls needed before a WebSocket session can start:
//
//	POST /api/login          -> user id and API key
//	GET  /api/devices        -> devices registered to the account
//	GET  /api/devices/{id}   -> module/port routing and current attributes
//
// # Retries
//
// Every call is retried with a fixed delay (no growth) up to MaxAttempts.
// A 401 is terminal and returned immediately. Responses the client cannot
// parse are not retried either.
//
// # Errors
//
// All failures are *APIError values. Use IsAuthError, IsNetworkError and
// IsRetryable to classify them, and ShortMessage for CLI output.
//
// # Discovery
//
// Discover chains the three calls and returns one Device (descriptor plus
// initial state) per opener, or an error; it never returns a partial list.
package cloudapi
