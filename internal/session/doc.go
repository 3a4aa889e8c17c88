// Package session keeps a live JSON-RPC WebSocket session with the Ryobi
// cloud for one garage door opener.
//
// # Lifecycle
//
//	Closed --Connect--> Connecting --auth ack--> (subscribe) --> Open
//	Connecting --no ack within AuthPollAttempts x PollInterval--> Closed
//	Open --socket close--> Closed, --socket error--> Error
//	Open --WatchdogThreshold unanswered sends--> Closed (forced)
//
// Connect is idempotent while Open. Losing the socket never reconnects by
// itself; Run (the supervisory loop) and Send do.
//
// # Watchdog
//
// Every successful Send increments a counter; any inbound frame resets it.
// The Send that brings the counter to WatchdogThreshold closes the socket
// right after its write: the link is up but the server has stopped
// answering. State becomes Closed, the device is marked unavailable, and the
// next Send or Run pass reconnects once.
//
// # Concurrency
//
// One reader goroutine per socket handles frames in arrival order and
// applies updates to the gdo.Model, then notifies subscribers with a
// snapshot. Connection state is guarded by a single mutex that is never
// held across dialing or the auth wait. Notifications come from the reader,
// Connect and Send; taking the snapshot and delivering it happen under one
// lock, so every subscriber sees states in order.
package session
