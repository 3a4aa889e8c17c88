// Package notify is a small observer registry used to fan state changes out
// to any number of consumers (CLI output, dashboard, MQTT bridge, metrics).
//
// Subscribers are kept in registration order and called synchronously by
// Notify. The registry is append-only from the producer's point of view;
// Subscribe hands back a function consumers may call to detach themselves.
// Long-lived producers with short-lived observers should call it, otherwise
// the callbacks are kept for the producer's lifetime.
package notify
