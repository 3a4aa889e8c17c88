// Package logging provides structured logging for ryobigdo.
//
// This package wraps a global zap logger with convenience functions used by the
// cloud API client, the session controller and the CLI.
//
// # Log Levels
//
//   - Debug: frame contents, HTTP attempts, merge details
//   - Info: connection lifecycle, commands sent
//   - Warn: dropped frames, stalled links, retries
//   - Error: discovery failures, rejected authentication
//
// # Configuration
//
// Logging is silent unless a level is given, either through the --log-level
// flag or the RYOBIGDO_LOG_LEVEL environment variable:
//
//	if err := logging.Initialize("debug"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// Logs go to stderr so that command output on stdout stays scriptable.
//
// # Specialized Logging
//
//	logging.LogConnection(deviceID, "authenticated")
//	logging.LogWebSocketMessage(deviceID, "received", payload)
//
// All functions are safe for concurrent use.
package logging
