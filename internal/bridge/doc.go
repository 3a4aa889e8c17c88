// Package bridge mirrors garage door openers onto an MQTT broker.
//
// # Topics
//
// With the default prefix:
//
//	ryobigdo/bridge/status           online/offline, retained, LWT
//	ryobigdo/<device>/state          JSON snapshot, retained
//	ryobigdo/<device>/availability   online/offline, retained
//	ryobigdo/<device>/set            OPEN, CLOSE, LIGHT_ON, LIGHT_OFF
//
// State is published from each device's fan-out, so every merged update
// and every availability change reaches the broker.
package bridge
