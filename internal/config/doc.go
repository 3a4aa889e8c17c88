// Package config manages the ryobigdo YAML configuration file.
//
// The file holds the cloud account, optional endpoint overrides, session
// timings, per-device nicknames and the MQTT and metrics settings used by
// `ryobi-gdo watch`.
//
// # Configuration File Location
//
//   - Linux: $XDG_CONFIG_HOME/ryobigdo/config.yaml or $HOME/.config/ryobigdo/config.yaml
//   - macOS: $HOME/.config/ryobigdo/config.yaml
//   - Windows: %LOCALAPPDATA%\ryobigdo\config.yaml
//
// Every command accepts --config to use another path.
//
// # Example
//
//	version: 1
//	account:
//	  username: me@example.com
//	session:
//	  refresh_interval: 1m0s
//	devices:
//	  4a1b2c3d:
//	    nickname: Garage
//	mqtt:
//	  broker: tcp://localhost:1883
//
// # Thread Safety
//
// LoadDefault uses sync.Once; Save serializes writes and replaces the file
// with an atomic rename.
package config
