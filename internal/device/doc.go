// Package device provides the device registry for Ember Core.
//
// A Device is a single controllable or observable unit (a light, a
// sensor, a lock) reached through a protocol bridge over MQTT. This
// package owns:
//
//   - Device types, protocols, and validation
//   - SQLite persistence (Repository / SQLiteRepository)
//   - Registry: cached, thread-safe device access and state updates
//   - Commander: command dispatch to bridges over MQTT
//
// # State Flow
//
// Bridges report state changes over MQTT; the API layer feeds them into
// Registry.SetDeviceState, which persists and updates the cache. The
// automation engine reads device state through Registry.GetProperty
// using dot-separated paths ("brightness", "color.hue").
//
// Commands flow the other way: Commander.SendCommand publishes a JSON
// payload to the bridge's command topic. State is only updated when the
// bridge echoes the resulting change, so the registry always reflects
// reported reality rather than requested intent.
//
// # Thread Safety
//
// Registry and Commander are safe for concurrent use. Devices returned
// from the registry are deep copies; callers can modify them freely.
package device
