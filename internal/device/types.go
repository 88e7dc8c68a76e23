package device

import (
	"strings"
	"time"
)

// Protocol identifies the transport a device is reached over.
// Each protocol maps to a bridge process that translates MQTT
// commands into protocol-native traffic.
type Protocol string

// Supported protocols.
const (
	ProtocolZigbee  Protocol = "zigbee"
	ProtocolZWave   Protocol = "zwave"
	ProtocolBLE     Protocol = "ble"
	ProtocolWiFi    Protocol = "wifi"
	ProtocolMQTT    Protocol = "mqtt"
	ProtocolVirtual Protocol = "virtual" // no bridge; state changes only via API
)

// validProtocols is the set of recognised protocol values.
var validProtocols = map[Protocol]bool{
	ProtocolZigbee:  true,
	ProtocolZWave:   true,
	ProtocolBLE:     true,
	ProtocolWiFi:    true,
	ProtocolMQTT:    true,
	ProtocolVirtual: true,
}

// DeviceType is the functional category of a device.
type DeviceType string

// Supported device types.
const (
	TypeLight       DeviceType = "light"
	TypeSwitch      DeviceType = "switch"
	TypeOutlet      DeviceType = "outlet"
	TypeSensor      DeviceType = "sensor"
	TypeThermostat  DeviceType = "thermostat"
	TypeLock        DeviceType = "lock"
	TypeCover       DeviceType = "cover"
	TypeButton      DeviceType = "button"
	TypeMediaPlayer DeviceType = "media_player"
)

// validTypes is the set of recognised device types.
var validTypes = map[DeviceType]bool{
	TypeLight:       true,
	TypeSwitch:      true,
	TypeOutlet:      true,
	TypeSensor:      true,
	TypeThermostat:  true,
	TypeLock:        true,
	TypeCover:       true,
	TypeButton:      true,
	TypeMediaPlayer: true,
}

// Address holds protocol-specific addressing information.
// The structure is protocol-dependent (e.g. a Zigbee IEEE address,
// a Z-Wave node ID, an HTTP endpoint) and is stored as JSON.
type Address map[string]any

// State holds the current reported state of a device as arbitrary
// key-value pairs (e.g. {"on": true, "brightness": 80}).
// Nested objects are allowed and addressable via Property().
type State map[string]any

// Device represents a single controllable or observable unit.
//
// State is the last reported state from the device's bridge; it is
// updated by incoming MQTT state messages, never by command dispatch
// (commands are confirmed by the bridge echoing new state).
type Device struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Type      DeviceType `json:"type"`
	Protocol  Protocol   `json:"protocol"`
	Address   Address    `json:"address"`
	State     State      `json:"state"`
	Online    bool       `json:"online"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Property resolves a dot-separated path into the device state.
// "brightness" reads a top-level key; "color.hue" descends into a
// nested object. Returns false if any path segment is missing or a
// non-final segment is not an object.
func (d *Device) Property(path string) (any, bool) {
	if path == "" || d.State == nil {
		return nil, false
	}

	var current any = map[string]any(d.State)
	for _, segment := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// DeepCopy returns a fully independent copy of the device.
// Mutating the copy's Address or State maps does not affect the original.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	copied := *d
	copied.Address = deepCopyMap(d.Address)
	copied.State = deepCopyMap(d.State)
	return &copied
}

// deepCopyMap recursively copies a map, handling nested maps and slices.
func deepCopyMap[M ~map[string]any](m M) M {
	if m == nil {
		return nil
	}
	result := make(M, len(m))
	for k, v := range m {
		result[k] = deepCopyValue(v)
	}
	return result
}

// deepCopyValue copies a value, recursing into maps and slices.
func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		result := make(map[string]any, len(val))
		for k, item := range val {
			result[k] = deepCopyValue(item)
		}
		return result
	case []any:
		result := make([]any, len(val))
		for i, item := range val {
			result[i] = deepCopyValue(item)
		}
		return result
	default:
		// Primitives (string, bool, numbers) are copied by value
		return v
	}
}
