package mqtt

import "fmt"

// Topic prefixes for the Ember MQTT bus.
//
// All bridge topics use the flat scheme: ember/{category}/{protocol}/{address}
const (
	// TopicPrefixBridge is the base for all bridge topics.
	// Flat scheme: ember/{category}/{protocol}/{address_or_id}
	TopicPrefixBridge = "ember"

	// TopicPrefixCore is the base for all core topics.
	TopicPrefixCore = "ember/core"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "ember/system"
)

// Topics provides builders for Ember MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
// Bridge topics use the flat scheme:
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.BridgeState("zigbee", "light-living-main")
//	// Returns: "ember/state/zigbee/light-living-main"
type Topics struct{}

// =============================================================================
// Bridge Topics
// =============================================================================

// BridgeState returns the topic for device state updates from a bridge.
//
// Example: ember/state/zigbee/light-living-main
func (Topics) BridgeState(protocol, address string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefixBridge, protocol, address)
}

// BridgeCommand returns the topic for commands to a bridge.
//
// Example: ember/command/zigbee/light-living-main
func (Topics) BridgeCommand(protocol, address string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefixBridge, protocol, address)
}

// BridgeAck returns the topic for command acknowledgements from a bridge.
//
// Example: ember/ack/zigbee/light-living-main
func (Topics) BridgeAck(protocol, address string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefixBridge, protocol, address)
}

// BridgeHealth returns the topic for bridge health status.
//
// Example: ember/health/zigbee
func (Topics) BridgeHealth(protocol string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefixBridge, protocol)
}

// =============================================================================
// Core Topics
// =============================================================================

// CoreDeviceState returns the canonical device state topic.
// This is the authoritative state published by Core after processing bridge updates.
//
// Example: ember/core/device/light-living-main/state
func (Topics) CoreDeviceState(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/state", TopicPrefixCore, deviceID)
}

// CoreEvent returns the topic for system events.
//
// Example: ember/core/event/device_state_changed
func (Topics) CoreEvent(eventType string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefixCore, eventType)
}

// CoreAutomationFired returns the topic for automation rule triggers.
//
// Example: ember/core/automation/rule-sunrise-blinds/fired
func (Topics) CoreAutomationFired(ruleID string) string {
	return fmt.Sprintf("%s/automation/%s/fired", TopicPrefixCore, ruleID)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the system status topic.
//
// Example: ember/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllBridgeStates returns a pattern matching all bridge state updates.
//
// Pattern: ember/state/+/+
func (Topics) AllBridgeStates() string {
	return fmt.Sprintf("%s/state/+/+", TopicPrefixBridge)
}

// AllBridgeAcks returns a pattern matching all bridge acknowledgements.
//
// Pattern: ember/ack/+/+
func (Topics) AllBridgeAcks() string {
	return fmt.Sprintf("%s/ack/+/+", TopicPrefixBridge)
}

// AllBridgeHealth returns a pattern matching all bridge health updates.
//
// Pattern: ember/health/+
func (Topics) AllBridgeHealth() string {
	return fmt.Sprintf("%s/health/+", TopicPrefixBridge)
}

// AllTopics returns a pattern matching all Ember topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: ember/#
func (Topics) AllTopics() string {
	return "ember/#"
}
