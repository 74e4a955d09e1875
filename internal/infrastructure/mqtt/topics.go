package mqtt

import "fmt"

// Topic prefixes for NodeLink MQTT traffic.
//
// Topic hierarchy:
//
//	nodelink/event/{event_type}        registry events (not retained)
//	nodelink/device/{device_id}/state  device snapshot (retained)
//	nodelink/command/{action}          requests into the coordinator
//	nodelink/response/{request_id}     replies to commands
//	nodelink/health                    coordinator health (retained)
//	nodelink/system/status             online/offline, also the LWT
const (
	// TopicPrefix is the base for all NodeLink topics.
	TopicPrefix = "nodelink"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "nodelink/system"
)

// Topics provides builders for NodeLink MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.DeviceState("0013A20040A1B2C3")
//	// Returns: "nodelink/device/0013A20040A1B2C3/state"
type Topics struct{}

// =============================================================================
// Device Topics
// =============================================================================

// Event returns the topic for a registry event.
//
// Example: nodelink/event/device_discovered
func (Topics) Event(eventType string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefix, eventType)
}

// DeviceState returns the retained snapshot topic for one device.
//
// Example: nodelink/device/0013A20040A1B2C3/state
func (Topics) DeviceState(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/state", TopicPrefix, deviceID)
}

// =============================================================================
// Command Topics
// =============================================================================

// Command returns the topic for requests into the coordinator.
//
// Example: nodelink/command/invoke
func (Topics) Command(action string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, action)
}

// Response returns the topic a command's reply is published on.
//
// Example: nodelink/response/6f1c0e2a-8b0b-4d59-9b1e-2f9e8b7c1d3a
func (Topics) Response(requestID string) string {
	return fmt.Sprintf("%s/response/%s", TopicPrefix, requestID)
}

// =============================================================================
// System Topics
// =============================================================================

// Health returns the coordinator health topic.
//
// Example: nodelink/health
func (Topics) Health() string {
	return fmt.Sprintf("%s/health", TopicPrefix)
}

// SystemStatus returns the system status topic.
//
// Example: nodelink/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllCommands returns a pattern matching every command action.
//
// Pattern: nodelink/command/+
func (Topics) AllCommands() string {
	return fmt.Sprintf("%s/command/+", TopicPrefix)
}

// AllEvents returns a pattern matching all registry events.
//
// Pattern: nodelink/event/+
func (Topics) AllEvents() string {
	return fmt.Sprintf("%s/event/+", TopicPrefix)
}

// AllDeviceStates returns a pattern matching all device snapshots.
//
// Pattern: nodelink/device/+/state
func (Topics) AllDeviceStates() string {
	return fmt.Sprintf("%s/device/+/state", TopicPrefix)
}

// AllResponses returns a pattern matching all command replies.
//
// Pattern: nodelink/response/+
func (Topics) AllResponses() string {
	return fmt.Sprintf("%s/response/+", TopicPrefix)
}

// AllTopics returns a pattern matching all NodeLink topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: nodelink/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
