package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the ZKGate MQTT hierarchy.
//
// All topics use the flat scheme: zkgate/{category}/{device_or_id}
const (
	// TopicPrefix is the base for all ZKGate topics.
	TopicPrefix = "zkgate"

	// TopicPrefixSystem is the base for gateway-level topics.
	TopicPrefixSystem = "zkgate/system"
)

// Topics provides builders for ZKGate MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	eventTopic := topics.TerminalEvent("10.0.0.5:4370")
//	// Returns: "zkgate/event/10.0.0.5_4370"
type Topics struct{}

// sanitizeAddress replaces the host:port separator, which is reserved
// in some MQTT broker ACL syntaxes, with an underscore.
func sanitizeAddress(address string) string {
	return strings.ReplaceAll(address, ":", "_")
}

// TerminalEvent returns the topic for realtime punch events from a terminal.
//
// Example: zkgate/event/10.0.0.5_4370
func (Topics) TerminalEvent(address string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefix, sanitizeAddress(address))
}

// TerminalStatus returns the topic for terminal status snapshots.
//
// Example: zkgate/status/10.0.0.5_4370
func (Topics) TerminalStatus(address string) string {
	return fmt.Sprintf("%s/status/%s", TopicPrefix, sanitizeAddress(address))
}

// TerminalConnection returns the topic for connect/disconnect notices.
//
// Example: zkgate/connection/10.0.0.5_4370
func (Topics) TerminalConnection(address string) string {
	return fmt.Sprintf("%s/connection/%s", TopicPrefix, sanitizeAddress(address))
}

// SystemStatus returns the gateway status topic.
//
// Example: zkgate/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// SystemShutdown returns the shutdown signal topic.
//
// Example: zkgate/system/shutdown
func (Topics) SystemShutdown() string {
	return fmt.Sprintf("%s/shutdown", TopicPrefixSystem)
}

// AllTerminalEvents returns a pattern matching event topics for every terminal.
//
// Pattern: zkgate/event/+
func (Topics) AllTerminalEvents() string {
	return fmt.Sprintf("%s/event/+", TopicPrefix)
}

// AllTerminalStatuses returns a pattern matching status topics for every terminal.
//
// Pattern: zkgate/status/+
func (Topics) AllTerminalStatuses() string {
	return fmt.Sprintf("%s/status/+", TopicPrefix)
}

// AllTopics returns a pattern matching all ZKGate topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: zkgate/#
func (Topics) AllTopics() string {
	return "zkgate/#"
}
