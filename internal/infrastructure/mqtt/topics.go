package mqtt

import "fmt"

// Topic prefixes for Gatekeep MQTT traffic.
//
// Security events use the flat scheme: gatekeep/events/{kind}
// Downstream consumers (SIEM collectors, alerting, dashboards) subscribe
// by kind or with a single-level wildcard.
const (
	// TopicPrefixEvents is the base for security event topics.
	TopicPrefixEvents = "gatekeep/events"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "gatekeep/system"
)

// Topics provides builders for Gatekeep MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	topic := topics.Event("lockout")
//	// Returns: "gatekeep/events/lockout"
type Topics struct{}

// Event returns the topic for a security event of the given kind.
//
// Example: gatekeep/events/login_failed
func (Topics) Event(kind string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixEvents, kind)
}

// SystemStatus returns the service status topic.
// Online, graceful offline, and LWT crash payloads are all retained here.
//
// Example: gatekeep/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllEvents returns a pattern matching all security events.
//
// Pattern: gatekeep/events/+
func (Topics) AllEvents() string {
	return fmt.Sprintf("%s/+", TopicPrefixEvents)
}

// AllTopics returns a pattern matching all Gatekeep topics.
//
// Pattern: gatekeep/#
func (Topics) AllTopics() string {
	return "gatekeep/#"
}
