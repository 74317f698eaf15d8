package mqtt

import "fmt"

// Topic prefixes for SensorFlash MQTT fan-out.
//
// All session topics use the flat scheme: sensorflash/session/{session_id}/{kind}
// so a dashboard can subscribe to sensorflash/session/+/progress or to one
// session's full stream with sensorflash/session/{id}/#.
const (
	// TopicPrefix is the base for all SensorFlash topics.
	TopicPrefix = "sensorflash"

	// TopicPrefixSystem is the base for service-level topics.
	TopicPrefixSystem = "sensorflash/system"
)

// Topics provides builders for SensorFlash MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	topic := topics.SessionPhase("ses-1a2b3c4d")
//	// Returns: "sensorflash/session/ses-1a2b3c4d/phase"
type Topics struct{}

// SystemStatus returns the topic for service online/offline status.
//
// Example: sensorflash/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// SessionPhase returns the topic for a session's phase transitions.
//
// Example: sensorflash/session/ses-1a2b3c4d/phase
func (Topics) SessionPhase(sessionID string) string {
	return fmt.Sprintf("%s/session/%s/phase", TopicPrefix, sessionID)
}

// SessionProgress returns the topic for a session's progress samples.
//
// Example: sensorflash/session/ses-1a2b3c4d/progress
func (Topics) SessionProgress(sessionID string) string {
	return fmt.Sprintf("%s/session/%s/progress", TopicPrefix, sessionID)
}

// SessionLog returns the topic for a session's log events.
//
// Example: sensorflash/session/ses-1a2b3c4d/log
func (Topics) SessionLog(sessionID string) string {
	return fmt.Sprintf("%s/session/%s/log", TopicPrefix, sessionID)
}

// SessionOutcome returns the topic for a session's terminal outcome.
//
// Example: sensorflash/session/ses-1a2b3c4d/outcome
func (Topics) SessionOutcome(sessionID string) string {
	return fmt.Sprintf("%s/session/%s/outcome", TopicPrefix, sessionID)
}

// MonitorLine returns the topic for live monitor output lines.
//
// Example: sensorflash/session/ses-1a2b3c4d/monitor
func (Topics) MonitorLine(sessionID string) string {
	return fmt.Sprintf("%s/session/%s/monitor", TopicPrefix, sessionID)
}
