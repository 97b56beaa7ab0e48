// Package mqtt connects the controller to the farm's remote store over MQTT.
// Configuration, commands and sensor snapshots arrive on subscribed topics;
// the actuator state mirror, audit logs and lifecycle events are published.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/farm-controller/internal/audit"
	"github.com/sweeney/farm-controller/internal/logic"
)

// Topics derives every topic for one device from its ID.
type Topics struct {
	prefix string
}

// NewTopics returns the topic set rooted at farm/<deviceID>.
func NewTopics(deviceID string) Topics {
	return Topics{prefix: "farm/" + deviceID}
}

func (t Topics) Rules() string     { return t.prefix + "/config/automationRules" }
func (t Topics) Schedules() string { return t.prefix + "/config/schedules" }
func (t Topics) TestMode() string  { return t.prefix + "/config/testMode" }
func (t Topics) Manual() string    { return t.prefix + "/commands/manual" }
func (t Topics) Test() string      { return t.prefix + "/commands/test" }
func (t Topics) Sensors() string   { return t.prefix + "/sensors" }
func (t Topics) States() string    { return t.prefix + "/actuatorStates" }
func (t Topics) System() string    { return t.prefix + "/system" }

// Log returns the topic of an append-only audit stream.
func (t Topics) Log(name string) string { return t.prefix + "/" + name }

// Subscriptions lists the inbound topics.
func (t Topics) Subscriptions() []string {
	return []string{t.Rules(), t.Schedules(), t.TestMode(), t.Manual(), t.Test(), t.Sensors()}
}

// Publisher publishes controller output to the broker.
type Publisher interface {
	// PublishStates sends the retained actuatorStates document.
	PublishStates(states map[logic.Actuator]logic.ActuatorState) error

	// PublishEntry appends one audit entry to its log topic.
	PublishEntry(e audit.Entry) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// offlinePayload is the last-will message. It carries no timestamp because
// the broker sends it long after it was registered.
func offlinePayload() []byte {
	data, _ := json.Marshal(SystemPayload{System: SystemPayloadInner{Event: "OFFLINE"}})
	return data
}
