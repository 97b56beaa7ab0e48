// Package audit records every actuator transition with its cause. Appending
// never blocks the tick loop: entries are queued in memory and delivered to
// sinks (MQTT, Kafka) by a background dispatcher that retries failing sinks.
package audit

import (
	"encoding/json"
	"time"

	"github.com/sweeney/farm-controller/internal/logic"
	"github.com/sweeney/farm-controller/internal/status"
)

// Log names select the append-only stream an entry belongs to.
const (
	LogTrigger    = "triggerLog"
	LogAutomation = "automationLog"
)

// Entry is an engine audit record with a stable identity.
type Entry struct {
	ID string
	logic.AuditEntry
}

// Log returns the stream the entry is written to: automation-driven
// transitions go to the automation log, everything else to the trigger log.
func (e Entry) Log() string {
	if e.Source == logic.SourceAutomation {
		return LogAutomation
	}
	return LogTrigger
}

// EntryJSON is the field-level contract of a triggerLog / automationLog entry.
type EntryJSON struct {
	ID        string           `json:"id"`
	Kind      string           `json:"kind"`
	Actuator  string           `json:"actuator"`
	Source    string           `json:"source"`
	Cause     string           `json:"cause"`
	Before    status.StateJSON `json:"before"`
	After     status.StateJSON `json:"after"`
	Timestamp string           `json:"timestamp"`
}

// FormatEntry converts an entry to its wire shape.
func FormatEntry(e Entry) EntryJSON {
	return EntryJSON{
		ID:        e.ID,
		Kind:      string(e.Kind),
		Actuator:  string(e.Actuator),
		Source:    string(e.Source),
		Cause:     e.Cause,
		Before:    status.FormatState(e.Before),
		After:     status.FormatState(e.After),
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
	}
}

// MarshalEntry returns the JSON payload for one entry.
func MarshalEntry(e Entry) ([]byte, error) {
	return json.Marshal(FormatEntry(e))
}
