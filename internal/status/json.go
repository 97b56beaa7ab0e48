package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/farm-controller/internal/logic"
)

// StateJSON is the field-level contract of one entry in the actuatorStates
// document. Durations are whole seconds.
type StateJSON struct {
	IsOn          bool   `json:"isOn"`
	Duration      int64  `json:"duration"`
	RemainingTime int64  `json:"remainingTime"`
	IsTestMode    bool   `json:"isTestMode"`
	TriggerSource string `json:"triggerSource"`
}

// FormatState converts an actuator state to its wire shape.
func FormatState(s logic.ActuatorState) StateJSON {
	return StateJSON{
		IsOn:          s.IsOn,
		Duration:      seconds(s.Duration),
		RemainingTime: seconds(s.RemainingTime),
		IsTestMode:    s.IsTestMode,
		TriggerSource: string(s.TriggerSource),
	}
}

// seconds rounds up so a running activation never reports 0 remaining.
func seconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Second - 1) / time.Second)
}

// FormatStates returns the actuatorStates document.
func FormatStates(states map[logic.Actuator]logic.ActuatorState) []byte {
	doc := make(map[string]StateJSON, len(states))
	for a, s := range states {
		doc[string(a)] = FormatState(s)
	}
	data, _ := json.Marshal(doc)
	return data
}

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string               `json:"event,omitempty"`
	Reason        string               `json:"reason,omitempty"`
	DeviceID      string               `json:"device_id"`
	Firmware      string               `json:"firmware_version,omitempty"`
	Ready         bool                 `json:"ready"`
	Actuators     map[string]StateJSON `json:"actuators"`
	Sensors       map[string]*float64  `json:"sensors,omitempty"`
	SensorsStale  bool                 `json:"sensors_stale"`
	LastTick      string               `json:"last_tick,omitempty"`
	UptimeSeconds int64                `json:"uptime_seconds"`
	StartTime     string               `json:"start_time"`
	Timestamp     string               `json:"timestamp"`
	MQTT          MQTTStatus           `json:"mqtt"`
	Counts        CountsJSON           `json:"counts"`
	Network       *NetworkJSON         `json:"network,omitempty"`
	Config        ConfigJSON           `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of loop counters.
type CountsJSON struct {
	Ticks        int64 `json:"ticks"`
	Transitions  int64 `json:"transitions"`
	Commands     int64 `json:"commands"`
	DriverErrors int64 `json:"driver_errors"`
	AuditDropped int64 `json:"audit_dropped"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	TickMs       int64  `json:"tick_ms"`
	StaleAfterMs int64  `json:"stale_after_ms"`
	HeartbeatMs  int64  `json:"heartbeat_ms"`
	Broker       string `json:"broker"`
	HTTPAddr     string `json:"http_addr"`
	Wraparound   string `json:"wraparound"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		DeviceID:      snap.Config.DeviceID,
		Firmware:      snap.Config.Version,
		Ready:         snap.Ready(),
		Actuators:     make(map[string]StateJSON, len(snap.States)),
		SensorsStale:  snap.SensorsStale,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Ticks:        snap.Counts.Ticks,
			Transitions:  snap.Counts.Transitions,
			Commands:     snap.Counts.Commands,
			DriverErrors: snap.Counts.DriverErrs,
			AuditDropped: snap.AuditDropped,
		},
		Config: ConfigJSON{
			TickMs:       snap.Config.TickMs,
			StaleAfterMs: snap.Config.StaleAfterMs,
			HeartbeatMs:  snap.Config.HeartbeatMs,
			Broker:       snap.Config.Broker,
			HTTPAddr:     snap.Config.HTTPAddr,
			Wraparound:   snap.Config.Wraparound,
		},
	}
	for a, s := range snap.States {
		inner.Actuators[string(a)] = FormatState(s)
	}
	if !snap.LastTick.IsZero() {
		inner.LastTick = snap.LastTick.UTC().Format(time.RFC3339)
	}
	if snap.Sensors != nil {
		inner.Sensors = make(map[string]*float64, len(snap.Sensors.Readings))
		for k, r := range snap.Sensors.Readings {
			if r.Numeric {
				v := r.Value
				inner.Sensors[k] = &v
			} else {
				inner.Sensors[k] = nil
			}
		}
	}
	return inner
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
