package status

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/farm-controller/internal/logic"
)

func testConfig() Config {
	return Config{
		DeviceID:     "device_001",
		TickMs:       1000,
		StaleAfterMs: 30000,
		HeartbeatMs:  900000,
		Broker:       "tcp://localhost:1883",
		HTTPAddr:     ":80",
		Wraparound:   "wrap",
		Version:      "1.4.0",
	}
}

func tickResult(states map[logic.Actuator]logic.ActuatorState, audit ...logic.AuditEntry) logic.Result {
	return logic.Result{States: states, Audit: audit}
}

func TestNewTracker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := NewTracker(start, logic.DefaultActuators, testConfig())

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Config.TickMs != 1000 {
		t.Errorf("Config.TickMs: got %d, want 1000", snap.Config.TickMs)
	}
	if snap.Ready() {
		t.Error("expected Ready=false before the first tick")
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
	if len(snap.Order) != 4 {
		t.Errorf("Order: got %v", snap.Order)
	}
}

func TestUpdateAndSnapshot(t *testing.T) {
	tr := NewTracker(time.Now(), logic.DefaultActuators, Config{})
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	states := map[logic.Actuator]logic.ActuatorState{
		logic.Motor: {IsOn: true, TriggerSource: logic.SourceAutomation},
	}
	res := tickResult(states,
		logic.AuditEntry{Kind: logic.KindTransition, Actuator: logic.Motor},
		logic.AuditEntry{Kind: logic.KindConflict, Actuator: logic.Light},
	)
	res.Commands = []logic.Command{{Actuator: logic.Motor, On: true}}

	tr.Update(at, res, logic.NewSnapshot(at, map[string]float64{"temperature": 36}), false)

	snap := tr.Snapshot()
	if !snap.Ready() {
		t.Error("expected Ready=true after a tick")
	}
	if !snap.States[logic.Motor].IsOn {
		t.Error("expected motor on")
	}
	if snap.Counts.Ticks != 1 || snap.Counts.Transitions != 1 || snap.Counts.Commands != 1 {
		t.Errorf("unexpected counts: %+v", snap.Counts)
	}
}

func TestDriverErrorAndAuditDropped(t *testing.T) {
	tr := NewTracker(time.Now(), nil, Config{})
	tr.DriverError()
	tr.DriverError()
	tr.SetAuditDropped(7)
	snap := tr.Snapshot()
	if snap.Counts.DriverErrs != 2 {
		t.Errorf("DriverErrs: got %d, want 2", snap.Counts.DriverErrs)
	}
	if snap.AuditDropped != 7 {
		t.Errorf("AuditDropped: got %d, want 7", snap.AuditDropped)
	}
}

func TestSetMQTTConnected(t *testing.T) {
	tr := NewTracker(time.Now(), nil, Config{})

	tr.SetMQTTConnected(true)
	if !tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}

	tr.SetMQTTConnected(false)
	if tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=false")
	}
}

func TestSetNetwork(t *testing.T) {
	tr := NewTracker(time.Now(), nil, Config{})

	if tr.Snapshot().Network != nil {
		t.Error("expected nil Network initially")
	}

	tr.SetNetwork(&NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected"})

	snap := tr.Snapshot()
	if snap.Network == nil {
		t.Fatal("expected non-nil Network")
	}
	if snap.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want %q", snap.Network.IP, "192.168.1.42")
	}
}

func TestSnapshotUptime(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{StartTime: start, Now: start.Add(15 * time.Minute)}
	if snap.Uptime() != 15*time.Minute {
		t.Errorf("Uptime: got %v, want 15m", snap.Uptime())
	}
}

func TestSnapshotNowIsSet(t *testing.T) {
	tr := NewTracker(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), nil, Config{})

	before := time.Now()
	snap := tr.Snapshot()
	after := time.Now()

	if snap.Now.Before(before) || snap.Now.After(after) {
		t.Errorf("Now (%v) not between %v and %v", snap.Now, before, after)
	}
}

func TestFormatState(t *testing.T) {
	s := logic.ActuatorState{
		IsOn:          true,
		Duration:      300 * time.Second,
		RemainingTime: 299500 * time.Millisecond,
		TriggerSource: logic.SourceAutomation,
	}
	got := FormatState(s)
	want := StateJSON{IsOn: true, Duration: 300, RemainingTime: 300, TriggerSource: "automation"}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestFormatStatesExactJSON(t *testing.T) {
	data := FormatStates(map[logic.Actuator]logic.ActuatorState{
		logic.Siren: {IsOn: true, IsTestMode: true, TriggerSource: logic.SourceTest},
	})
	want := `{"siren":{"isOn":true,"duration":0,"remainingTime":0,"isTestMode":true,"triggerSource":"test"}}`
	if string(data) != want {
		t.Errorf("got %s\nwant %s", data, want)
	}
}

func TestFormatJSON(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		States: map[logic.Actuator]logic.ActuatorState{
			logic.Light: {IsOn: true, TriggerSource: logic.SourceSchedule},
		},
		Sensors:   &logic.SensorSnapshot{Readings: map[string]logic.Reading{"temperature": {Value: 25.5, Numeric: true}, "soil": {}}},
		LastTick:  start.Add(time.Minute),
		StartTime: start,
		Now:       start.Add(90 * time.Second),
		Config:    testConfig(),
	}

	var sj StatusJSON
	if err := json.Unmarshal(FormatJSON(snap), &sj); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if !sj.Status.Ready {
		t.Error("expected ready")
	}
	if !sj.Status.Actuators["light"].IsOn {
		t.Error("expected light on")
	}
	if v := sj.Status.Sensors["temperature"]; v == nil || *v != 25.5 {
		t.Errorf("temperature: got %v", v)
	}
	if v, ok := sj.Status.Sensors["soil"]; !ok || v != nil {
		t.Errorf("non-numeric reading should be null, got %v (present=%v)", v, ok)
	}
	if sj.Status.UptimeSeconds != 90 {
		t.Errorf("uptime: got %d, want 90", sj.Status.UptimeSeconds)
	}
	if sj.Status.DeviceID != "device_001" {
		t.Errorf("device id: got %q", sj.Status.DeviceID)
	}
	if sj.Status.Event != "" {
		t.Errorf("web JSON should not carry an event, got %q", sj.Status.Event)
	}
}

func TestFormatStatusEvent(t *testing.T) {
	snap := Snapshot{Config: testConfig()}
	data := FormatStatusEvent(snap, "SHUTDOWN", "SIGTERM")

	var sj StatusJSON
	if err := json.Unmarshal(data, &sj); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if sj.Status.Event != "SHUTDOWN" || sj.Status.Reason != "SIGTERM" {
		t.Errorf("unexpected event/reason: %q/%q", sj.Status.Event, sj.Status.Reason)
	}
	if !strings.Contains(string(data), `"firmware_version":"1.4.0"`) {
		t.Errorf("event payload missing firmware version: %s", data)
	}
	if strings.Contains(string(data), "\n") {
		t.Error("event payload should be compact")
	}
}

func TestFormatStatusEventOmitsReasonWhenEmpty(t *testing.T) {
	data := FormatStatusEvent(Snapshot{}, "HEARTBEAT", "")
	if strings.Contains(string(data), `"reason"`) {
		t.Errorf("reason should be omitted: %s", data)
	}
	if strings.Contains(string(data), `"network"`) {
		t.Errorf("network should be omitted when nil: %s", data)
	}
	if strings.Contains(string(data), `"firmware_version"`) {
		t.Errorf("firmware version should be omitted when unset: %s", data)
	}
}

func TestFormatJSONWithNetwork(t *testing.T) {
	snap := Snapshot{Network: &NetworkInfo{Type: "ethernet", IP: "10.0.0.5", Status: "connected"}}
	var sj StatusJSON
	if err := json.Unmarshal(FormatJSON(snap), &sj); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if sj.Status.Network == nil || sj.Status.Network.IP != "10.0.0.5" {
		t.Errorf("unexpected network: %+v", sj.Status.Network)
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), logic.DefaultActuators, Config{})
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.Update(time.Now(), logic.Result{}, nil, j%2 == 0)
				tr.SetMQTTConnected(j%2 == 0)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = FormatJSON(tr.Snapshot())
			}
		}()
	}
	wg.Wait()
	if got := tr.Snapshot().Counts.Ticks; got != 1000 {
		t.Errorf("Ticks: got %d, want 1000", got)
	}
}
