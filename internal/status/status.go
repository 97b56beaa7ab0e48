// Package status provides a thread-safe status tracker for the farm-controller daemon.
// It is written by the tick loop and read by HTTP handlers and heartbeats.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/farm-controller/internal/logic"
)

// NetworkInfo contains network state as reported by pi-helper.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	DeviceID     string
	TickMs       int64
	StaleAfterMs int64
	HeartbeatMs  int64
	Broker       string
	HTTPAddr     string
	Wraparound   string
	Version      string // firmware build, set at link time
}

// Counts tracks tick loop activity since startup.
type Counts struct {
	Ticks       int64
	Transitions int64
	Commands    int64
	DriverErrs  int64
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	States        map[logic.Actuator]logic.ActuatorState
	Order         []logic.Actuator
	Sensors       *logic.SensorSnapshot
	SensorsStale  bool
	LastTick      time.Time
	Counts        Counts
	AuditDropped  int64
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Ready reports whether the tick loop has run at least once.
func (s Snapshot) Ready() bool {
	return !s.LastTick.IsZero()
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, order []logic.Actuator, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Order:     append([]logic.Actuator(nil), order...),
			Config:    cfg,
		},
		now: time.Now,
	}
}

// Update records the outcome of one tick. Called from runLoop on every tick.
func (t *Tracker) Update(at time.Time, res logic.Result, sensors *logic.SensorSnapshot, stale bool) {
	t.mu.Lock()
	t.snap.LastTick = at
	t.snap.States = res.States
	t.snap.Sensors = sensors
	t.snap.SensorsStale = stale
	t.snap.Counts.Ticks++
	for _, e := range res.Audit {
		if e.Kind == logic.KindTransition {
			t.snap.Counts.Transitions++
		}
	}
	t.snap.Counts.Commands += int64(len(res.Commands))
	t.mu.Unlock()
}

// DriverError counts a failed actuator command.
func (t *Tracker) DriverError() {
	t.mu.Lock()
	t.snap.Counts.DriverErrs++
	t.mu.Unlock()
}

// SetAuditDropped records how many audit entries were dropped.
func (t *Tracker) SetAuditDropped(n int64) {
	t.mu.Lock()
	t.snap.AuditDropped = n
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
