// Package logic contains the pure decision engine for the farm controller.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// Actuator names a controllable on/off output.
type Actuator string

const (
	Motor Actuator = "motor"
	Water Actuator = "water"
	Light Actuator = "light"
	Siren Actuator = "siren"
)

// DefaultActuators is the actuator set of a stock controller, in resolve order.
var DefaultActuators = []Actuator{Motor, Water, Light, Siren}

// TriggerSource classifies which subsystem caused an actuator's current state.
type TriggerSource string

const (
	SourceManual     TriggerSource = "manual"
	SourceAutomation TriggerSource = "automation"
	SourceSchedule   TriggerSource = "schedule"
	SourceTest       TriggerSource = "test"
)

// Reading is a single sensor value. Numeric is false when the source
// delivered something other than a number for this variable.
type Reading struct {
	Value   float64
	Numeric bool
}

// SensorSnapshot is one tick's view of the sensors.
type SensorSnapshot struct {
	CapturedAt time.Time
	Readings   map[string]Reading
}

// NewSnapshot builds a snapshot from numeric values.
func NewSnapshot(capturedAt time.Time, values map[string]float64) *SensorSnapshot {
	s := &SensorSnapshot{CapturedAt: capturedAt, Readings: make(map[string]Reading, len(values))}
	for k, v := range values {
		s.Readings[k] = Reading{Value: v, Numeric: true}
	}
	return s
}

// Operator is a comparison operator used by automation rules.
type Operator string

const (
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "=="
)

// Rule is an automation rule for one actuator.
// A rule with a non-empty Problem is disabled.
type Rule struct {
	When     string
	Operator Operator
	Value    *float64
	Duration time.Duration // 0 = on while the condition holds
	Problem  string
}

// Schedule is a time-of-day window for one actuator.
// Start and End are seconds since midnight.
// A schedule with a non-empty Problem is disabled.
type Schedule struct {
	Name     string
	IsActive bool
	Actuator Actuator
	Value    bool
	Start    int
	End      int
	Days     []string
	Problem  string
}

// ConfigView is the externally owned configuration, read-only per tick.
type ConfigView struct {
	Rules     map[Actuator]Rule
	Schedules []Schedule // sorted by Name
	TestMode  map[Actuator]bool
}

// ActuatorState is the authoritative state of one actuator.
type ActuatorState struct {
	IsOn          bool
	Duration      time.Duration // configured duration of the current activation, 0 = untimed
	RemainingTime time.Duration
	IsTestMode    bool
	TriggerSource TriggerSource

	// restore is the trigger source to fall back to when a timed
	// activation expires or a hold is released.
	restore TriggerSource
}

// Timed reports whether the current activation counts down.
func (s ActuatorState) Timed() bool {
	return s.Duration > 0
}

// sameAs reports whether two states are equal for audit purposes.
// A plain countdown is not a transition; a restarted timer is.
func (s ActuatorState) sameAs(o ActuatorState) bool {
	return s.IsOn == o.IsOn &&
		s.Duration == o.Duration &&
		s.IsTestMode == o.IsTestMode &&
		s.TriggerSource == o.TriggerSource &&
		s.RemainingTime <= o.RemainingTime
}

// ManualCommand is an explicit on/off request from a user.
type ManualCommand struct {
	Actuator Actuator
	On       bool
	Duration time.Duration // 0 = until turned off
	IssuedAt time.Time
}

// TestCommand enables or clears test mode for one actuator. It carries an
// optional test duration that the boolean testMode config field cannot.
type TestCommand struct {
	Actuator Actuator
	Enabled  bool
	Duration time.Duration // 0 = until cleared
}

// AuditKind classifies an audit entry.
type AuditKind string

const (
	KindTransition AuditKind = "transition"
	KindConflict   AuditKind = "conflict"
	KindSuppressed AuditKind = "suppressed"
)

// AuditEntry is an immutable record of something the resolver decided.
type AuditEntry struct {
	Kind      AuditKind
	Actuator  Actuator
	Before    ActuatorState
	After     ActuatorState
	Source    TriggerSource
	Cause     string
	Timestamp time.Time
}

// Command is a boolean output for the driver layer.
type Command struct {
	Actuator Actuator
	On       bool
}

// Pending holds inputs that arrived asynchronously since the last tick.
type Pending struct {
	Config *ConfigView // nil = unchanged
	Manual []ManualCommand
	Test   []TestCommand
}

// Input is everything one tick needs.
type Input struct {
	Time      time.Time
	TimeOfDay int // seconds since midnight, 0..86399
	Day       time.Weekday
	Snapshot  *SensorSnapshot
	Pending   Pending
}

// ClockInput derives the time-of-day and weekday fields from t in its own location.
func ClockInput(t time.Time) Input {
	return Input{
		Time:      t,
		TimeOfDay: t.Hour()*3600 + t.Minute()*60 + t.Second(),
		Day:       t.Weekday(),
	}
}

// Diagnostic is a configuration-quality finding raised once per config change.
type Diagnostic struct {
	Actuator Actuator
	Subject  string // rule or schedule name
	Message  string
}

// Result is the outcome of one tick.
type Result struct {
	Commands    []Command
	Audit       []AuditEntry
	Diagnostics []Diagnostic
	States      map[Actuator]ActuatorState
	Changed     bool // any transition this tick
}
