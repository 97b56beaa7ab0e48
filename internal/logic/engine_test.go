package logic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tuesday22000 is Tuesday 06:06:40, time-of-day 22000.
var tuesday22000 = time.Date(2026, 1, 6, 6, 6, 40, 0, time.UTC)

type harness struct {
	t   *testing.T
	e   *Engine
	now time.Time
	// snapshot values resent every tick
	values map[string]float64
}

func newHarness(t *testing.T, start time.Time) *harness {
	t.Helper()
	return &harness{
		t:      t,
		e:      NewEngine(EngineConfig{Interval: time.Second, StaleAfter: 30 * time.Second}),
		now:    start,
		values: map[string]float64{"temperature": 25, "humidity": 60},
	}
}

// tick runs one engine tick at h.now with fresh sensor data, then advances h.now.
func (h *harness) tick(p Pending) Result {
	in := ClockInput(h.now)
	in.Snapshot = NewSnapshot(h.now, h.values)
	in.Pending = p
	res := h.e.Tick(in)
	h.now = h.now.Add(time.Second)
	return res
}

func (h *harness) state(a Actuator) ActuatorState {
	s, ok := h.e.State(a)
	require.True(h.t, ok)
	return s
}

func config(rules map[Actuator]Rule, schedules ...Schedule) *ConfigView {
	return &ConfigView{Rules: rules, Schedules: schedules}
}

func motorRule() map[Actuator]Rule {
	return map[Actuator]Rule{
		Motor: {When: "temperature", Operator: OpGreater, Value: f(35), Duration: 300 * time.Second},
	}
}

func TestEngineBootState(t *testing.T) {
	e := NewEngine(EngineConfig{})
	require.Equal(t, DefaultActuators, e.Actuators())
	for _, a := range DefaultActuators {
		s, ok := e.State(a)
		require.True(t, ok)
		assert.False(t, s.IsOn)
		assert.Equal(t, SourceManual, s.TriggerSource)
		assert.Zero(t, s.RemainingTime)
	}
}

func TestEngineTimedAutomationScenario(t *testing.T) {
	h := newHarness(t, tuesday22000)
	h.values["temperature"] = 36

	res := h.tick(Pending{Config: config(motorRule())})
	m := h.state(Motor)
	require.True(t, m.IsOn)
	assert.Equal(t, SourceAutomation, m.TriggerSource)
	assert.Equal(t, 300*time.Second, m.RemainingTime)
	require.Len(t, res.Commands, 1)
	assert.Equal(t, Command{Actuator: Motor, On: true}, res.Commands[0])

	for i := 1; i < 300; i++ {
		res = h.tick(Pending{})
		require.True(t, h.state(Motor).IsOn, "tick %d", i)
		require.Empty(t, res.Audit, "countdown is not a transition (tick %d)", i)
	}

	res = h.tick(Pending{})
	m = h.state(Motor)
	assert.False(t, m.IsOn)
	assert.Equal(t, SourceManual, m.TriggerSource)
	assert.Zero(t, m.RemainingTime)
	require.Len(t, res.Audit, 1)
	assert.Equal(t, "timer expired", res.Audit[0].Cause)

	// Condition still holds but the rule already fired: it stays off.
	for i := 0; i < 10; i++ {
		h.tick(Pending{})
		require.False(t, h.state(Motor).IsOn)
	}

	// Condition clears and returns: fires again.
	h.values["temperature"] = 30
	h.tick(Pending{})
	h.values["temperature"] = 37
	h.tick(Pending{})
	assert.True(t, h.state(Motor).IsOn)
}

func TestEngineUntimedAutomationFollowsCondition(t *testing.T) {
	h := newHarness(t, tuesday22000)
	h.values["humidity"] = 35
	rules := map[Actuator]Rule{Water: {When: "humidity", Operator: OpLess, Value: f(40)}}

	h.tick(Pending{Config: config(rules)})
	w := h.state(Water)
	require.True(t, w.IsOn)
	assert.False(t, w.Timed())

	h.values["humidity"] = 45
	res := h.tick(Pending{})
	assert.False(t, h.state(Water).IsOn)
	require.Len(t, res.Audit, 1)
	assert.Contains(t, res.Audit[0].Cause, "condition cleared")
}

func TestEngineScheduleScenario(t *testing.T) {
	h := newHarness(t, tuesday22000)
	s := everyDay(Light, 21600, 28800)
	s.Name = "morning_light"

	h.tick(Pending{Config: config(nil, s)})
	l := h.state(Light)
	require.True(t, l.IsOn)
	assert.Equal(t, SourceSchedule, l.TriggerSource)
	assert.Equal(t, 2*time.Hour, l.Duration)
	assert.Equal(t, (28800-22000)*time.Second, l.RemainingTime)
}

func TestEngineScheduleWindowEnds(t *testing.T) {
	// 07:59:58 on a Tuesday, two seconds before the window closes.
	h := newHarness(t, time.Date(2026, 1, 6, 7, 59, 58, 0, time.UTC))
	s := everyDay(Light, 21600, 28800)

	h.tick(Pending{Config: config(nil, s)})
	require.True(t, h.state(Light).IsOn)
	h.tick(Pending{})
	require.True(t, h.state(Light).IsOn)
	h.tick(Pending{})
	l := h.state(Light)
	assert.False(t, l.IsOn)
	assert.Equal(t, SourceManual, l.TriggerSource)
}

func TestEngineWraparoundSchedule(t *testing.T) {
	// 00:16:40, time-of-day 1000.
	h := newHarness(t, time.Date(2026, 1, 6, 0, 16, 40, 0, time.UTC))
	s := everyDay(Water, 64800, 3600)
	h.tick(Pending{Config: config(nil, s)})
	assert.True(t, h.state(Water).IsOn)

	h2 := newHarness(t, time.Date(2026, 1, 6, 0, 16, 40, 0, time.UTC))
	h2.e = NewEngine(EngineConfig{Interval: time.Second, Wrap: WrapSuspect})
	res := h2.tick(Pending{Config: config(nil, s)})
	assert.False(t, h2.state(Water).IsOn)
	require.NotEmpty(t, res.Diagnostics)
	assert.Contains(t, res.Diagnostics[0].Message, "suspect")
}

func TestEngineTestModeBeatsAutomation(t *testing.T) {
	h := newHarness(t, tuesday22000)
	h.values["temperature"] = 45
	cfg := config(map[Actuator]Rule{Siren: {When: "temperature", Operator: OpGreaterEqual, Value: f(40)}})
	cfg.TestMode = map[Actuator]bool{Siren: true}

	h.tick(Pending{Config: cfg})
	for i := 0; i < 20; i++ {
		s := h.state(Siren)
		require.Equal(t, SourceTest, s.TriggerSource, "tick %d", i)
		require.True(t, s.IsTestMode)
		h.tick(Pending{})
	}
}

func TestEngineTestCommandWithDuration(t *testing.T) {
	h := newHarness(t, tuesday22000)
	h.tick(Pending{Config: config(nil)})

	h.tick(Pending{Test: []TestCommand{{Actuator: Siren, Enabled: true, Duration: 3 * time.Second}}})
	s := h.state(Siren)
	require.True(t, s.IsOn)
	require.Equal(t, 3*time.Second, s.RemainingTime)

	h.tick(Pending{})
	h.tick(Pending{})
	h.tick(Pending{})
	s = h.state(Siren)
	assert.False(t, s.IsOn)
	assert.True(t, s.IsTestMode)
	assert.Equal(t, SourceTest, s.TriggerSource)

	res := h.tick(Pending{Test: []TestCommand{{Actuator: Siren, Enabled: false}}})
	s = h.state(Siren)
	assert.False(t, s.IsTestMode)
	assert.Equal(t, SourceManual, s.TriggerSource)
	require.Len(t, res.Audit, 1)
	assert.Equal(t, "test mode cleared", res.Audit[0].Cause)
}

func TestEngineClearingTestModeReevaluates(t *testing.T) {
	h := newHarness(t, tuesday22000)
	h.values["temperature"] = 36
	cfg := config(motorRule())
	cfg.TestMode = map[Actuator]bool{Motor: true}
	h.tick(Pending{Config: cfg})
	require.Equal(t, SourceTest, h.state(Motor).TriggerSource)

	cleared := config(motorRule())
	h.tick(Pending{Config: cleared})
	m := h.state(Motor)
	require.False(t, m.IsOn)
	require.False(t, m.IsTestMode)

	h.tick(Pending{})
	m = h.state(Motor)
	assert.True(t, m.IsOn)
	assert.Equal(t, SourceAutomation, m.TriggerSource)
}

func TestEngineManualBeatsAutomation(t *testing.T) {
	h := newHarness(t, tuesday22000)
	h.values["temperature"] = 36
	h.tick(Pending{Config: config(motorRule())})
	require.True(t, h.state(Motor).IsOn)

	res := h.tick(Pending{Manual: []ManualCommand{{Actuator: Motor, On: false}}})
	m := h.state(Motor)
	require.False(t, m.IsOn)
	assert.Equal(t, SourceManual, m.TriggerSource)
	require.Len(t, res.Commands, 1)
	assert.False(t, res.Commands[0].On)

	// The rule is still satisfied but may not silently undo the command.
	for i := 0; i < 5; i++ {
		h.tick(Pending{})
		require.False(t, h.state(Motor).IsOn, "tick %d", i)
	}
}

func TestEngineManualOnHoldsAgainstSchedule(t *testing.T) {
	h := newHarness(t, time.Date(2026, 1, 6, 5, 59, 59, 0, time.UTC))
	s := everyDay(Light, 21600, 28800)
	s.Value = false
	h.tick(Pending{Config: config(nil, s), Manual: []ManualCommand{{Actuator: Light, On: true}}})
	require.True(t, h.state(Light).IsOn)

	h.tick(Pending{}) // window opens with an off value
	l := h.state(Light)
	assert.True(t, l.IsOn)
	assert.Equal(t, SourceManual, l.TriggerSource)
}

func TestEngineManualTimedExpires(t *testing.T) {
	h := newHarness(t, tuesday22000)
	h.tick(Pending{Manual: []ManualCommand{{Actuator: Water, On: true, Duration: 2 * time.Second}}})
	require.True(t, h.state(Water).IsOn)
	h.tick(Pending{})
	h.tick(Pending{})
	assert.False(t, h.state(Water).IsOn)
}

func TestEngineManualSuppressedInTestMode(t *testing.T) {
	h := newHarness(t, tuesday22000)
	h.tick(Pending{Test: []TestCommand{{Actuator: Siren, Enabled: true}}})
	res := h.tick(Pending{Manual: []ManualCommand{{Actuator: Siren, On: false}}})
	s := h.state(Siren)
	assert.True(t, s.IsOn)
	assert.Equal(t, SourceTest, s.TriggerSource)
	require.Len(t, res.Audit, 1)
	assert.Equal(t, KindSuppressed, res.Audit[0].Kind)
}

func TestEngineScheduleBeatsAutomation(t *testing.T) {
	h := newHarness(t, tuesday22000)
	h.values["temperature"] = 36
	off := everyDay(Motor, 21600, 28800)
	off.Value = false
	h.tick(Pending{Config: config(motorRule(), off)})
	m := h.state(Motor)
	assert.False(t, m.IsOn)
	assert.Equal(t, SourceSchedule, m.TriggerSource)
	for i := 0; i < 5; i++ {
		h.tick(Pending{})
		require.Equal(t, SourceSchedule, h.state(Motor).TriggerSource)
	}
}

func TestEngineScheduleConflictAuditedOnce(t *testing.T) {
	h := newHarness(t, tuesday22000)
	a := everyDay(Light, 21600, 28800)
	a.Name = "a"
	b := everyDay(Light, 21000, 30000)
	b.Name = "b"
	b.Value = false

	res := h.tick(Pending{Config: config(nil, a, b)})
	var conflicts int
	for _, e := range res.Audit {
		if e.Kind == KindConflict {
			conflicts++
		}
	}
	assert.Equal(t, 1, conflicts)
	assert.False(t, h.state(Light).IsOn)

	res = h.tick(Pending{})
	assert.Empty(t, res.Audit)
}

func TestEngineStaleSnapshotSuppressesAutomation(t *testing.T) {
	h := newHarness(t, tuesday22000)
	cfg := config(motorRule())
	in := ClockInput(h.now)
	in.Snapshot = NewSnapshot(h.now.Add(-time.Minute), map[string]float64{"temperature": 40})
	in.Pending.Config = cfg
	h.e.Tick(in)
	assert.True(t, h.e.SensorsStale())
	assert.False(t, h.state(Motor).IsOn)

	in = ClockInput(h.now.Add(time.Second))
	in.Snapshot = NewSnapshot(h.now.Add(time.Second), map[string]float64{"temperature": 40})
	h.e.Tick(in)
	assert.False(t, h.e.SensorsStale())
	assert.True(t, h.state(Motor).IsOn)
}

func TestEngineStaleDoesNotBlockSchedules(t *testing.T) {
	e := NewEngine(EngineConfig{Interval: time.Second, StaleAfter: time.Second})
	in := ClockInput(tuesday22000)
	in.Pending.Config = config(nil, everyDay(Light, 21600, 28800))
	e.Tick(in) // no snapshot at all
	s, _ := e.State(Light)
	assert.True(t, s.IsOn)
}

func TestEngineMalformedRuleDiagnosedOnce(t *testing.T) {
	h := newHarness(t, tuesday22000)
	rules := map[Actuator]Rule{Motor: {When: "temperature", Problem: "missing operator"}}
	res := h.tick(Pending{Config: config(rules)})
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, Motor, res.Diagnostics[0].Actuator)

	res = h.tick(Pending{})
	assert.Empty(t, res.Diagnostics)
	assert.False(t, h.state(Motor).IsOn)
}

func TestEngineUnknownActuatorCommand(t *testing.T) {
	h := newHarness(t, tuesday22000)
	res := h.tick(Pending{Manual: []ManualCommand{{Actuator: "fan", On: true}}})
	require.Len(t, res.Diagnostics, 1)
	assert.Empty(t, res.Commands)
}

func TestEngineAuditAfterMatchesNextTickState(t *testing.T) {
	h := newHarness(t, time.Date(2026, 1, 6, 7, 59, 0, 0, time.UTC))
	h.values["temperature"] = 36
	cfg := config(map[Actuator]Rule{
		Motor: {When: "temperature", Operator: OpGreater, Value: f(35), Duration: 5 * time.Second},
		Water: {When: "humidity", Operator: OpLess, Value: f(40)},
	}, everyDay(Light, 21600, 28800))

	pendings := map[int]Pending{
		0:  {Config: cfg},
		3:  {Manual: []ManualCommand{{Actuator: Water, On: true}}},
		10: {Test: []TestCommand{{Actuator: Siren, Enabled: true, Duration: 4 * time.Second}}},
		20: {Test: []TestCommand{{Actuator: Siren, Enabled: false}}},
	}

	var last []AuditEntry
	for i := 0; i < 120; i++ {
		for _, e := range last {
			if e.Kind != KindTransition {
				continue
			}
			assert.Equal(t, e.After, h.state(e.Actuator), "tick %d %s", i, e.Actuator)
		}
		if i == 50 {
			h.values["humidity"] = 30
		}
		last = h.tick(pendings[i]).Audit

		transitions := map[Actuator]int{}
		for _, e := range last {
			if e.Kind == KindTransition {
				transitions[e.Actuator]++
			}
		}
		for a, n := range transitions {
			require.Equal(t, 1, n, "tick %d: %s has %d transition entries", i, a, n)
		}
	}
}

func TestEngineNeverOnWithNothingLeft(t *testing.T) {
	h := newHarness(t, tuesday22000)
	h.values["temperature"] = 36
	h.tick(Pending{Config: config(map[Actuator]Rule{
		Motor: {When: "temperature", Operator: OpGreater, Value: f(35), Duration: 2 * time.Second},
	})})
	for i := 0; i < 10; i++ {
		for _, a := range DefaultActuators {
			s := h.state(a)
			if s.Timed() && s.IsOn {
				require.Positive(t, s.RemainingTime)
			}
			require.GreaterOrEqual(t, s.RemainingTime, time.Duration(0))
		}
		h.tick(Pending{})
	}
}

func TestEngineAutomationReclaimsAfterScheduleWindow(t *testing.T) {
	// Both histories: automation holds water before the window opens, or
	// the window opens first and automation only becomes eligible after.
	for _, start := range []int{64795, 64800} {
		t.Run(time.Duration(start*int(time.Second)).String(), func(t *testing.T) {
			h := newHarness(t, time.Date(2026, 1, 6, 0, 0, start, 0, time.UTC))
			h.values["humidity"] = 30
			sched := everyDay(Water, 64800, 64810)
			sched.Name = "evening_water"
			h.tick(Pending{Config: config(map[Actuator]Rule{
				Water: {When: "humidity", Operator: OpLess, Value: f(40)},
			}, sched)})

			for h.now.Before(time.Date(2026, 1, 6, 0, 0, 64805, 0, time.UTC)) {
				h.tick(Pending{})
			}
			assert.Equal(t, SourceSchedule, h.state(Water).TriggerSource)

			for i := 0; i < 15; i++ {
				h.tick(Pending{})
			}
			s := h.state(Water)
			assert.True(t, s.IsOn)
			assert.Equal(t, SourceAutomation, s.TriggerSource)
		})
	}
}

func TestEngineRuleRemovalReleasesAutomationHold(t *testing.T) {
	h := newHarness(t, tuesday22000)
	h.values["humidity"] = 30
	h.tick(Pending{Config: config(map[Actuator]Rule{
		Water: {When: "humidity", Operator: OpLess, Value: f(40)},
	})})
	require.True(t, h.state(Water).IsOn)
	require.Equal(t, SourceAutomation, h.state(Water).TriggerSource)

	res := h.tick(Pending{Config: config(nil)})
	assert.False(t, h.state(Water).IsOn)
	assert.True(t, res.Changed)
	var causes []string
	for _, e := range res.Audit {
		if e.Actuator == Water && e.Kind == KindTransition {
			causes = append(causes, e.Cause)
		}
	}
	assert.Equal(t, []string{"rule removed"}, causes)

	for i := 0; i < 10; i++ {
		h.tick(Pending{})
		assert.False(t, h.state(Water).IsOn)
	}
}

func TestEngineRuleRemovalKeepsTimedAutomation(t *testing.T) {
	h := newHarness(t, tuesday22000)
	h.values["temperature"] = 40
	h.tick(Pending{Config: config(motorRule())})
	require.True(t, h.state(Motor).IsOn)

	h.tick(Pending{Config: config(nil)})
	s := h.state(Motor)
	assert.True(t, s.IsOn)
	assert.Equal(t, SourceAutomation, s.TriggerSource)
}
