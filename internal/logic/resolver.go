package logic

import (
	"fmt"
	"time"
)

// Priority lists the trigger sources from highest to lowest.
var Priority = []TriggerSource{SourceTest, SourceManual, SourceSchedule, SourceAutomation}

// arming is the per-actuator edge memory the resolver keeps between ticks.
// Schedule and automation claim an actuator on the rising edge of their
// candidate. A claim that cannot be served yet stays armed.
type arming struct {
	automation     bool // armed: the rule has been unsatisfied since it last fired
	schedule       bool // armed: a schedule window opened and has not claimed yet
	scheduleActive bool // last tick's schedule candidate
	scheduleValue  bool
	scheduleName   string
}

func newArming() *arming {
	return &arming{automation: true}
}

// rearm forgets all edge history so current candidates count as fresh.
func (a *arming) rearm() {
	*a = arming{automation: true}
}

// disarm consumes pending claims so a manual decision is not undone by an
// edge that happened before it.
func (a *arming) disarm() {
	a.automation = false
	a.schedule = false
}

// candidates are the inputs competing for one actuator in one tick.
type candidates struct {
	testEnabled bool
	testRestart bool
	testLength  time.Duration

	manual *ManualCommand

	schedule scheduleCandidate

	hasRule    bool
	rule       Rule
	verdict    Verdict
	stale      bool
	ruleReport string // rendered condition for audit causes
}

// resolution is the resolver's answer for one actuator.
type resolution struct {
	state      ActuatorState
	cause      string
	suppressed string // a lower tier's request that was ignored
}

// resolve picks the authoritative state for one actuator from the timer's
// advanced state and this tick's candidates. The explicit priority order is
// test, manual, schedule, automation, then no change.
func resolve(cur ActuatorState, expired bool, c candidates, arm *arming) resolution {
	res := resolution{state: cur}
	if expired {
		res.cause = "timer expired"
	}

	// 1. Test mode owns the actuator outright.
	if c.testEnabled {
		if c.manual != nil {
			res.suppressed = fmt.Sprintf("manual %s ignored: test mode active", onOff(c.manual.On))
		}
		if !cur.IsTestMode || c.testRestart {
			s := cur
			s.IsTestMode = true
			res.state = Activate(s, SourceTest, true, c.testLength)
			res.cause = "test mode enabled"
			return res
		}
		res.state.TriggerSource = SourceTest
		return res
	}

	fresh := false
	if cur.IsTestMode {
		res.state = Idle()
		res.cause = "test mode cleared"
		arm.rearm()
		fresh = true
	}

	// 2. An explicit manual command issued since the last tick.
	if c.manual != nil {
		res.state = Activate(res.state, SourceManual, c.manual.On, manualLength(c.manual))
		res.cause = "manual " + onOff(c.manual.On)
		arm.disarm()
		arm.scheduleActive = c.schedule.active
		arm.scheduleValue = c.schedule.value
		arm.scheduleName = c.schedule.name
		return res
	}
	if fresh {
		return res
	}

	// 3. Schedules.
	sc := c.schedule
	if sc.active && (!arm.scheduleActive || sc.value != arm.scheduleValue || sc.name != arm.scheduleName) {
		arm.schedule = true
	}
	if !sc.active {
		arm.schedule = false
	}
	arm.scheduleActive = sc.active
	arm.scheduleValue = sc.value
	arm.scheduleName = sc.name

	st := res.state
	switch {
	case sc.active && arm.schedule && !manualHold(st):
		if st.TriggerSource == SourceAutomation {
			// Taken from automation, which may claim again once the window closes.
			arm.automation = true
		}
		next := Activate(st, SourceSchedule, sc.value, 0)
		if sc.value {
			next.Duration = sc.length
			next.RemainingTime = sc.remaining
		}
		res.state = next
		res.cause = fmt.Sprintf("schedule %s %s", sc.name, onOff(sc.value))
		arm.schedule = false
		return res
	case sc.active && st.TriggerSource == SourceSchedule:
		// The window holds the actuator; automation may not take it.
		return res
	case !sc.active && st.TriggerSource == SourceSchedule:
		res.state = Release(st)
		res.cause = "schedule window closed"
		return res
	}

	// 4. Automation.
	if !c.hasRule {
		arm.automation = true
		if automationHold(st) {
			res.state = Release(st)
			res.cause = "rule removed"
		}
		return res
	}
	if c.stale {
		return res
	}
	if c.verdict != VerdictSatisfied {
		arm.automation = true
		if automationHold(st) {
			res.state = Release(st)
			res.cause = "condition cleared: " + c.ruleReport
		}
		return res
	}
	if arm.automation && !manualHold(st) && !sc.active {
		res.state = Activate(st, SourceAutomation, true, c.rule.Duration)
		res.cause = "condition met: " + c.ruleReport
		arm.automation = false
	}

	// 5. Default: no change.
	return res
}

// manualHold reports whether a manual activation is in effect.
func manualHold(s ActuatorState) bool {
	return s.IsOn && s.TriggerSource == SourceManual
}

// automationHold reports whether an untimed automation activation is in effect.
func automationHold(s ActuatorState) bool {
	return s.IsOn && s.TriggerSource == SourceAutomation && !s.Timed()
}

func manualLength(cmd *ManualCommand) time.Duration {
	if !cmd.On {
		return 0
	}
	return cmd.Duration
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

// describeRule renders a rule and the observed value for audit causes.
func describeRule(r Rule, snap *SensorSnapshot) string {
	if r.Value == nil {
		return r.When + " " + string(r.Operator) + " ?"
	}
	s := fmt.Sprintf("%s %s %g", r.When, r.Operator, *r.Value)
	if snap != nil {
		if rd, ok := snap.Readings[r.When]; ok && rd.Numeric {
			s += fmt.Sprintf(" (%g)", rd.Value)
		}
	}
	return s
}
