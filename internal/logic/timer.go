package logic

import (
	"math"
	"time"
)

// MaxSeconds is the longest duration, in seconds, a time.Duration can hold.
const MaxSeconds = float64(math.MaxInt64) / float64(time.Second)

// Seconds converts a duration in seconds. It reports false for negative,
// non-finite or out of range values instead of letting them wrap.
func Seconds(secs float64) (time.Duration, bool) {
	if secs < 0 || math.IsNaN(secs) || math.IsInf(secs, 0) || secs >= MaxSeconds {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}

// Advance counts a timed activation down by one tick interval, floored at
// zero. When the countdown reaches zero the actuator turns off and its
// trigger source falls back to what it was before the activation.
// Untimed activations and idle actuators are returned unchanged.
func Advance(s ActuatorState, interval time.Duration) (ActuatorState, bool) {
	if !s.Timed() || s.RemainingTime <= 0 {
		if s.Timed() && s.IsOn {
			// Never leave a timed activation on with nothing left.
			return expire(s), true
		}
		return s, false
	}
	s.RemainingTime -= interval
	if s.RemainingTime > 0 {
		return s, false
	}
	return expire(s), true
}

func expire(s ActuatorState) ActuatorState {
	s.IsOn = false
	s.RemainingTime = 0
	s.Duration = 0
	if s.IsTestMode {
		s.TriggerSource = SourceTest
		return s
	}
	s.TriggerSource = s.restoreSource()
	return s
}

// Activate starts an activation from source. A zero duration is untimed.
func Activate(s ActuatorState, source TriggerSource, on bool, d time.Duration) ActuatorState {
	if d < 0 {
		d = 0
	}
	restore := s.TriggerSource
	if s.IsOn || s.TriggerSource == SourceSchedule {
		// Replacing a hold keeps the hold's own fallback.
		restore = s.restore
	}
	if restore == "" || restore == SourceTest {
		restore = SourceManual
	}
	next := ActuatorState{
		IsOn:          on,
		IsTestMode:    s.IsTestMode,
		TriggerSource: source,
		restore:       restore,
	}
	if on && d > 0 {
		next.Duration = d
		next.RemainingTime = d
	}
	return next
}

// Release ends a hold early, e.g. when an untimed automation condition
// clears or a schedule window closes.
func Release(s ActuatorState) ActuatorState {
	return expire(s)
}

// Idle returns the boot state: off, untimed, manual.
func Idle() ActuatorState {
	return ActuatorState{TriggerSource: SourceManual, restore: SourceManual}
}

func (s ActuatorState) restoreSource() TriggerSource {
	if s.restore == "" {
		return SourceManual
	}
	return s.restore
}
