package logic

import (
	"strings"
	"time"
)

// SecondsPerDay bounds schedule start and end times.
const SecondsPerDay = 86400

// WrapPolicy decides what a window with End < Start means.
type WrapPolicy int

const (
	// WrapMidnight treats End < Start as a window spanning midnight.
	WrapMidnight WrapPolicy = iota
	// WrapSuspect treats End < Start as misconfigured: never active.
	WrapSuspect
)

// ParseWrapPolicy maps "wrap" and "suspect" to a policy. Anything else is
// reported as not ok and yields WrapMidnight.
func ParseWrapPolicy(s string) (WrapPolicy, bool) {
	switch strings.ToLower(s) {
	case "", "wrap":
		return WrapMidnight, true
	case "suspect":
		return WrapSuspect, true
	}
	return WrapMidnight, false
}

func (p WrapPolicy) String() string {
	if p == WrapSuspect {
		return "suspect"
	}
	return "wrap"
}

// Match reports whether the schedule is active at time-of-day now on day.
func Match(now int, day time.Weekday, s Schedule, policy WrapPolicy) bool {
	if !s.IsActive || s.Problem != "" {
		return false
	}
	if !s.hasDay(day) {
		return false
	}
	if s.End >= s.Start {
		return s.Start <= now && now < s.End
	}
	if policy == WrapSuspect {
		return false
	}
	return now >= s.Start || now < s.End
}

// Wraps reports whether the window spans midnight.
func (s Schedule) Wraps() bool {
	return s.End < s.Start
}

// Length returns the window length.
func (s Schedule) Length() time.Duration {
	n := s.End - s.Start
	if n < 0 {
		n += SecondsPerDay
	}
	return time.Duration(n) * time.Second
}

// Remaining returns the time left in the window at time-of-day now.
// It assumes the window is active at now.
func (s Schedule) Remaining(now int) time.Duration {
	n := s.End - now
	if n <= 0 {
		n += SecondsPerDay
	}
	return time.Duration(n) * time.Second
}

func (s Schedule) hasDay(day time.Weekday) bool {
	for _, d := range s.Days {
		if dayMatches(d, day) {
			return true
		}
	}
	return false
}

func dayMatches(name string, day time.Weekday) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	full := strings.ToLower(day.String())
	return name == full || name == full[:3]
}

// ValidDay reports whether name is a weekday name or its three letter abbreviation.
func ValidDay(name string) bool {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if dayMatches(name, d) {
			return true
		}
	}
	return false
}

// AllDays lists every weekday name, Monday first.
var AllDays = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// scheduleCandidate is the merged schedule output for one actuator.
type scheduleCandidate struct {
	active    bool
	value     bool
	remaining time.Duration // for the winning window
	length    time.Duration
	name      string
	conflict  []string // names of disagreeing active schedules
}

// matchSchedules merges every schedule targeting actuator a.
// Disagreeing active schedules are a conflict; the off value wins.
// Among agreeing schedules the first by name supplies the window.
func matchSchedules(now int, day time.Weekday, a Actuator, schedules []Schedule, policy WrapPolicy) scheduleCandidate {
	var c scheduleCandidate
	var onName, offName string
	var onSched, offSched Schedule
	var names []string
	for _, s := range schedules {
		if s.Actuator != a || !Match(now, day, s, policy) {
			continue
		}
		names = append(names, s.Name)
		if s.Value && onName == "" {
			onName, onSched = s.Name, s
		}
		if !s.Value && offName == "" {
			offName, offSched = s.Name, s
		}
	}
	if len(names) == 0 {
		return c
	}
	c.active = true
	win := onSched
	c.value = true
	c.name = onName
	if offName != "" {
		win = offSched
		c.value = false
		c.name = offName
	}
	if onName != "" && offName != "" {
		c.conflict = names
	}
	c.remaining = win.Remaining(now)
	c.length = win.Length()
	return c
}
