package logic

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// EngineConfig holds the engine's fixed parameters.
type EngineConfig struct {
	Actuators  []Actuator    // resolve order; DefaultActuators if empty
	Interval   time.Duration // tick interval, the timer's decrement
	StaleAfter time.Duration // 0 disables the staleness check
	Wrap       WrapPolicy
}

// Engine owns every ActuatorState and decides them once per tick.
// It is not safe for concurrent use: only the tick loop may call it.
type Engine struct {
	cfg       EngineConfig
	view      ConfigView
	states    map[Actuator]ActuatorState
	arms      map[Actuator]*arming
	test      map[Actuator]bool
	restart   map[Actuator]bool
	testLen   map[Actuator]time.Duration
	conflicts map[string]bool // conflict sets already audited for the current config
	stale     bool
}

// NewEngine creates an engine with every actuator idle.
func NewEngine(cfg EngineConfig) *Engine {
	if len(cfg.Actuators) == 0 {
		cfg.Actuators = DefaultActuators
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	e := &Engine{
		cfg:       cfg,
		states:    make(map[Actuator]ActuatorState, len(cfg.Actuators)),
		arms:      make(map[Actuator]*arming, len(cfg.Actuators)),
		test:      make(map[Actuator]bool),
		restart:   make(map[Actuator]bool),
		testLen:   make(map[Actuator]time.Duration),
		conflicts: make(map[string]bool),
	}
	for _, a := range cfg.Actuators {
		e.states[a] = Idle()
		e.arms[a] = newArming()
	}
	return e
}

// Actuators returns the actuators in resolve order.
func (e *Engine) Actuators() []Actuator {
	out := make([]Actuator, len(e.cfg.Actuators))
	copy(out, e.cfg.Actuators)
	return out
}

// Known reports whether a is managed by this engine.
func (e *Engine) Known(a Actuator) bool {
	_, ok := e.states[a]
	return ok
}

// State returns the current state of a.
func (e *Engine) State(a Actuator) (ActuatorState, bool) {
	s, ok := e.states[a]
	return s, ok
}

// States returns a copy of every actuator state.
func (e *Engine) States() map[Actuator]ActuatorState {
	out := make(map[Actuator]ActuatorState, len(e.states))
	for a, s := range e.states {
		out[a] = s
	}
	return out
}

// Config returns the configuration view currently in force.
func (e *Engine) Config() ConfigView {
	return e.view
}

// SensorsStale reports whether the last tick saw a stale or missing snapshot.
func (e *Engine) SensorsStale() bool {
	return e.stale
}

// Tick runs one full evaluate → arbitrate cycle.
func (e *Engine) Tick(in Input) Result {
	var res Result

	manual := e.applyPending(in.Pending, &res)

	e.stale = e.isStale(in)

	for _, a := range e.cfg.Actuators {
		before := e.states[a]
		advanced, expired := Advance(before, e.cfg.Interval)

		c := e.candidatesFor(a, in, manual[a])
		r := resolve(advanced, expired, c, e.arms[a])
		next := r.state

		if len(c.schedule.conflict) > 0 {
			key := string(a) + "|" + strings.Join(c.schedule.conflict, ",")
			if !e.conflicts[key] {
				e.conflicts[key] = true
				msg := "conflicting schedules " + strings.Join(c.schedule.conflict, ", ") + ": off wins"
				res.Audit = append(res.Audit, AuditEntry{
					Kind:      KindConflict,
					Actuator:  a,
					Before:    before,
					After:     next,
					Source:    SourceSchedule,
					Cause:     msg,
					Timestamp: in.Time,
				})
				res.Diagnostics = append(res.Diagnostics, Diagnostic{Actuator: a, Subject: strings.Join(c.schedule.conflict, ","), Message: msg})
			}
		}

		if r.suppressed != "" {
			res.Audit = append(res.Audit, AuditEntry{
				Kind:      KindSuppressed,
				Actuator:  a,
				Before:    before,
				After:     next,
				Source:    SourceManual,
				Cause:     r.suppressed,
				Timestamp: in.Time,
			})
		}

		if !next.sameAs(before) {
			cause := r.cause
			if cause == "" {
				cause = "state changed"
			}
			res.Audit = append(res.Audit, AuditEntry{
				Kind:      KindTransition,
				Actuator:  a,
				Before:    before,
				After:     next,
				Source:    next.TriggerSource,
				Cause:     cause,
				Timestamp: in.Time,
			})
			res.Changed = true
		}
		if next.IsOn != before.IsOn {
			res.Commands = append(res.Commands, Command{Actuator: a, On: next.IsOn})
		}

		e.states[a] = next
	}

	for a := range e.restart {
		delete(e.restart, a)
	}
	res.States = e.States()
	return res
}

// applyPending folds buffered inputs in at the tick boundary and returns the
// manual command per actuator. The last command for an actuator wins.
func (e *Engine) applyPending(p Pending, res *Result) map[Actuator]*ManualCommand {
	if p.Config != nil {
		prev := e.view.TestMode
		e.view = *p.Config
		for a := range e.conflicts {
			delete(e.conflicts, a)
		}
		for _, a := range e.cfg.Actuators {
			if p.Config.TestMode[a] != prev[a] {
				e.test[a] = p.Config.TestMode[a]
				e.testLen[a] = 0
			}
		}
		res.Diagnostics = append(res.Diagnostics, Validate(e.view, e.cfg.Actuators, e.cfg.Wrap)...)
	}

	for _, t := range p.Test {
		if !e.Known(t.Actuator) {
			res.Diagnostics = append(res.Diagnostics, Diagnostic{Actuator: t.Actuator, Message: "test command for unknown actuator"})
			continue
		}
		e.test[t.Actuator] = t.Enabled
		e.testLen[t.Actuator] = t.Duration
		e.restart[t.Actuator] = t.Enabled
	}

	manual := make(map[Actuator]*ManualCommand)
	for i := range p.Manual {
		cmd := p.Manual[i]
		if !e.Known(cmd.Actuator) {
			res.Diagnostics = append(res.Diagnostics, Diagnostic{Actuator: cmd.Actuator, Message: "manual command for unknown actuator"})
			continue
		}
		manual[cmd.Actuator] = &cmd
	}
	return manual
}

func (e *Engine) isStale(in Input) bool {
	if in.Snapshot == nil {
		return true
	}
	if e.cfg.StaleAfter <= 0 {
		return false
	}
	return in.Time.Sub(in.Snapshot.CapturedAt) > e.cfg.StaleAfter
}

func (e *Engine) candidatesFor(a Actuator, in Input, manual *ManualCommand) candidates {
	c := candidates{
		testEnabled: e.test[a],
		testRestart: e.restart[a],
		testLength:  e.testLen[a],
		manual:      manual,
		schedule:    matchSchedules(in.TimeOfDay, in.Day, a, e.view.Schedules, e.cfg.Wrap),
		stale:       e.stale,
	}
	if rule, ok := e.view.Rules[a]; ok {
		c.hasRule = true
		c.rule = rule
		if !c.stale {
			c.verdict = Evaluate(in.Snapshot, rule)
			c.ruleReport = describeRule(rule, in.Snapshot)
		}
	}
	return c
}

// Validate reports every rule and schedule that will be treated as disabled
// or suspect under policy. It is meant to run once per configuration change.
func Validate(v ConfigView, actuators []Actuator, policy WrapPolicy) []Diagnostic {
	known := make(map[Actuator]bool, len(actuators))
	for _, a := range actuators {
		known[a] = true
	}

	var out []Diagnostic
	names := make([]string, 0, len(v.Rules))
	for a := range v.Rules {
		names = append(names, string(a))
	}
	sort.Strings(names)
	for _, n := range names {
		a := Actuator(n)
		r := v.Rules[a]
		switch {
		case !known[a]:
			out = append(out, Diagnostic{Actuator: a, Subject: "rule", Message: "rule for unknown actuator ignored"})
		case r.Problem != "":
			out = append(out, Diagnostic{Actuator: a, Subject: "rule", Message: "automation disabled: " + r.Problem})
		}
	}

	for _, s := range v.Schedules {
		switch {
		case s.Problem != "":
			out = append(out, Diagnostic{Actuator: s.Actuator, Subject: s.Name, Message: "schedule disabled: " + s.Problem})
		case !known[s.Actuator]:
			out = append(out, Diagnostic{Actuator: s.Actuator, Subject: s.Name, Message: "schedule for unknown actuator ignored"})
		case s.Wraps() && policy == WrapSuspect:
			out = append(out, Diagnostic{Actuator: s.Actuator, Subject: s.Name, Message: fmt.Sprintf("suspect window %d-%d (end before start) treated as inactive", s.Start, s.End)})
		case s.Wraps():
			out = append(out, Diagnostic{Actuator: s.Actuator, Subject: s.Name, Message: fmt.Sprintf("window %d-%d wraps past midnight", s.Start, s.End)})
		}
	}
	return out
}
