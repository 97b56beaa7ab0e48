// Package inbox buffers inputs that arrive asynchronously (network callbacks,
// HTTP handlers) until the tick loop takes them at the next tick boundary.
package inbox

import (
	"errors"
	"sync"
	"time"

	"github.com/sweeney/farm-controller/internal/logic"
)

// ErrUnknownActuator is returned for commands naming an actuator the
// controller does not drive.
var ErrUnknownActuator = errors.New("unknown actuator")

// Section identifies one part of the configuration view.
type Section int

const (
	SectionRules Section = iota
	SectionSchedules
	SectionTestMode
)

// slot is everything buffered since the last Drain.
type slot struct {
	configDirty bool
	manual      map[logic.Actuator]logic.ManualCommand
	manualOrder []logic.Actuator
	test        map[logic.Actuator]logic.TestCommand
	testOrder   []logic.Actuator
}

// Inbox is a mutex-protected single-slot buffer. Writers replace the latest
// value per input; the tick loop swaps the whole slot out in Drain.
// Safe for concurrent use.
type Inbox struct {
	mu        sync.Mutex
	known     map[logic.Actuator]bool
	view      logic.ConfigView // merged sections, copied on Drain
	pending   slot
	snapshot  *logic.SensorSnapshot
	updatedAt time.Time
}

// New creates an inbox accepting commands for the given actuators.
func New(actuators []logic.Actuator) *Inbox {
	known := make(map[logic.Actuator]bool, len(actuators))
	for _, a := range actuators {
		known[a] = true
	}
	return &Inbox{known: known}
}

// SetRules replaces the automation rules section.
func (b *Inbox) SetRules(rules map[logic.Actuator]logic.Rule) {
	b.mu.Lock()
	b.view.Rules = rules
	b.pending.configDirty = true
	b.mu.Unlock()
}

// SetSchedules replaces the schedules section.
func (b *Inbox) SetSchedules(schedules []logic.Schedule) {
	b.mu.Lock()
	b.view.Schedules = schedules
	b.pending.configDirty = true
	b.mu.Unlock()
}

// SetTestMode replaces the test mode section.
func (b *Inbox) SetTestMode(tm map[logic.Actuator]bool) {
	b.mu.Lock()
	b.view.TestMode = tm
	b.pending.configDirty = true
	b.mu.Unlock()
}

// SetConfig replaces the whole configuration view.
func (b *Inbox) SetConfig(v logic.ConfigView) {
	b.mu.Lock()
	b.view = v
	b.pending.configDirty = true
	b.mu.Unlock()
}

// Manual buffers a manual command. A later command for the same actuator
// replaces an earlier one that has not been taken yet.
func (b *Inbox) Manual(cmd logic.ManualCommand) error {
	if !b.known[cmd.Actuator] {
		return ErrUnknownActuator
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending.manual == nil {
		b.pending.manual = make(map[logic.Actuator]logic.ManualCommand)
	}
	if _, ok := b.pending.manual[cmd.Actuator]; !ok {
		b.pending.manualOrder = append(b.pending.manualOrder, cmd.Actuator)
	}
	b.pending.manual[cmd.Actuator] = cmd
	return nil
}

// Test buffers a test mode command, latest per actuator wins.
func (b *Inbox) Test(cmd logic.TestCommand) error {
	if !b.known[cmd.Actuator] {
		return ErrUnknownActuator
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending.test == nil {
		b.pending.test = make(map[logic.Actuator]logic.TestCommand)
	}
	if _, ok := b.pending.test[cmd.Actuator]; !ok {
		b.pending.testOrder = append(b.pending.testOrder, cmd.Actuator)
	}
	b.pending.test[cmd.Actuator] = cmd
	return nil
}

// SetSnapshot replaces the latest sensor snapshot.
func (b *Inbox) SetSnapshot(s *logic.SensorSnapshot, receivedAt time.Time) {
	b.mu.Lock()
	b.snapshot = s
	b.updatedAt = receivedAt
	b.mu.Unlock()
}

// Snapshot returns the latest sensor snapshot and when it was received.
// The snapshot persists across ticks; staleness is judged by the engine.
func (b *Inbox) Snapshot() (*logic.SensorSnapshot, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshot, b.updatedAt
}

// Drain takes everything buffered since the last call. The returned config
// view is a copy, so later writers never touch what a tick is reading.
func (b *Inbox) Drain() logic.Pending {
	b.mu.Lock()
	s := b.pending
	b.pending = slot{}
	var view *logic.ConfigView
	if s.configDirty {
		v := b.view
		view = &v
	}
	b.mu.Unlock()

	p := logic.Pending{Config: view}
	for _, a := range s.manualOrder {
		p.Manual = append(p.Manual, s.manual[a])
	}
	for _, a := range s.testOrder {
		p.Test = append(p.Test, s.test[a])
	}
	return p
}
