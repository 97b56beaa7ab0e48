package relay

import (
	"fmt"
	"sync"

	"github.com/sweeney/farm-controller/internal/logic"
)

// Call is one recorded Set.
type Call struct {
	Actuator logic.Actuator
	On       bool
}

// FakeDriver records relay commands for test assertions.
type FakeDriver struct {
	mu     sync.Mutex
	known  map[logic.Actuator]bool
	state  map[logic.Actuator]bool
	calls  []Call
	errs   map[logic.Actuator]error
	closed bool
}

// NewFakeDriver creates a FakeDriver for the given actuators.
func NewFakeDriver(actuators []logic.Actuator) *FakeDriver {
	f := &FakeDriver{
		known: make(map[logic.Actuator]bool, len(actuators)),
		state: make(map[logic.Actuator]bool, len(actuators)),
		errs:  make(map[logic.Actuator]error),
	}
	for _, a := range actuators {
		f.known[a] = true
	}
	return f
}

// Set records the command, or returns the error injected for the actuator.
func (f *FakeDriver) Set(a logic.Actuator, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.known[a] {
		return fmt.Errorf("%w: %s", ErrUnknownActuator, a)
	}
	if err := f.errs[a]; err != nil {
		return err
	}
	f.state[a] = on
	f.calls = append(f.calls, Call{Actuator: a, On: on})
	return nil
}

// Close drives everything off and marks the driver closed.
func (f *FakeDriver) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for a := range f.state {
		f.state[a] = false
	}
	f.closed = true
	return nil
}

// FailWith makes Set fail for a; nil clears the failure.
func (f *FakeDriver) FailWith(a logic.Actuator, err error) {
	f.mu.Lock()
	f.errs[a] = err
	f.mu.Unlock()
}

// On reports the last commanded state of a.
func (f *FakeDriver) On(a logic.Actuator) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state[a]
}

// Calls returns a copy of every successful Set, in order.
func (f *FakeDriver) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Closed reports whether Close was called.
func (f *FakeDriver) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
