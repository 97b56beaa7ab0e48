package mqtt

import (
	"sync"
	"time"

	"github.com/sweeney/farm-controller/internal/audit"
	"github.com/sweeney/farm-controller/internal/logic"
)

// FakeClient records published messages for test assertions and lets tests
// inject inbound messages.
type FakeClient struct {
	mu sync.Mutex

	// States contains every actuatorStates document that was published.
	States []map[logic.Actuator]logic.ActuatorState

	// Entries contains all audit entries that were published.
	Entries []audit.Entry

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// PublishError, if set, will be returned by PublishStates and PublishEntry.
	PublishError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool

	topics Topics
	inputs Inputs
}

// NewFakeClient creates a FakeClient that routes delivered messages to inputs.
func NewFakeClient(deviceID string, inputs Inputs) *FakeClient {
	return &FakeClient{topics: NewTopics(deviceID), inputs: inputs, Connected: true}
}

// Topics returns the topic set the fake routes against.
func (f *FakeClient) Topics() Topics {
	return f.topics
}

// Deliver simulates an inbound message from the broker.
func (f *FakeClient) Deliver(topic string, payload []byte, at time.Time) error {
	return Route(f.inputs, f.topics, topic, payload, at)
}

// PublishStates records a copy of the states document.
func (f *FakeClient) PublishStates(states map[logic.Actuator]logic.ActuatorState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	cp := make(map[logic.Actuator]logic.ActuatorState, len(states))
	for a, s := range states {
		cp[a] = s
	}
	f.States = append(f.States, cp)
	return nil
}

// PublishEntry records the audit entry.
func (f *FakeClient) PublishEntry(e audit.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	if !f.Connected {
		return audit.ErrSinkUnavailable
	}
	f.Entries = append(f.Entries, e)
	return nil
}

// PublishSystem records the system event.
func (f *FakeClient) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemEvents = append(f.SystemEvents, event)
	f.SystemPayloads = append(f.SystemPayloads, payload)
	return nil
}

// Close marks the client as closed.
func (f *FakeClient) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// IsConnected reports whether the fake client is "connected".
func (f *FakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// SetConnected changes the simulated connection state.
func (f *FakeClient) SetConnected(connected bool) {
	f.mu.Lock()
	f.Connected = connected
	f.mu.Unlock()
}

// EntryCount returns how many audit entries were published.
func (f *FakeClient) EntryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Entries)
}

// LastStates returns the most recent states document, or nil.
func (f *FakeClient) LastStates() map[logic.Actuator]logic.ActuatorState {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.States) == 0 {
		return nil
	}
	return f.States[len(f.States)-1]
}

// Reset clears recorded messages and injected errors.
func (f *FakeClient) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.States = nil
	f.Entries = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Closed = false
	f.PublishError = nil
	f.PublishSystemError = nil
	f.Connected = true
}
