// Package relay drives actuator relays with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package relay

import (
	"errors"

	"github.com/sweeney/farm-controller/internal/logic"
)

// ErrUnknownActuator is returned for an actuator with no relay configured.
var ErrUnknownActuator = errors.New("relay: unknown actuator")

// Driver turns actuators on and off.
type Driver interface {
	// Set drives the actuator's relay to the given logical state.
	Set(a logic.Actuator, on bool) error

	// Close drives every relay off and releases resources.
	Close() error
}

// Pin is one relay output (BCM numbering). Relay boards that energise on a
// low level set ActiveLow.
type Pin struct {
	Offset    int  `yaml:"pin"`
	ActiveLow bool `yaml:"active_low"`
}

// DefaultPins matches the four-channel relay HAT the controller ships with.
var DefaultPins = map[logic.Actuator]Pin{
	logic.Motor: {Offset: 5, ActiveLow: true},
	logic.Water: {Offset: 6, ActiveLow: true},
	logic.Light: {Offset: 13, ActiveLow: true},
	logic.Siren: {Offset: 19, ActiveLow: true},
}

// NopDriver accepts every command without touching hardware. Used when
// relays are disabled in the configuration.
type NopDriver struct{}

// Set does nothing.
func (NopDriver) Set(logic.Actuator, bool) error { return nil }

// Close does nothing.
func (NopDriver) Close() error { return nil }
