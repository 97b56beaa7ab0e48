//go:build linux

package relay

import (
	"errors"
	"fmt"
	"sort"

	"github.com/warthog618/go-gpiocdev"

	"github.com/sweeney/farm-controller/internal/logic"
)

// RealDriver drives relays through the Linux GPIO character device.
type RealDriver struct {
	chip  *gpiocdev.Chip
	lines map[logic.Actuator]*gpiocdev.Line
}

// NewRealDriver requests one output line per actuator, initially off.
func NewRealDriver(chipName string, pins map[logic.Actuator]Pin) (*RealDriver, error) {
	if chipName == "" {
		chipName = "gpiochip0"
	}
	chip, err := gpiocdev.NewChip(chipName, gpiocdev.WithConsumer("farm-controller"))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	d := &RealDriver{chip: chip, lines: make(map[logic.Actuator]*gpiocdev.Line, len(pins))}

	// Request in a stable order so a failure always names the same pin.
	names := make([]string, 0, len(pins))
	for a := range pins {
		names = append(names, string(a))
	}
	sort.Strings(names)

	for _, name := range names {
		a := logic.Actuator(name)
		p := pins[a]
		opts := []gpiocdev.LineReqOption{gpiocdev.AsOutput(0)}
		if p.ActiveLow {
			opts = append(opts, gpiocdev.AsActiveLow)
		}
		line, err := chip.RequestLine(p.Offset, opts...)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("request %s pin %d: %w", a, p.Offset, err)
		}
		d.lines[a] = line
	}
	return d, nil
}

// Set drives the actuator's line. Active-low inversion is applied by the kernel.
func (d *RealDriver) Set(a logic.Actuator, on bool) error {
	line, ok := d.lines[a]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownActuator, a)
	}
	v := 0
	if on {
		v = 1
	}
	if err := line.SetValue(v); err != nil {
		return fmt.Errorf("set %s: %w", a, err)
	}
	return nil
}

// Close drives every relay off, then reconfigures the lines as inputs with
// pull-down (matching Pi boot defaults) before releasing them.
func (d *RealDriver) Close() error {
	var errs []error
	for a, line := range d.lines {
		if err := line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("switch off %s: %w", a, err))
		}
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure %s: %w", a, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", a, err))
		}
	}
	d.lines = nil
	if d.chip != nil {
		if err := d.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		d.chip = nil
	}
	return errors.Join(errs...)
}
