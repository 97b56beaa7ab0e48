package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sweeney/farm-controller/internal/logic"
)

// Inputs receives parsed inbound messages. inbox.Inbox implements it.
type Inputs interface {
	SetRules(rules map[logic.Actuator]logic.Rule)
	SetSchedules(schedules []logic.Schedule)
	SetTestMode(tm map[logic.Actuator]bool)
	Manual(cmd logic.ManualCommand) error
	Test(cmd logic.TestCommand) error
	SetSnapshot(s *logic.SensorSnapshot, receivedAt time.Time)
}

// ManualPayload is the body of a commands/manual message.
// Duration is in seconds; absent or 0 means until turned off.
type ManualPayload struct {
	Actuator string   `json:"actuator"`
	On       *bool    `json:"on"`
	Duration *float64 `json:"duration,omitempty"`
}

// TestPayload is the body of a commands/test message.
type TestPayload struct {
	Actuator string   `json:"actuator"`
	Enabled  *bool    `json:"enabled"`
	Duration *float64 `json:"duration,omitempty"`
}

// Route parses one inbound message and hands it to in. Malformed payloads
// and unknown topics return an error for the caller to log; nothing is
// applied in that case.
func Route(in Inputs, topics Topics, topic string, payload []byte, receivedAt time.Time) error {
	switch topic {
	case topics.Rules():
		rules, err := logic.ParseRules(payload)
		if err != nil {
			return err
		}
		in.SetRules(rules)
	case topics.Schedules():
		schedules, err := logic.ParseSchedules(payload)
		if err != nil {
			return err
		}
		in.SetSchedules(schedules)
	case topics.TestMode():
		tm, err := logic.ParseTestMode(payload)
		if err != nil {
			return err
		}
		in.SetTestMode(tm)
	case topics.Sensors():
		snap, err := logic.ParseSnapshot(payload, receivedAt)
		if err != nil {
			return err
		}
		in.SetSnapshot(snap, receivedAt)
	case topics.Manual():
		var p ManualPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("manual command: %w", err)
		}
		if p.On == nil {
			return fmt.Errorf("manual command: missing \"on\"")
		}
		d, err := seconds(p.Duration)
		if err != nil {
			return fmt.Errorf("manual command: %w", err)
		}
		return in.Manual(logic.ManualCommand{
			Actuator: logic.Actuator(p.Actuator),
			On:       *p.On,
			Duration: d,
			IssuedAt: receivedAt,
		})
	case topics.Test():
		var p TestPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("test command: %w", err)
		}
		if p.Enabled == nil {
			return fmt.Errorf("test command: missing \"enabled\"")
		}
		d, err := seconds(p.Duration)
		if err != nil {
			return fmt.Errorf("test command: %w", err)
		}
		return in.Test(logic.TestCommand{
			Actuator: logic.Actuator(p.Actuator),
			Enabled:  *p.Enabled,
			Duration: d,
		})
	default:
		return fmt.Errorf("unexpected topic %q", topic)
	}
	return nil
}

func seconds(v *float64) (time.Duration, error) {
	if v == nil {
		return 0, nil
	}
	if *v < 0 {
		return 0, fmt.Errorf("negative duration %v", *v)
	}
	d, ok := logic.Seconds(*v)
	if !ok {
		return 0, fmt.Errorf("duration %v out of range", *v)
	}
	return d, nil
}
