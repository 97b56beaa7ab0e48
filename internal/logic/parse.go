package logic

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// The remote store delivers loosely typed documents. Parsing degrades per
// field: a missing or mistyped field disables the one rule or schedule it
// belongs to. Only a document that is not a JSON object is an error.

// ParseConfigView parses a full configuration document with the sections
// automationRules, schedules and testMode. Missing sections are empty.
func ParseConfigView(data []byte) (*ConfigView, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse config view: %w", err)
	}
	v := &ConfigView{}
	var err error
	if raw, ok := doc["automationRules"]; ok {
		if v.Rules, err = ParseRules(raw); err != nil {
			return nil, err
		}
	}
	if raw, ok := doc["schedules"]; ok {
		if v.Schedules, err = ParseSchedules(raw); err != nil {
			return nil, err
		}
	}
	if raw, ok := doc["testMode"]; ok {
		if v.TestMode, err = ParseTestMode(raw); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// ParseRules parses the automationRules section: actuator → rule object.
func ParseRules(data []byte) (map[Actuator]Rule, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse automation rules: %w", err)
	}
	out := make(map[Actuator]Rule, len(doc))
	for name, raw := range doc {
		out[Actuator(name)] = parseRule(raw)
	}
	return out, nil
}

func parseRule(raw any) Rule {
	obj, ok := raw.(map[string]any)
	if !ok {
		return Rule{Problem: "rule is not an object"}
	}
	var r Rule
	var problems []string

	switch w := obj["when"].(type) {
	case string:
		if w == "" {
			problems = append(problems, "empty variable")
		}
		r.When = w
	case nil:
		problems = append(problems, "missing variable")
	default:
		problems = append(problems, "variable is not a string")
	}

	switch op := obj["operator"].(type) {
	case string:
		r.Operator = Operator(op)
		if !ValidOperator(r.Operator) {
			problems = append(problems, fmt.Sprintf("unknown operator %q", op))
		}
	case nil:
		problems = append(problems, "missing operator")
	default:
		problems = append(problems, "operator is not a string")
	}

	switch v := obj["value"].(type) {
	case float64:
		r.Value = &v
	case nil:
		problems = append(problems, "missing threshold")
	default:
		problems = append(problems, "threshold is not a number")
	}

	if d, present := obj["duration"]; present && d != nil {
		secs, ok := d.(float64)
		switch {
		case !ok:
			problems = append(problems, "duration is not a number")
		case secs < 0:
			problems = append(problems, "negative duration")
		default:
			if r.Duration, ok = Seconds(secs); !ok {
				problems = append(problems, fmt.Sprintf("duration %g out of range", secs))
			}
		}
	}

	r.Problem = strings.Join(problems, "; ")
	return r
}

// ParseSchedules parses the schedules section: name → schedule object.
// The result is sorted by name so conflict resolution is deterministic.
func ParseSchedules(data []byte) ([]Schedule, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse schedules: %w", err)
	}
	out := make([]Schedule, 0, len(doc))
	for name, raw := range doc {
		out = append(out, parseSchedule(name, raw))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func parseSchedule(name string, raw any) Schedule {
	s := Schedule{Name: name}
	obj, ok := raw.(map[string]any)
	if !ok {
		s.Problem = "schedule is not an object"
		return s
	}
	var problems []string

	if v, ok := obj["isActive"].(bool); ok {
		s.IsActive = v
	} else {
		problems = append(problems, "isActive missing or not a bool")
	}

	if v, ok := obj["actuator"].(string); ok && v != "" {
		s.Actuator = Actuator(v)
	} else {
		problems = append(problems, "actuator missing or not a string")
	}

	if v, ok := obj["value"].(bool); ok {
		s.Value = v
	} else {
		problems = append(problems, "value missing or not a bool")
	}

	var p string
	if s.Start, p = timeOfDay(obj, "startTime"); p != "" {
		problems = append(problems, p)
	}
	if s.End, p = timeOfDay(obj, "endTime"); p != "" {
		problems = append(problems, p)
	}

	switch days := obj["days"].(type) {
	case []any:
		for _, d := range days {
			ds, ok := d.(string)
			if !ok || !ValidDay(ds) {
				problems = append(problems, fmt.Sprintf("invalid day %v", d))
				continue
			}
			s.Days = append(s.Days, ds)
		}
		if len(days) == 0 {
			problems = append(problems, "no days")
		}
	default:
		problems = append(problems, "days missing or not a list")
	}

	s.Problem = strings.Join(problems, "; ")
	return s
}

func timeOfDay(obj map[string]any, key string) (int, string) {
	v, ok := obj[key].(float64)
	if !ok {
		return 0, key + " missing or not a number"
	}
	if v != math.Trunc(v) || v < 0 || v >= SecondsPerDay {
		return 0, fmt.Sprintf("%s %v outside [0, %d)", key, v, SecondsPerDay)
	}
	return int(v), ""
}

// ParseTestMode parses the testMode section: actuator → bool.
// Non-bool values count as false.
func ParseTestMode(data []byte) (map[Actuator]bool, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse test mode: %w", err)
	}
	out := make(map[Actuator]bool, len(doc))
	for name, raw := range doc {
		b, _ := raw.(bool)
		out[Actuator(name)] = b
	}
	return out, nil
}

// timestampKeys are tried in order for a snapshot's capture time.
var timestampKeys = []string{"timestamp", "lastUpdate"}

// ParseSnapshot parses a sensor document: variable → number. A "timestamp"
// or "lastUpdate" field (RFC 3339 string or Unix seconds) sets the capture
// time; otherwise receivedAt is used. Non-numeric values are kept as
// non-numeric readings.
func ParseSnapshot(data []byte, receivedAt time.Time) (*SensorSnapshot, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse sensor snapshot: %w", err)
	}
	snap := &SensorSnapshot{CapturedAt: receivedAt, Readings: make(map[string]Reading, len(doc))}
	for _, k := range timestampKeys {
		if t, ok := parseTimestamp(doc[k]); ok {
			snap.CapturedAt = t
		}
		delete(doc, k)
	}
	for k, v := range doc {
		if f, ok := v.(float64); ok {
			snap.Readings[k] = Reading{Value: f, Numeric: true}
			continue
		}
		snap.Readings[k] = Reading{}
	}
	return snap, nil
}

func parseTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		ts, err := time.Parse(time.RFC3339, t)
		return ts, err == nil
	case float64:
		sec, frac := math.Modf(t)
		return time.Unix(int64(sec), int64(frac*1e9)), true
	}
	return time.Time{}, false
}
