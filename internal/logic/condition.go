package logic

// Verdict is the Condition Evaluator's answer for one rule.
type Verdict int

const (
	VerdictNotSatisfied Verdict = iota
	VerdictSatisfied
	// VerdictDisabled means the rule cannot be evaluated: it is malformed,
	// or the snapshot lacks a numeric value for its variable.
	VerdictDisabled
)

func (v Verdict) String() string {
	switch v {
	case VerdictSatisfied:
		return "satisfied"
	case VerdictDisabled:
		return "disabled"
	default:
		return "not_satisfied"
	}
}

// Evaluate compares the snapshot value named by the rule against its threshold.
// It never panics; anything it cannot compare yields VerdictDisabled.
func Evaluate(snap *SensorSnapshot, rule Rule) Verdict {
	if rule.Problem != "" || rule.When == "" || rule.Value == nil {
		return VerdictDisabled
	}
	if snap == nil {
		return VerdictDisabled
	}
	r, ok := snap.Readings[rule.When]
	if !ok || !r.Numeric {
		return VerdictDisabled
	}

	v, threshold := r.Value, *rule.Value
	var hit bool
	switch rule.Operator {
	case OpGreater:
		hit = v > threshold
	case OpLess:
		hit = v < threshold
	case OpGreaterEqual:
		hit = v >= threshold
	case OpLessEqual:
		hit = v <= threshold
	case OpEqual:
		hit = v == threshold
	default:
		return VerdictDisabled
	}
	if hit {
		return VerdictSatisfied
	}
	return VerdictNotSatisfied
}

// ValidOperator reports whether op is one of the supported comparisons.
func ValidOperator(op Operator) bool {
	switch op {
	case OpGreater, OpLess, OpGreaterEqual, OpLessEqual, OpEqual:
		return true
	}
	return false
}
