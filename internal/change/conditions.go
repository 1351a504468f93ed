package change

import (
	"strings"

	"github.com/driftwatch/driftwatch/internal/domain/model"
)

// EvalResult is the subset of conditions that fired and the highest severity
// among them.
type EvalResult struct {
	Triggered []model.AlertCondition
	Severity  model.AlertSeverity
}

// Evaluate tests every condition against the previous stable and the newly
// confirmed value. Conditions with unknown kinds never trigger.
func Evaluate(conditions []model.AlertCondition, prev, cur *model.NormalizedValue) EvalResult {
	var result EvalResult
	severities := make([]model.AlertSeverity, 0, len(conditions))

	for _, cond := range conditions {
		if !conditionMatches(cond, prev, cur) {
			continue
		}
		result.Triggered = append(result.Triggered, cond)
		sev := model.AlertSeverity(cond.Severity)
		if !sev.Valid() {
			sev = model.AlertSeverityMedium
		}
		severities = append(severities, sev)
	}

	if len(result.Triggered) > 0 {
		result.Severity = model.MaxSeverity(severities)
	}
	return result
}

func conditionMatches(cond model.AlertCondition, prev, cur *model.NormalizedValue) bool {
	switch cond.Kind {
	case "value_changed", "text_changed", "number_changed":
		return prev != nil && cur != nil && !prev.Equal(cur)

	case "value_appeared":
		return prev == nil && cur != nil

	case "value_disappeared":
		return prev != nil && cur == nil

	case "value_increased":
		p, c, ok := numericPair(prev, cur)
		return ok && c > p

	case "value_decreased":
		p, c, ok := numericPair(prev, cur)
		return ok && c < p

	case "value_above", "price_above", "number_above":
		c, ok := numeric(cur)
		return ok && cond.Threshold != nil && c > *cond.Threshold

	case "value_below", "price_below", "number_below":
		c, ok := numeric(cur)
		return ok && cond.Threshold != nil && c < *cond.Threshold

	case "value_equals":
		return cur != nil && canonicalEquals(cur, cond.Value)

	case "value_not_equals":
		return cur != nil && !canonicalEquals(cur, cond.Value)

	case "value_contains":
		return cur != nil && strings.Contains(textOf(cur), cond.Value)

	case "value_not_contains":
		return cur != nil && cond.Value != "" && !strings.Contains(textOf(cur), cond.Value)

	case "percentage_change":
		p, c, ok := numericPair(prev, cur)
		if !ok || cond.Threshold == nil || p == 0 {
			return false
		}
		pct := (c - p) / p * 100
		if pct < 0 {
			pct = -pct
		}
		return pct >= *cond.Threshold

	case "price_drop_percent":
		p, c, ok := numericPair(prev, cur)
		if !ok || cond.Threshold == nil || p == 0 {
			return false
		}
		return (c-p)/p*100 <= -*cond.Threshold

	case "availability_is":
		return cur != nil && cur.Availability != nil &&
			string(cur.Availability.Status) == cond.Value

	default:
		return false
	}
}

func numeric(v *model.NormalizedValue) (float64, bool) {
	if v == nil {
		return 0, false
	}
	return v.Numeric()
}

func numericPair(prev, cur *model.NormalizedValue) (p, c float64, ok bool) {
	p, pok := numeric(prev)
	c, cok := numeric(cur)
	return p, c, pok && cok
}

// canonicalEquals compares a value against a condition's literal. Text values
// compare by snippet, availability by status, numerics by canonical form.
func canonicalEquals(v *model.NormalizedValue, literal string) bool {
	return textOf(v) == literal
}

func textOf(v *model.NormalizedValue) string {
	if v == nil {
		return ""
	}
	switch v.Kind {
	case model.ValueKindText:
		if v.Text != nil {
			return v.Text.Snippet
		}
	case model.ValueKindAvailability:
		if v.Availability != nil {
			return string(v.Availability.Status)
		}
	}
	return v.Canonical()
}
