package engine

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/TimurManjosov/contentship/internal/rules"
)

func normalizeOperator(op rules.Operator) rules.Operator {
	switch strings.ToLower(strings.TrimSpace(string(op))) {
	case "", "==", "eq", "equals":
		return rules.OpEquals
	case "!=", "neq", "not_equals":
		return rules.OpNotEquals
	case "contains":
		return rules.OpContains
	case "exists", "isset":
		return rules.OpExists
	case ">", "gt", "greater_than":
		return rules.OpGreaterThan
	case "<", "lt", "less_than":
		return rules.OpLessThan
	default:
		return op
	}
}

// compareKeyed implements the equals/not_equals/contains/exists family over a
// named string lookup. A missing key compares as the empty string.
func compareKeyed(op rules.Operator, actual string, present bool, ruleValue any, allowContains bool) bool {
	if op == rules.OpExists {
		return present
	}
	want, ok := toString(ruleValue)
	switch op {
	case rules.OpEquals:
		return ok && actual == want
	case rules.OpNotEquals:
		return !ok || actual != want
	case rules.OpContains:
		return allowContains && ok && strings.Contains(actual, want)
	default:
		return false
	}
}

// compareNumber implements greater_than/less_than/equals.
func compareNumber(op rules.Operator, actual float64, ruleValue any) bool {
	want, ok := toFloat64(ruleValue)
	if !ok {
		return false
	}
	switch op {
	case rules.OpGreaterThan:
		return actual > want
	case rules.OpLessThan:
		return actual < want
	case rules.OpEquals:
		return actual == want
	default:
		return false
	}
}

// toString converts scalars to their string form.
func toString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case json.Number:
		return s.String(), true
	case bool:
		return strconv.FormatBool(s), true
	case nil:
		return "", false
	}
	if f, ok := toFloat64(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64), true
	}
	return "", false
}

// toFloat64 accepts numbers and numeric strings, since amounts entered in
// the authoring form are stored as text.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// toStringList treats a scalar as a one-element list.
func toStringList(v any) []string {
	switch values := v.(type) {
	case nil:
		return nil
	case []string:
		return values
	case []any:
		out := make([]string, 0, len(values))
		for _, item := range values {
			if s, ok := toString(item); ok {
				out = append(out, s)
			}
		}
		return out
	}
	if s, ok := toString(v); ok {
		return []string{s}
	}
	return nil
}

// toStringMap reads the small key/value mapping used by range conditions.
func toStringMap(v any) map[string]string {
	switch m := v.(type) {
	case map[string]string:
		return m
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, item := range m {
			if s, ok := toString(item); ok {
				out[k] = s
			}
		}
		return out
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), s) {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	for _, item := range a {
		if containsString(b, item) {
			return true
		}
	}
	return false
}

// negateIf applies the not_equals negation used by set-membership predicates.
func negateIf(op rules.Operator, match bool) bool {
	if op == rules.OpNotEquals {
		return !match
	}
	return match
}
