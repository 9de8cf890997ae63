package rules

import (
	"strings"

	"github.com/google/uuid"
)

// GuardMode selects whether inline content is shown or hidden when its
// conditions match.
type GuardMode string

const (
	GuardShow GuardMode = "show"
	GuardHide GuardMode = "hide"
)

// ConditionsFromAttributes builds a condition list from inline guard
// attributes (role, logged_in, country, device, date_from, date_to,
// page_type, url_param, url_value). Empty attributes add no condition.
// The combinator comes from the "operator" attribute and defaults to AND.
func ConditionsFromAttributes(attrs map[string]string) ([]Condition, Combinator) {
	get := func(key string) string { return strings.TrimSpace(attrs[key]) }

	var conditions []Condition
	if v := get("role"); v != "" {
		conditions = append(conditions, Condition{Type: TypeRole, Operator: OpEquals, Value: splitList(v)})
	}
	if v := get("logged_in"); v != "" {
		conditions = append(conditions, Condition{Type: TypeLoggedIn, Operator: OpEquals, Value: v})
	}
	if v := get("country"); v != "" {
		conditions = append(conditions, Condition{Type: TypeCountry, Operator: OpEquals, Value: splitList(v)})
	}
	if v := get("device"); v != "" {
		conditions = append(conditions, Condition{Type: TypeDeviceType, Operator: OpEquals, Value: v})
	}
	if from, to := get("date_from"), get("date_to"); from != "" || to != "" {
		conditions = append(conditions, Condition{Type: TypeDateRange, Operator: OpEquals, StartDate: from, EndDate: to})
	}
	if v := get("page_type"); v != "" {
		conditions = append(conditions, Condition{Type: TypePageType, Operator: OpEquals, Value: v})
	}
	if v := get("url_param"); v != "" {
		conditions = append(conditions, Condition{Type: TypeURLParameter, Operator: OpEquals, Parameter: v, Value: attrs["url_value"]})
	}

	op := Combinator(strings.ToUpper(get("operator")))
	if op == "" {
		op = CombineAnd
	}
	return conditions, op
}

func splitList(s string) []any {
	parts := strings.Split(s, ",")
	out := make([]any, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// AssignIDs returns a copy of d where every variant and condition without an
// id receives a fresh uuid.
func AssignIDs(d Definition) Definition {
	out := d
	if d.Variants == nil {
		return out
	}
	out.Variants = make([]Variant, len(d.Variants))
	for i, v := range d.Variants {
		if v.ID == "" {
			v.ID = ID(uuid.NewString())
		}
		conds := make([]Condition, len(v.Conditions))
		for j, c := range v.Conditions {
			if c.ID == "" {
				c.ID = ID(uuid.NewString())
			}
			conds[j] = c
		}
		v.Conditions = conds
		out.Variants[i] = v
	}
	return out
}
