package engine

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/TimurManjosov/contentship/internal/rules"
)

func invalid(field string, sentinel error, format string, args ...any) error {
	return &rules.FieldError{Field: field, Err: fmt.Errorf("%w: "+format, append([]any{sentinel}, args...)...)}
}

// ValidateDefinition runs the structural checks followed by the
// type-specific checks of every condition.
func (e *Engine) ValidateDefinition(d rules.Definition) error {
	if err := rules.ValidateDefinitionWith(d, e.ownsValue); err != nil {
		return err
	}
	for i, v := range d.Variants {
		if err := e.validateConditions(fmt.Sprintf("variants[%d].conditions", i), v.Conditions); err != nil {
			return err
		}
	}
	return nil
}

// ValidateConditions validates an ad hoc condition list.
func (e *Engine) ValidateConditions(field string, conditions []rules.Condition) error {
	if err := rules.ValidateConditionsWith(field, conditions, e.ownsValue); err != nil {
		return err
	}
	return e.validateConditions(field, conditions)
}

// ownsValue reports whether an extension validates the value shape of t
// itself. Such values may nest, as JSON Logic rules do.
func (e *Engine) ownsValue(t rules.ConditionType) bool {
	ext, ok := e.extensions[t]
	return ok && ext.Validate != nil
}

func (e *Engine) validateConditions(field string, conditions []rules.Condition) error {
	for i, c := range conditions {
		if err := e.validateCondition(fmt.Sprintf("%s[%d]", field, i), c); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) validateCondition(path string, c rules.Condition) error {
	op := normalizeOperator(c.OperatorOrDefault())

	if _, ok := e.builtins[c.Type]; !ok {
		ext, ok := e.extensions[c.Type]
		if !ok {
			return invalid(path+".type", rules.ErrInvalidCondition, "unknown condition type %q", c.Type)
		}
		if len(ext.Operators) > 0 && !operatorIn(op, ext.Operators) {
			return invalid(path+".operator", rules.ErrInvalidOperator, "operator %q is not supported by %q", op, c.Type)
		}
		if ext.Validate != nil {
			if err := ext.Validate(c); err != nil {
				return &rules.FieldError{Field: path + ".value", Err: err}
			}
		}
		return nil
	}

	switch c.Type {
	case rules.TypeURLParameter, rules.TypeCookie, rules.TypeSession, rules.TypeUserMeta, rules.TypeABTest:
		if strings.TrimSpace(c.Parameter) == "" {
			return invalid(path+".parameter", rules.ErrInvalidCondition, "%s requires a parameter", c.Type)
		}
	case rules.TypeDateRange:
		start, end := rangeBounds(c.StartDate, c.EndDate, c.Value)
		if strings.TrimSpace(start) == "" && strings.TrimSpace(end) == "" {
			return invalid(path+".start_date", rules.ErrInvalidCondition, "date range needs a start or end date")
		}
		for _, b := range []struct {
			field, value string
			end          bool
		}{{"start_date", start, false}, {"end_date", end, true}} {
			if strings.TrimSpace(b.value) == "" {
				continue
			}
			if _, ok := parseBound(b.value, time.UTC, b.end); !ok {
				return invalid(path+"."+b.field, rules.ErrInvalidValueType, "unrecognised date %q", b.value)
			}
		}
	case rules.TypeTimeRange:
		start, end := rangeBounds(c.StartDate, c.EndDate, c.Value)
		if _, ok := parseClock(start); !ok {
			return invalid(path+".value", rules.ErrInvalidValueType, "start must be HH:MM, got %q", start)
		}
		if _, ok := parseClock(end); !ok {
			return invalid(path+".value", rules.ErrInvalidValueType, "end must be HH:MM, got %q", end)
		}
	case rules.TypeDayOfWeek:
		days := toStringList(c.Value)
		if len(days) == 0 {
			return invalid(path+".value", rules.ErrInvalidValueType, "at least one weekday is required")
		}
		for _, d := range days {
			if _, ok := parseWeekday(d); !ok {
				return invalid(path+".value", rules.ErrInvalidValueType, "unknown weekday %q", d)
			}
		}
	case rules.TypeIPAddress:
		for _, entry := range toStringList(c.Value) {
			entry = strings.TrimSpace(entry)
			_, addrErr := netip.ParseAddr(entry)
			_, prefixErr := netip.ParsePrefix(entry)
			if addrErr != nil && prefixErr != nil {
				return invalid(path+".value", rules.ErrInvalidValueType, "%q is not an address or CIDR prefix", entry)
			}
		}
	case rules.TypeCartTotal:
		if _, ok := toFloat64(c.Value); !ok {
			return invalid(path+".value", rules.ErrInvalidValueType, "cart total must be numeric")
		}
	case rules.TypeCartItems:
		if op != rules.OpContains {
			if _, ok := toFloat64(c.Value); !ok {
				return invalid(path+".value", rules.ErrInvalidValueType, "item count must be numeric")
			}
		}
	case rules.TypeCustomCode:
		expr, _ := toString(c.Value)
		if strings.TrimSpace(expr) == "" {
			return invalid(path+".value", rules.ErrInvalidExpression, "expression must not be empty")
		}
		if e.expressions == nil {
			return invalid(path+".value", rules.ErrInvalidExpression, "custom expressions are disabled")
		}
		if err := e.expressions.Validate(expr); err != nil {
			return invalid(path+".value", rules.ErrInvalidExpression, "%v", err)
		}
	}
	return nil
}

func operatorIn(op rules.Operator, ops []rules.Operator) bool {
	for _, o := range ops {
		if o == op {
			return true
		}
	}
	return false
}

// ValidateExpression checks a custom_code expression on its own.
func (e *Engine) ValidateExpression(expr string) error {
	return e.validateCondition("expression", rules.Condition{Type: rules.TypeCustomCode, Value: expr})
}
