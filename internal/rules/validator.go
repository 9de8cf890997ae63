package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Sentinel errors returned by the validators.
var (
	ErrInvalidDefinition = errors.New("invalid definition")
	ErrInvalidCondition  = errors.New("invalid condition")
	ErrInvalidOperator   = errors.New("invalid operator")
	ErrInvalidValueType  = errors.New("invalid value type")
	ErrInvalidExpression = errors.New("invalid expression")
)

// MaxIDLength bounds content ids.
const MaxIDLength = 64

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// validOperators is the set of all recognised condition operators.
var validOperators = map[Operator]struct{}{
	OpEquals:      {},
	OpNotEquals:   {},
	OpContains:    {},
	OpExists:      {},
	OpGreaterThan: {},
	OpLessThan:    {},
}

// FieldError ties a validation failure to the path of the offending field.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Err.Error()
}

func (e *FieldError) Unwrap() error { return e.Err }

func fieldErr(field string, sentinel error, format string, args ...any) error {
	return &FieldError{Field: field, Err: fmt.Errorf("%w: "+format, append([]any{sentinel}, args...)...)}
}

// ValidateID checks a content id.
func ValidateID(id string) error {
	id = strings.TrimSpace(id)
	switch {
	case id == "":
		return fieldErr("id", ErrInvalidDefinition, "id must not be empty")
	case len(id) > MaxIDLength:
		return fieldErr("id", ErrInvalidDefinition, "id must be at most %d characters", MaxIDLength)
	case !idPattern.MatchString(id):
		return fieldErr("id", ErrInvalidDefinition, "id may only contain letters, digits, '_' and '-'")
	}
	return nil
}

// ValidateCombinator rejects combinators other than AND and OR. Evaluation is
// lenient about stored values; authoring is not.
func ValidateCombinator(field string, c Combinator) error {
	switch strings.ToUpper(strings.TrimSpace(string(c))) {
	case "", string(CombineAnd), string(CombineOr):
		return nil
	}
	return fieldErr(field, ErrInvalidOperator, "combinator %q must be AND or OR", c)
}

// ValueOwner reports whether the value shape of a condition type is checked
// elsewhere. Values of such types skip the scalar/list/map shape check.
type ValueOwner func(ConditionType) bool

// ValidateDefinition performs structural validation of a definition before it
// is saved. Type-specific checks live with the predicate evaluators.
// It never mutates d.
func ValidateDefinition(d Definition) error {
	return ValidateDefinitionWith(d, nil)
}

// ValidateDefinitionWith is ValidateDefinition with value shape checks
// delegated for the types owns reports.
func ValidateDefinitionWith(d Definition, owns ValueOwner) error {
	if err := ValidateID(d.ID); err != nil {
		return err
	}
	if err := ValidateCombinator("conditionOperator", d.Operator); err != nil {
		return err
	}
	if d.Malformed() {
		return fieldErr("variants", ErrInvalidDefinition, "variants must be a list")
	}

	seen := make(map[ID]struct{}, len(d.Variants))
	for i, v := range d.Variants {
		field := fmt.Sprintf("variants[%d]", i)
		if v.ID != "" {
			if _, dup := seen[v.ID]; dup {
				return fieldErr(field+".id", ErrInvalidDefinition, "duplicate variant id %q", v.ID)
			}
			seen[v.ID] = struct{}{}
		}
		if err := ValidateConditionsWith(field+".conditions", v.Conditions, owns); err != nil {
			return err
		}
	}
	return nil
}

// ValidateConditions checks every condition of a list and that ids are unique within it.
func ValidateConditions(field string, conditions []Condition) error {
	return ValidateConditionsWith(field, conditions, nil)
}

func ValidateConditionsWith(field string, conditions []Condition, owns ValueOwner) error {
	seen := make(map[ID]struct{}, len(conditions))
	for i, c := range conditions {
		path := fmt.Sprintf("%s[%d]", field, i)
		if c.ID != "" {
			if _, dup := seen[c.ID]; dup {
				return fieldErr(path+".id", ErrInvalidCondition, "duplicate condition id %q", c.ID)
			}
			seen[c.ID] = struct{}{}
		}
		if err := validateCondition(path, c, owns); err != nil {
			return err
		}
	}
	return nil
}

// ValidateCondition checks type, operator and value shape of one condition.
func ValidateCondition(field string, c Condition) error {
	return validateCondition(field, c, nil)
}

func validateCondition(field string, c Condition, owns ValueOwner) error {
	if strings.TrimSpace(string(c.Type)) == "" {
		return fieldErr(field+".type", ErrInvalidCondition, "type must not be empty")
	}
	op := c.OperatorOrDefault()
	if _, ok := validOperators[op]; !ok {
		return fieldErr(field+".operator", ErrInvalidOperator, "operator %q is not supported", c.Operator)
	}
	if owns != nil && owns(c.Type) {
		return nil
	}
	if !isValueShape(c.Value) {
		return fieldErr(field+".value", ErrInvalidValueType, "value must be a scalar, a list of scalars or a map")
	}
	return nil
}

// isValueShape accepts the value shapes that survive a JSON round trip:
// scalars, lists of scalars and small maps.
func isValueShape(v any) bool {
	switch val := v.(type) {
	case nil, string, bool, int, int32, int64, float32, float64:
		return true
	case []string, []int, []float64:
		return true
	case []any:
		for _, item := range val {
			if !isScalar(item) {
				return false
			}
		}
		return true
	case map[string]any:
		for _, item := range val {
			if !isScalar(item) {
				return false
			}
		}
		return true
	case map[string]string:
		return true
	}
	return false
}

// isScalar returns true for basic scalar types (string, bool, numeric).
func isScalar(v any) bool {
	switch v.(type) {
	case string, bool, int, int32, int64, float32, float64:
		return true
	}
	return false
}
