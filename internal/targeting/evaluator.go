// Package targeting provides the json_logic condition type: a JSON Logic
// (jsonlogic.com) rule evaluated against the request variables.
package targeting

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/diegoholiveira/jsonlogic/v3"

	"github.com/TimurManjosov/contentship/internal/engine"
	"github.com/TimurManjosov/contentship/internal/rules"
)

// TypeJSONLogic is the condition type handled by this package.
const TypeJSONLogic rules.ConditionType = "json_logic"

// Facts is the data a rule is applied to. Keys match engine.Variables.
type Facts map[string]any

// ErrInvalidExpression is returned when an expression is not valid JSON Logic.
var ErrInvalidExpression = errors.New("invalid expression: not valid JSON Logic")

// ErrEmptyExpression is returned when an expression is empty or whitespace.
var ErrEmptyExpression = errors.New("invalid expression: empty or whitespace")

// Extension returns the registry entry for json_logic conditions. The rule
// is the condition value, either as JSON text or as a decoded object.
// The operator is ignored.
func Extension() engine.Extension {
	return engine.Extension{
		Type: TypeJSONLogic,
		Evaluate: func(c rules.Condition, rc *engine.RequestContext) bool {
			expression, err := expressionOf(c.Value)
			if err != nil {
				return false
			}
			ok, err := Evaluate(expression, engine.Variables(rc))
			return err == nil && ok
		},
		Operators: []rules.Operator{rules.OpEquals},
		Validate: func(c rules.Condition) error {
			expression, err := expressionOf(c.Value)
			if err != nil {
				return err
			}
			return ValidateExpression(expression)
		},
	}
}

func expressionOf(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case nil:
		return "", ErrEmptyExpression
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", ErrInvalidExpression
	}
	return string(b), nil
}

// Evaluate applies a JSON Logic expression to facts.
// Returns an error if the expression is empty or invalid.
func Evaluate(expression string, facts Facts) (bool, error) {
	if strings.TrimSpace(expression) == "" {
		return false, ErrEmptyExpression
	}

	dataBytes, err := json.Marshal(facts)
	if err != nil {
		return false, err
	}

	var resultBuf bytes.Buffer
	if err := jsonlogic.Apply(strings.NewReader(expression), bytes.NewReader(dataBytes), &resultBuf); err != nil {
		return false, ErrInvalidExpression
	}

	var result any
	if err := json.Unmarshal(resultBuf.Bytes(), &result); err != nil {
		return false, err
	}
	return isTruthy(result), nil
}

// ValidateExpression checks if an expression is valid JSON Logic.
func ValidateExpression(expression string) error {
	if strings.TrimSpace(expression) == "" {
		return ErrEmptyExpression
	}

	var rule any
	if err := json.Unmarshal([]byte(expression), &rule); err != nil {
		return ErrInvalidExpression
	}
	if _, ok := rule.(map[string]any); !ok {
		return ErrInvalidExpression
	}

	var resultBuf bytes.Buffer
	if err := jsonlogic.Apply(strings.NewReader(expression), strings.NewReader("{}"), &resultBuf); err != nil {
		return ErrInvalidExpression
	}
	return nil
}

// isTruthy follows JavaScript-like truthiness rules.
func isTruthy(v any) bool {
	if v == nil {
		return false
	}
	switch val := v.(type) {
	case bool:
		return val
	case float64:
		return val != 0
	case string:
		return val != ""
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}
