package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/TimurManjosov/contentship/internal/rules"
)

var (
	ErrBuiltinType      = errors.New("condition type is built in")
	ErrDuplicateType    = errors.New("condition type already registered")
	ErrInvalidExtension = errors.New("invalid extension")
)

// Extension adds a condition type that is not built in.
type Extension struct {
	Type     rules.ConditionType
	Evaluate Predicate
	// Operators lists the supported operators; empty accepts all.
	Operators []rules.Operator
	// Validate optionally checks a condition of this type at save time.
	Validate func(c rules.Condition) error
}

// Registry collects extensions before an Engine is built. It is not safe
// for concurrent registration; register everything during startup.
type Registry struct {
	extensions map[rules.ConditionType]Extension
}

func NewRegistry() *Registry {
	return &Registry{extensions: make(map[rules.ConditionType]Extension)}
}

// Register adds ext. Built-in types cannot be overridden.
func (r *Registry) Register(ext Extension) error {
	ext.Type = rules.ConditionType(strings.TrimSpace(string(ext.Type)))
	if ext.Type == "" || ext.Evaluate == nil {
		return fmt.Errorf("%w: type and evaluator are required", ErrInvalidExtension)
	}
	if isBuiltin(ext.Type) {
		return fmt.Errorf("%w: %q", ErrBuiltinType, ext.Type)
	}
	if _, ok := r.extensions[ext.Type]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateType, ext.Type)
	}
	r.extensions[ext.Type] = ext
	return nil
}

// Types lists the registered extension types.
func (r *Registry) Types() []rules.ConditionType {
	out := make([]rules.ConditionType, 0, len(r.extensions))
	for t := range r.extensions {
		out = append(out, t)
	}
	return out
}

func isBuiltin(t rules.ConditionType) bool {
	if t == rules.TypeCustomCode {
		return true
	}
	_, ok := builtins()[t]
	return ok
}
