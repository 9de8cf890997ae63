package engine

import (
	"github.com/TimurManjosov/contentship/internal/rules"
)

// ExpressionEvaluator runs custom_code expressions against the variables
// returned by Variables.
type ExpressionEvaluator interface {
	Evaluate(expression string, vars map[string]any) (bool, error)
	Validate(expression string) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithRegistry copies the registry's extensions into the engine.
func WithRegistry(r *Registry) Option {
	return func(e *Engine) {
		if r == nil {
			return
		}
		for t, ext := range r.extensions {
			e.extensions[t] = ext
		}
	}
}

// WithExpressions enables custom_code conditions. Without it they are false.
func WithExpressions(x ExpressionEvaluator) Option {
	return func(e *Engine) { e.expressions = x }
}

// WithUnknownTypeHook is called with every condition type that has no evaluator.
func WithUnknownTypeHook(fn func(rules.ConditionType)) Option {
	return func(e *Engine) { e.onUnknown = fn }
}

// Engine evaluates conditions and selects variants. It holds no mutable
// state after construction and is safe for concurrent use.
type Engine struct {
	builtins    map[rules.ConditionType]Predicate
	extensions  map[rules.ConditionType]Extension
	expressions ExpressionEvaluator
	onUnknown   func(rules.ConditionType)
}

func New(opts ...Option) *Engine {
	e := &Engine{
		builtins:   builtins(),
		extensions: make(map[rules.ConditionType]Extension),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.builtins[rules.TypeCustomCode] = e.evalCustomCode
	return e
}

var emptyContext = &RequestContext{}

// EvaluateCondition decides a single condition. Unknown types are false.
func (e *Engine) EvaluateCondition(c rules.Condition, rc *RequestContext) bool {
	if rc == nil {
		rc = emptyContext
	}
	c.Operator = normalizeOperator(c.OperatorOrDefault())

	if eval, ok := e.builtins[c.Type]; ok {
		return eval(c, rc)
	}
	if ext, ok := e.extensions[c.Type]; ok {
		return ext.Evaluate(c, rc)
	}
	if e.onUnknown != nil {
		e.onUnknown(c.Type)
	}
	return false
}

// EvaluateSet combines conditions with op. An empty list is true for both
// combinators. Evaluation short-circuits.
func (e *Engine) EvaluateSet(conditions []rules.Condition, op rules.Combinator, rc *RequestContext) bool {
	if len(conditions) == 0 {
		return true
	}
	if op.Normalize() == rules.CombineAnd {
		for _, c := range conditions {
			if !e.EvaluateCondition(c, rc) {
				return false
			}
		}
		return true
	}
	for _, c := range conditions {
		if e.EvaluateCondition(c, rc) {
			return true
		}
	}
	return false
}

// Select returns the content to render for d: the first variant whose
// conditions hold, else the default content, else the raw content.
// A definition without a usable variant list renders its raw content.
func (e *Engine) Select(d *rules.Definition, rc *RequestContext) Selection {
	if d == nil {
		return Selection{Index: -1, Reason: ReasonPassthrough}
	}
	if d.Malformed() {
		return Selection{Content: d.RawContent, Index: -1, Reason: ReasonPassthrough}
	}
	for i, v := range d.Variants {
		if e.EvaluateSet(v.Conditions, d.Operator, rc) {
			return Selection{Content: v.Content, VariantID: v.ID, Index: i, Reason: ReasonVariantMatch}
		}
	}
	if d.DefaultContent != "" {
		return Selection{Content: d.DefaultContent, Index: -1, Reason: ReasonDefault}
	}
	return Selection{Content: d.RawContent, Index: -1, Reason: ReasonPassthrough}
}

// Test evaluates an ad hoc condition set for authoring previews.
func (e *Engine) Test(conditions []rules.Condition, op rules.Combinator, rc *RequestContext) TestResult {
	if e.EvaluateSet(conditions, op, rc) {
		return TestResult{Result: true, Message: messageMatched}
	}
	return TestResult{Result: false, Message: messageNotMatched}
}

// Visible decides inline guarded content: shown when the conditions hold in
// show mode, or when they do not hold in hide mode.
func (e *Engine) Visible(conditions []rules.Condition, op rules.Combinator, mode rules.GuardMode, rc *RequestContext) bool {
	match := e.EvaluateSet(conditions, op, rc)
	if mode == rules.GuardHide {
		return !match
	}
	return match
}

// evalCustomCode ignores the operator; the expression is the whole test.
func (e *Engine) evalCustomCode(c rules.Condition, rc *RequestContext) bool {
	if e.expressions == nil {
		return false
	}
	expr, _ := toString(c.Value)
	if expr == "" {
		return false
	}
	ok, err := e.expressions.Evaluate(expr, Variables(rc))
	return err == nil && ok
}
