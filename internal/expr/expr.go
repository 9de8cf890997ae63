// Package expr evaluates custom_code conditions as CEL expressions over a
// fixed set of request variables. Expressions cannot call host code; the
// only functions available are CEL's standard library.
package expr

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/cel-go/cel"
)

// MaxExpressionLength bounds the source length of a single expression.
const MaxExpressionLength = 2048

const (
	costLimit   = 1000000
	maxPrograms = 4096
)

var (
	ErrTooLong  = errors.New("expression too long")
	ErrNotBool  = errors.New("expression must evaluate to a bool")
	ErrCompile  = errors.New("expression does not compile")
	ErrEvaluate = errors.New("expression evaluation failed")
)

// Evaluator compiles and runs expressions. Compiled programs are cached by
// source text. Safe for concurrent use.
type Evaluator struct {
	env      *cel.Env
	programs sync.Map // string -> cel.Program
	cached   atomic.Int64
}

func New() (*Evaluator, error) {
	env, err := cel.NewEnv(declarations()...)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &Evaluator{env: env}, nil
}

func declarations() []cel.EnvOption {
	str := cel.StringType
	strList := cel.ListType(cel.StringType)
	strMap := cel.MapType(cel.StringType, cel.StringType)
	return []cel.EnvOption{
		cel.Variable("logged_in", cel.BoolType),
		cel.Variable("user_id", str),
		cel.Variable("roles", strList),
		cel.Variable("meta", strMap),
		cel.Variable("country", str),
		cel.Variable("city", str),
		cel.Variable("ip", str),
		cel.Variable("device", str),
		cel.Variable("browser", str),
		cel.Variable("browser_version", str),
		cel.Variable("os", str),
		cel.Variable("page_types", strList),
		cel.Variable("query", strMap),
		cel.Variable("referrer", str),
		cel.Variable("cookies", strMap),
		cel.Variable("session", strMap),
		cel.Variable("experiments", strMap),
		cel.Variable("has_cart", cel.BoolType),
		cel.Variable("cart_total", cel.DoubleType),
		cel.Variable("cart_items", strList),
		cel.Variable("purchased", strList),
		cel.Variable("hour", cel.IntType),
		cel.Variable("minute", cel.IntType),
		cel.Variable("weekday", str),
		cel.Variable("date", str),
	}
}

// Validate checks that expression compiles and yields a bool.
func (e *Evaluator) Validate(expression string) error {
	_, err := e.program(expression)
	return err
}

// Evaluate runs expression against vars. Non-bool results are false.
func (e *Evaluator) Evaluate(expression string, vars map[string]any) (bool, error) {
	prg, err := e.program(expression)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrEvaluate, err)
	}
	b, ok := out.Value().(bool)
	return ok && b, nil
}

func (e *Evaluator) program(expression string) (cel.Program, error) {
	if p, ok := e.programs.Load(expression); ok {
		return p.(cel.Program), nil
	}
	if len(expression) > MaxExpressionLength {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrTooLong, len(expression), MaxExpressionLength)
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompile, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("%w: got %s", ErrNotBool, ast.OutputType())
	}
	prg, err := e.env.Program(ast, cel.CostLimit(costLimit))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompile, err)
	}

	if e.cached.Load() < maxPrograms {
		if _, loaded := e.programs.LoadOrStore(expression, prg); !loaded {
			e.cached.Add(1)
		}
	}
	return prg, nil
}
