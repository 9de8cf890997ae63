package expr

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/TimurManjosov/contentship/internal/engine"
	"github.com/TimurManjosov/contentship/internal/rules"
)

func newEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	e, err := New()
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	return e
}

func TestEvaluate(t *testing.T) {
	rc := &engine.RequestContext{
		Identity: engine.Identity{Authenticated: true, Roles: []string{"editor"}, Meta: map[string]string{"plan": "gold"}},
		Geo:      engine.Geo{Country: "US"},
		Now:      time.Date(2024, 6, 15, 14, 0, 0, 0, time.UTC),
		Page:     engine.Page{Query: map[string][]string{"utm_source": {"newsletter"}}},
		Commerce: &engine.Commerce{CartTotal: 80, CartItems: []string{"sku-1"}},
	}
	vars := engine.Variables(rc)

	tests := []struct {
		expr string
		want bool
	}{
		{expr: `logged_in && "editor" in roles`, want: true},
		{expr: `country == "US" && hour >= 9 && hour < 17`, want: true},
		{expr: `meta["plan"] == "gold"`, want: true},
		{expr: `has_cart && cart_total > 50.0 && size(cart_items) == 1`, want: true},
		{expr: `query["utm_source"].startsWith("news")`, want: true},
		{expr: `"utm_medium" in query`, want: false},
		{expr: `weekday == "saturday" && date == "2024-06-15"`, want: true},
		{expr: `device == "mobile"`, want: false},
	}

	e := newEvaluator(t)
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := e.Evaluate(tt.expr, vars)
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluate_RuntimeError(t *testing.T) {
	e := newEvaluator(t)
	got, err := e.Evaluate(`meta["missing"] == "x"`, engine.Variables(nil))
	if !errors.Is(err, ErrEvaluate) {
		t.Fatalf("error = %v, want ErrEvaluate", err)
	}
	if got {
		t.Fatal("a failed evaluation must not match")
	}
}

func TestValidate(t *testing.T) {
	e := newEvaluator(t)

	tests := []struct {
		name    string
		expr    string
		wantErr error
	}{
		{name: "ok", expr: `country in ["US", "CA"]`},
		{name: "syntax", expr: `country ==`, wantErr: ErrCompile},
		{name: "unknown variable", expr: `system("rm -rf /")`, wantErr: ErrCompile},
		{name: "undeclared identifier", expr: `password == "x"`, wantErr: ErrCompile},
		{name: "not bool", expr: `country`, wantErr: ErrNotBool},
		{name: "too long", expr: strings.Repeat("a", MaxExpressionLength+1), wantErr: ErrTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.Validate(tt.expr)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestEngineIntegration(t *testing.T) {
	en := engine.New(engine.WithExpressions(newEvaluator(t)))
	c := rules.Condition{Type: rules.TypeCustomCode, Value: `country == "DE"`}

	if !en.EvaluateCondition(c, &engine.RequestContext{Geo: engine.Geo{Country: "DE"}}) {
		t.Error("expected match for DE")
	}
	if en.EvaluateCondition(c, &engine.RequestContext{Geo: engine.Geo{Country: "US"}}) {
		t.Error("expected no match for US")
	}

	def := rules.Definition{ID: "x", Variants: []rules.Variant{{ID: "v", Conditions: []rules.Condition{{Type: rules.TypeCustomCode, Value: `1 + `}}}}}
	if err := en.ValidateDefinition(def); !errors.Is(err, rules.ErrInvalidExpression) {
		t.Errorf("ValidateDefinition() = %v, want ErrInvalidExpression", err)
	}
}
