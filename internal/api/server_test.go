package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/TimurManjosov/contentship/internal/engine"
	"github.com/TimurManjosov/contentship/internal/evaluation"
	"github.com/TimurManjosov/contentship/internal/reqctx"
	"github.com/TimurManjosov/contentship/internal/store"
	"github.com/TimurManjosov/contentship/internal/telemetry"
	"github.com/TimurManjosov/contentship/internal/testutil"
	"github.com/TimurManjosov/contentship/internal/views"
)

const testKey = "test-key"

const promoJSON = `{
	"variants": [
		{"id": "editors", "content": "Hi editor", "conditions": [{"type": "role", "operator": "equals", "value": ["editor"]}]},
		{"id": "germany", "content": "Hallo", "conditions": [{"type": "country", "value": ["DE"]}]}
	],
	"defaultContent": "Hello",
	"conditionOperator": "AND"
}`

type testEnv struct {
	handler  http.Handler
	store    *store.MemoryStore
	recorder *views.Recorder
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	fx := testutil.NewService(t)
	opts = append([]Option{WithMetrics(telemetry.New())}, opts...)
	srv := NewServer(fx.Service, reqctx.New(), testKey, opts...)
	return &testEnv{handler: srv.Router(), store: fx.Store, recorder: fx.Recorder}
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := &testutil.HTTPRequest{Method: method, Path: path, Body: body, Headers: headers}
	return req.Do(t, e.handler)
}

func admin() map[string]string { return map[string]string{"Authorization": "Bearer " + testKey} }

func (e *testEnv) seed(t *testing.T) {
	t.Helper()
	rr := e.do(t, http.MethodPut, "/v1/content/promo", promoJSON, admin())
	if rr.Code != http.StatusOK {
		t.Fatalf("seed: status %d body %s", rr.Code, rr.Body.String())
	}
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/healthz", "", nil)
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Errorf("healthz = %d %q", rr.Code, rr.Body.String())
	}
}

func TestAdminAuth(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name   string
		header string
		status int
		code   ErrorCode
	}{
		{name: "missing", header: "", status: http.StatusUnauthorized, code: ErrCodeUnauthorized},
		{name: "not bearer", header: "Basic abc", status: http.StatusUnauthorized, code: ErrCodeUnauthorized},
		{name: "wrong key", header: "Bearer nope", status: http.StatusForbidden, code: ErrCodeForbidden},
		{name: "valid", header: "Bearer " + testKey, status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodGet, "/v1/content", "", map[string]string{"Authorization": tt.header})
			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d", rr.Code, tt.status)
			}
			if tt.code != "" {
				if got := decodeBody[ErrorResponse](t, rr); got.Code != tt.code {
					t.Errorf("code = %q, want %q", got.Code, tt.code)
				}
			}
		})
	}
}

func TestPutDefinition(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPut, "/v1/content/promo", promoJSON, admin())
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("ETag") == "" {
		t.Error("missing ETag")
	}

	invalid := `{"variants":[{"content":"x","conditions":[{"type":"date_range","start_date":"someday"}]}]}`
	rr = env.do(t, http.MethodPut, "/v1/content/promo", invalid, admin())
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("invalid: status = %d", rr.Code)
	}
	resp := decodeBody[ErrorResponse](t, rr)
	if resp.Code != ErrCodeValidation {
		t.Errorf("code = %q", resp.Code)
	}
	if _, ok := resp.Fields["variants[0].conditions[0].start_date"]; !ok {
		t.Errorf("fields = %v", resp.Fields)
	}

	rr = env.do(t, http.MethodPut, "/v1/content/promo", `{"id":"other","variants":[]}`, admin())
	if rr.Code != http.StatusBadRequest {
		t.Errorf("mismatched id: status = %d", rr.Code)
	}

	rr = env.do(t, http.MethodPut, "/v1/content/promo", `{"variants":`, admin())
	if got := decodeBody[ErrorResponse](t, rr); rr.Code != http.StatusBadRequest || got.Code != ErrCodeInvalidJSON {
		t.Errorf("bad json: %d %q", rr.Code, got.Code)
	}

	rr = env.do(t, http.MethodPut, "/v1/content/bad%20id", `{"variants":[]}`, admin())
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad id: status = %d", rr.Code)
	}
}

func TestGetDefinition_ETag(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	rr := env.do(t, http.MethodGet, "/v1/content/promo", "", admin())
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	etag := rr.Header().Get("ETag")
	if etag == "" {
		t.Fatal("missing ETag")
	}

	headers := admin()
	headers["If-None-Match"] = etag
	if rr := env.do(t, http.MethodGet, "/v1/content/promo", "", headers); rr.Code != http.StatusNotModified {
		t.Errorf("conditional GET status = %d", rr.Code)
	}

	if rr := env.do(t, http.MethodGet, "/v1/content/missing", "", admin()); rr.Code != http.StatusNotFound {
		t.Errorf("missing status = %d", rr.Code)
	}
}

func TestListDefinitions(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/v1/content", "", admin())
	if got := decodeBody[listResponse](t, rr); got.Count != 0 || got.Definitions == nil {
		t.Errorf("empty list = %+v", got)
	}

	env.seed(t)
	rr = env.do(t, http.MethodGet, "/v1/content", "", admin())
	if got := decodeBody[listResponse](t, rr); got.Count != 1 || got.Definitions[0].ID != "promo" {
		t.Errorf("list = %+v", got)
	}
}

func TestRender(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	tests := []struct {
		name    string
		headers map[string]string
		content string
		reason  engine.Reason
	}{
		{
			name:    "editor",
			headers: map[string]string{reqctx.HeaderUserID: "1", reqctx.HeaderUserRoles: "editor"},
			content: "Hi editor", reason: engine.ReasonVariantMatch,
		},
		{
			name:    "german visitor",
			headers: map[string]string{reqctx.HeaderCloudflareCC: "DE"},
			content: "Hallo", reason: engine.ReasonVariantMatch,
		},
		{name: "anonymous", content: "Hello", reason: engine.ReasonDefault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodGet, "/v1/content/promo/render", "", tt.headers)
			if rr.Code != http.StatusOK {
				t.Fatalf("status = %d body %s", rr.Code, rr.Body.String())
			}
			if rr.Header().Get("Cache-Control") != "private, no-store" {
				t.Errorf("Cache-Control = %q", rr.Header().Get("Cache-Control"))
			}
			got := decodeBody[evaluation.Rendered](t, rr)
			if got.Content != tt.content || got.Reason != tt.reason {
				t.Errorf("render = %+v", got)
			}
		})
	}

	rr := env.do(t, http.MethodGet, "/v1/content/missing/render", "", nil)
	if got := decodeBody[ErrorResponse](t, rr); rr.Code != http.StatusNotFound || got.Code != ErrCodeNotFound {
		t.Errorf("missing: %d %+v", rr.Code, got)
	}
}

func TestRender_CountsViews(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	for i := 0; i < 3; i++ {
		env.do(t, http.MethodGet, "/v1/content/promo/render", "", map[string]string{reqctx.HeaderCloudflareCC: "DE"})
	}
	env.recorder.Close()

	rr := env.do(t, http.MethodGet, "/v1/content/promo/views", "", admin())
	got := decodeBody[viewsResponse](t, rr)
	if got.ID != "promo" || got.Views["germany"] != 3 {
		t.Errorf("views = %+v", got)
	}
}

func TestSelect(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	rr := env.do(t, http.MethodPost, "/v1/content/promo/select", `{"geo":{"country":"DE"}}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rr.Code, rr.Body.String())
	}
	if got := decodeBody[evaluation.Rendered](t, rr); got.VariantID != "germany" {
		t.Errorf("select = %+v", got)
	}

	rr = env.do(t, http.MethodPost, "/v1/content/promo/select", `not json`, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad body status = %d", rr.Code)
	}
}

func TestConditionsTest(t *testing.T) {
	env := newTestEnv(t)
	body := `{"conditions":[{"type":"logged_in","value":"logged_in"}],"operator":"AND",
		"context":{"identity":{"authenticated":true,"userId":"7"}}}`

	rr := env.do(t, http.MethodPost, "/v1/conditions/test", body, nil)
	got := decodeBody[engine.TestResult](t, rr)
	if !got.Result || got.Message != "Conditions matched! Content would be displayed." {
		t.Errorf("test = %+v", got)
	}

	rr = env.do(t, http.MethodPost, "/v1/conditions/test", `{"conditions":[{"type":"logged_in","value":"logged_in"}]}`, nil)
	got = decodeBody[engine.TestResult](t, rr)
	if got.Result || got.Message != "Conditions not matched. Default content would be displayed." {
		t.Errorf("anonymous test = %+v", got)
	}

	rr = env.do(t, http.MethodPost, "/v1/conditions/test", `{"conditions":[],"operator":"XOR"}`, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("XOR status = %d", rr.Code)
	}
}

func TestConditionsTest_UnknownTypesShareOneSeries(t *testing.T) {
	m := telemetry.New()
	fx := testutil.NewServiceWithEngine(t, []engine.Option{engine.WithUnknownTypeHook(m.CountUnknownCondition)})
	handler := NewServer(fx.Service, reqctx.New(), testKey, WithMetrics(m)).Router()

	const n = 200
	for i := 0; i < n; i++ {
		req := &testutil.HTTPRequest{
			Method: http.MethodPost,
			Path:   "/v1/conditions/test",
			Body:   fmt.Sprintf(`{"conditions":[{"type":"made_up_%d","value":"x"}]}`, i),
		}
		if rr := req.Do(t, handler); rr.Code != http.StatusOK {
			t.Fatalf("request %d: status %d body %s", i, rr.Code, rr.Body.String())
		}
	}

	if got := promtestutil.CollectAndCount(m.UnknownConditions); got != 1 {
		t.Errorf("unknown condition series = %d, want 1", got)
	}
	if got := promtestutil.ToFloat64(m.UnknownConditions); got != n {
		t.Errorf("unknown condition count = %v, want %d", got, n)
	}
}

func TestGuard(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/v1/conditions/guard",
		`{"attributes":{"country":"DE,AT"},"mode":"hide","content":"x","context":{"geo":{"country":"AT"}}}`, nil)
	if got := decodeBody[evaluation.GuardResult](t, rr); got.Visible || got.Content != "" {
		t.Errorf("hide guard = %+v", got)
	}

	rr = env.do(t, http.MethodPost, "/v1/conditions/guard",
		`{"attributes":{"country":"DE,AT"},"content":"x","context":{"geo":{"country":"AT"}}}`, nil)
	if got := decodeBody[evaluation.GuardResult](t, rr); !got.Visible || got.Content != "x" {
		t.Errorf("show guard = %+v", got)
	}

	rr = env.do(t, http.MethodPost, "/v1/conditions/guard", `{"mode":"maybe"}`, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad mode status = %d", rr.Code)
	}
}

func TestValidateExpression(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		expr  string
		valid bool
	}{
		{`country == "US" && cart_total > 50.0`, true},
		{`"editor" in roles`, true},
		{`country ==`, false},
		{`cart_total + 1.0`, false},
		{``, false},
	}
	for _, tt := range tests {
		body, _ := json.Marshal(validateExpressionRequest{Expression: tt.expr})
		rr := env.do(t, http.MethodPost, "/v1/expressions/validate", string(body), nil)
		got := decodeBody[validateExpressionResponse](t, rr)
		if got.Valid != tt.valid {
			t.Errorf("validate(%q) = %+v, want valid=%v", tt.expr, got, tt.valid)
		}
		if !tt.valid && got.Error == "" {
			t.Errorf("validate(%q) has no error message", tt.expr)
		}
	}
}

func TestDeleteDefinition(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	if rr := env.do(t, http.MethodDelete, "/v1/content/promo", "", admin()); rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rr.Code)
	}
	if rr := env.do(t, http.MethodDelete, "/v1/content/promo", "", admin()); rr.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/v1/content/promo/render", "", nil); rr.Code != http.StatusNotFound {
		t.Errorf("render after delete status = %d", rr.Code)
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, WithRateLimit(2))
	env.seed(t)

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		last = env.do(t, http.MethodGet, "/v1/content/promo/render", "", nil)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", last.Code)
	}
	if got := decodeBody[ErrorResponse](t, last); got.Code != ErrCodeRateLimited {
		t.Errorf("code = %q", got.Code)
	}

	// Admin routes are not limited.
	if rr := env.do(t, http.MethodGet, "/v1/content", "", admin()); rr.Code != http.StatusOK {
		t.Errorf("admin status = %d", rr.Code)
	}
}

func TestRequestTooLarge(t *testing.T) {
	env := newTestEnv(t)
	body := `{"content":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	rr := env.do(t, http.MethodPost, "/v1/conditions/guard", body, nil)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d", rr.Code)
	}
}
