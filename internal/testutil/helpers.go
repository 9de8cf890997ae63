// Package testutil builds wired services and requests for handler tests.
package testutil

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/TimurManjosov/contentship/internal/engine"
	"github.com/TimurManjosov/contentship/internal/evaluation"
	"github.com/TimurManjosov/contentship/internal/expr"
	"github.com/TimurManjosov/contentship/internal/rules"
	"github.com/TimurManjosov/contentship/internal/store"
	"github.com/TimurManjosov/contentship/internal/targeting"
	"github.com/TimurManjosov/contentship/internal/views"
)

// Fixture is an evaluation service over an in-memory store, wired the way
// the server wires it.
type Fixture struct {
	Service  *evaluation.Service
	Store    *store.MemoryStore
	Recorder *views.Recorder
}

// NewService builds a Fixture. The recorder and store are closed on cleanup.
func NewService(t *testing.T, opts ...evaluation.Option) *Fixture {
	t.Helper()
	return NewServiceWithEngine(t, nil, opts...)
}

// NewServiceWithEngine is NewService with extra engine options applied after
// the registry and expression environment.
func NewServiceWithEngine(t *testing.T, engineOpts []engine.Option, opts ...evaluation.Option) *Fixture {
	t.Helper()

	registry := engine.NewRegistry()
	if err := registry.Register(targeting.Extension()); err != nil {
		t.Fatalf("register json_logic: %v", err)
	}
	x, err := expr.New()
	if err != nil {
		t.Fatalf("expr.New: %v", err)
	}

	st := store.NewMemoryStore()
	rec := views.NewRecorder(st, 100, zerolog.Nop())
	rec.Start()
	t.Cleanup(func() {
		rec.Close()
		st.Close()
	})

	engineOpts = append([]engine.Option{engine.WithRegistry(registry), engine.WithExpressions(x)}, engineOpts...)
	eng := engine.New(engineOpts...)
	opts = append([]evaluation.Option{evaluation.WithRecorder(rec)}, opts...)
	return &Fixture{Service: evaluation.New(eng, st, opts...), Store: st, Recorder: rec}
}

// SeedDefinitions saves defs through the service, so they are validated
// and receive ids the way an admin write would.
func (f *Fixture) SeedDefinitions(t *testing.T, defs ...rules.Definition) {
	t.Helper()
	for _, d := range defs {
		if _, err := f.Service.Save(context.Background(), d); err != nil {
			t.Fatalf("seed %s: %v", d.ID, err)
		}
	}
}

// HTTPRequest is a helper for making test HTTP requests.
type HTTPRequest struct {
	Method  string
	Path    string
	Body    string
	Headers map[string]string
}

// Do executes the HTTP request and returns the response recorder.
func (r *HTTPRequest) Do(t *testing.T, handler http.Handler) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if r.Body != "" {
		body = strings.NewReader(r.Body)
	}
	req := httptest.NewRequest(r.Method, r.Path, body)
	if r.Body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}
