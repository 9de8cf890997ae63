package commands

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// run executes the root command with args against a fake server.
func run(t *testing.T, srvURL string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CONTENTSHIP_BASE_URL", srvURL)
	t.Setenv("CONTENTSHIP_API_KEY", "test-key")

	// Persistent flag vars survive between Execute calls.
	baseURL, apiKey, env, format, quiet, deleteForce, applyDryRun, applyContinueOnError = "", "", "", "table", false, false, false, false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader("y\n"))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func fakeServer(t *testing.T) (*httptest.Server, *[]string) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/content":
			w.Write([]byte(`{"definitions":[{"id":"home-hero","variants":[],"defaultContent":"Welcome"}],"count":1}`))
		case r.Method == http.MethodPut && r.URL.Path == "/v1/content/bad":
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"message":"definition is invalid","code":"VALIDATION_ERROR"}`))
		case r.Method == http.MethodPut:
			w.Write([]byte(`{"id":"` + strings.TrimPrefix(r.URL.Path, "/v1/content/") + `","variants":[]}`))
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		case r.URL.Path == "/v1/conditions/test":
			w.Write([]byte(`{"result":false,"message":"Conditions not matched."}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"message":"not found","code":"NOT_FOUND"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestListCommand(t *testing.T) {
	srv, _ := fakeServer(t)
	out, err := run(t, srv.URL, "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "home-hero") {
		t.Errorf("output missing definition:\n%s", out)
	}
}

func TestApplyCommand(t *testing.T) {
	srv, calls := fakeServer(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "defs.yaml")
	os.WriteFile(path, []byte("- id: a\n  variants: []\n- id: bad\n  variants: []\n- id: c\n  variants: []\n"), 0o600)

	if _, err := run(t, srv.URL, "apply", path); err == nil {
		t.Fatal("expected apply to stop at the invalid definition")
	}
	if len(*calls) != 2 {
		t.Errorf("calls = %v, want 2", *calls)
	}

	*calls = nil
	out, err := run(t, srv.URL, "apply", path, "--continue-on-error")
	if err == nil || !strings.Contains(err.Error(), "1 of 3") {
		t.Errorf("err = %v", err)
	}
	if len(*calls) != 3 || !strings.Contains(out, "applied c") {
		t.Errorf("calls = %v\n%s", *calls, out)
	}

	*calls = nil
	if _, err := run(t, srv.URL, "apply", path, "--dry-run"); err != nil || len(*calls) != 0 {
		t.Errorf("dry run: err=%v calls=%v", err, *calls)
	}
}

func TestDeleteAndTestCommands(t *testing.T) {
	srv, calls := fakeServer(t)

	out, err := run(t, srv.URL, "delete", "home-hero")
	if err != nil || !strings.Contains(out, "Deleted 'home-hero'") {
		t.Fatalf("delete: %v\n%s", err, out)
	}
	if (*calls)[0] != "DELETE /v1/content/home-hero" {
		t.Errorf("calls = %v", *calls)
	}

	path := filepath.Join(t.TempDir(), "t.json")
	os.WriteFile(path, []byte(`{"conditions":[{"type":"logged_in","value":"logged_in"}]}`), 0o600)
	out, err = run(t, srv.URL, "test", path)
	if err != nil || !strings.Contains(out, "result: false") {
		t.Errorf("test: %v\n%s", err, out)
	}
}

func TestSplitKey(t *testing.T) {
	if env, key, err := splitKey("local.base_url"); err != nil || env != "local" || key != "base_url" {
		t.Errorf("splitKey = %q %q %v", env, key, err)
	}
	for _, bad := range []string{"local", ".x", "a.b.c"} {
		if _, _, err := splitKey(bad); err == nil {
			t.Errorf("splitKey(%q) expected error", bad)
		}
	}
}
