package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/TimurManjosov/contentship/internal/engine"
	"github.com/TimurManjosov/contentship/internal/rules"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefinitions(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantIDs []string
	}{
		{
			name: "single yaml",
			file: "promo.yaml",
			body: `
id: promo
defaultContent: Hello
conditionOperator: OR
variants:
  - id: v1
    content: Hi editor
    conditions:
      - type: role
        value: [editor, author]
      - type: cart_total
        operator: greater_than
        value: 50
`,
			wantIDs: []string{"promo"},
		},
		{
			name:    "yaml list",
			file:    "all.yml",
			body:    "- id: a\n  variants: []\n- id: b\n  variants: []\n",
			wantIDs: []string{"a", "b"},
		},
		{
			name:    "json wrapped",
			file:    "export.json",
			body:    `{"definitions":[{"id":"a","variants":[]},{"id":"c","variants":[]}]}`,
			wantIDs: []string{"a", "c"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defs, err := LoadDefinitions(writeFile(t, tt.file, tt.body))
			if err != nil {
				t.Fatalf("LoadDefinitions: %v", err)
			}
			if len(defs) != len(tt.wantIDs) {
				t.Fatalf("got %d definitions, want %d", len(defs), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if defs[i].ID != id {
					t.Errorf("defs[%d].ID = %q, want %q", i, defs[i].ID, id)
				}
			}
		})
	}
}

func TestLoadDefinitions_YAMLValuesMatchJSON(t *testing.T) {
	defs, err := LoadDefinitions(writeFile(t, "d.yaml", `
id: promo
variants:
  - conditions:
      - type: time_range
        value: {start: "09:00", end: "17:00"}
`))
	if err != nil {
		t.Fatal(err)
	}
	if err := rules.ValidateDefinition(defs[0]); err != nil {
		t.Errorf("yaml definition failed validation: %v", err)
	}
	if _, ok := defs[0].Variants[0].Conditions[0].Value.(map[string]any); !ok {
		t.Errorf("value = %T, want map[string]any", defs[0].Variants[0].Conditions[0].Value)
	}
}

func TestLoadDefinitions_Errors(t *testing.T) {
	if _, err := LoadDefinitions(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := LoadDefinitions(writeFile(t, "bad.yaml", "id: [")); err == nil {
		t.Error("expected error for invalid YAML")
	}
	if _, err := LoadDefinitions(writeFile(t, "scalar.yaml", "just text")); err == nil {
		t.Error("expected error for scalar document")
	}
}

func TestLoadTestRequest(t *testing.T) {
	req, err := LoadTestRequest(writeFile(t, "t.yaml", `
operator: OR
conditions:
  - type: country
    value: [US]
context:
  geo:
    country: US
`))
	if err != nil {
		t.Fatal(err)
	}
	if req.Operator != rules.CombineOr || len(req.Conditions) != 1 {
		t.Errorf("request = %+v", req)
	}
	if req.Context == nil || req.Context.Geo.Country != "US" {
		t.Errorf("context = %+v", req.Context)
	}
}

func TestPrintFunctions(t *testing.T) {
	defs := []rules.Definition{{
		ID:             "promo",
		DefaultContent: "Hello",
		Variants:       []rules.Variant{{ID: "v1", Content: "Hi", Conditions: []rules.Condition{{Type: rules.TypeURLParameter, Parameter: "utm"}}}},
	}}

	for _, format := range []OutputFormat{FormatTable, FormatJSON, FormatYAML} {
		var buf bytes.Buffer
		if err := PrintDefinitions(&buf, defs, format); err != nil {
			t.Fatalf("PrintDefinitions(%s): %v", format, err)
		}
		if !strings.Contains(buf.String(), "promo") {
			t.Errorf("PrintDefinitions(%s) missing id:\n%s", format, buf.String())
		}
	}

	var buf bytes.Buffer
	if err := PrintDefinition(&buf, &defs[0], FormatTable); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "url_parameter[utm]") || !strings.Contains(buf.String(), "(default)") {
		t.Errorf("variant table:\n%s", buf.String())
	}

	buf.Reset()
	if err := PrintViews(&buf, "promo", map[string]int64{"": 3, "v1": 7}, FormatTable); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "(default)") || !strings.Contains(buf.String(), "7") {
		t.Errorf("views table:\n%s", buf.String())
	}

	buf.Reset()
	if err := PrintTestResult(&buf, engine.TestResult{Result: true, Message: "ok"}, FormatJSON); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"result": true`) {
		t.Errorf("test result json:\n%s", buf.String())
	}

	if err := PrintDefinitions(&buf, defs, "xml"); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestGetEnvConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv(EnvBaseURL, "")
	t.Setenv(EnvAPIKey, "")

	if err := InitConfig(); err != nil {
		t.Fatalf("InitConfig: %v", err)
	}

	cfg, name, err := GetEnvConfig("", "", "")
	if err != nil {
		t.Fatalf("GetEnvConfig: %v", err)
	}
	if name != "local" || cfg.BaseURL != "http://localhost:8080" {
		t.Errorf("got %q %+v", name, cfg)
	}

	cfg, _, err = GetEnvConfig("local", "", "override")
	if err != nil || cfg.APIKey != "override" {
		t.Errorf("flag override = %+v, %v", cfg, err)
	}

	t.Setenv(EnvBaseURL, "http://env:9000")
	t.Setenv(EnvAPIKey, "env-key")
	cfg, name, err = GetEnvConfig("", "", "")
	if err != nil || cfg.BaseURL != "http://env:9000" || name != "custom" {
		t.Errorf("env vars = %q %+v, %v", name, cfg, err)
	}

	t.Setenv(EnvBaseURL, "")
	if _, _, err := GetEnvConfig("staging", "", ""); err == nil {
		t.Error("expected error for unknown environment")
	}
}
