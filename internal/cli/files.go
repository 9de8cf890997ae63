package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/TimurManjosov/contentship/internal/client"
	"github.com/TimurManjosov/contentship/internal/rules"
	"gopkg.in/yaml.v3"
)

// LoadDefinitions reads one definition, or a list of them, from a YAML or
// JSON file. A mapping with a top-level "definitions" key is also accepted.
func LoadDefinitions(path string) ([]rules.Definition, error) {
	raw, err := readAsJSON(path)
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(string(raw))
	switch {
	case strings.HasPrefix(trimmed, "["):
		var defs []rules.Definition
		if err := json.Unmarshal(raw, &defs); err != nil {
			return nil, fmt.Errorf("failed to decode definitions: %w", err)
		}
		return defs, nil
	case strings.HasPrefix(trimmed, "{"):
		var wrapped struct {
			Definitions []rules.Definition `json:"definitions"`
		}
		if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Definitions != nil {
			return wrapped.Definitions, nil
		}
		var d rules.Definition
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("failed to decode definition: %w", err)
		}
		return []rules.Definition{d}, nil
	default:
		return nil, fmt.Errorf("%s: expected a definition or a list of definitions", path)
	}
}

// LoadTestRequest reads a condition preview request from a YAML or JSON file.
func LoadTestRequest(path string) (client.TestRequest, error) {
	var req client.TestRequest
	raw, err := readAsJSON(path)
	if err != nil {
		return req, err
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, fmt.Errorf("failed to decode test request: %w", err)
	}
	return req, nil
}

// readAsJSON normalises a YAML or JSON file to JSON so both formats decode
// through the same tolerant JSON decoders.
func readAsJSON(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return data, nil
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to convert YAML: %w", err)
	}
	return out, nil
}
