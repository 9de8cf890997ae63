package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/TimurManjosov/contentship/internal/engine"
	"github.com/TimurManjosov/contentship/internal/rules"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

// OutputFormat specifies the output format for CLI commands
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// PrintDefinitions writes a list of definitions in the given format.
func PrintDefinitions(w io.Writer, defs []rules.Definition, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(w, map[string][]rules.Definition{"definitions": defs})
	case FormatYAML:
		return printYAML(w, defs)
	case FormatTable:
		return printDefinitionTable(w, defs)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// PrintDefinition writes one definition. The table form lists its variants.
func PrintDefinition(w io.Writer, d *rules.Definition, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(w, d)
	case FormatYAML:
		return printYAML(w, d)
	case FormatTable:
		return printVariantTable(w, d)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// PrintViews writes per-variant view counts. The default content is listed as "(default)".
func PrintViews(w io.Writer, id string, views map[string]int64, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(w, map[string]any{"id": id, "views": views})
	case FormatYAML:
		return printYAML(w, map[string]any{"id": id, "views": views})
	case FormatTable:
		keys := make([]string, 0, len(views))
		for k := range views {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		table := tablewriter.NewWriter(w)
		table.Header("Variant", "Views")
		for _, k := range keys {
			label := k
			if label == "" {
				label = "(default)"
			}
			table.Append(label, strconv.FormatInt(views[k], 10))
		}
		return table.Render()
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// PrintTestResult writes the outcome of a condition preview.
func PrintTestResult(w io.Writer, res engine.TestResult, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(w, res)
	case FormatYAML:
		return printYAML(w, res)
	case FormatTable:
		_, err := fmt.Fprintf(w, "result: %t\n%s\n", res.Result, res.Message)
		return err
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func printJSON(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func printYAML(w io.Writer, data any) error {
	encoder := yaml.NewEncoder(w)
	defer encoder.Close()
	encoder.SetIndent(2)
	return encoder.Encode(data)
}

func printDefinitionTable(w io.Writer, defs []rules.Definition) error {
	table := tablewriter.NewWriter(w)
	table.Header("ID", "Variants", "Operator", "Default", "Updated At")

	for _, d := range defs {
		variants := strconv.Itoa(len(d.Variants))
		if d.Malformed() {
			variants = "raw"
		}
		updated := ""
		if !d.UpdatedAt.IsZero() {
			updated = d.UpdatedAt.Format("2006-01-02 15:04")
		}
		table.Append(d.ID, variants, string(d.Operator.Normalize()), truncate(d.DefaultContent, 40), updated)
	}
	return table.Render()
}

func printVariantTable(w io.Writer, d *rules.Definition) error {
	if _, err := fmt.Fprintf(w, "%s (%s)\n", d.ID, d.Operator.Normalize()); err != nil {
		return err
	}
	table := tablewriter.NewWriter(w)
	table.Header("#", "Variant", "Conditions", "Content")
	for i, v := range d.Variants {
		table.Append(strconv.Itoa(i+1), string(v.ID), describeConditions(v.Conditions), truncate(v.Content, 40))
	}
	table.Append("-", "(default)", "", truncate(d.DefaultContent, 40))
	return table.Render()
}

func describeConditions(conds []rules.Condition) string {
	out := ""
	for i, c := range conds {
		if i > 0 {
			out += ", "
		}
		out += string(c.Type)
		if c.Parameter != "" {
			out += "[" + c.Parameter + "]"
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}
