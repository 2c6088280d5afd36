package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/flagcore/flagcore/internal/evaluation"
	"github.com/flagcore/flagcore/internal/flag"
)

// OutputFormat specifies the output format for CLI commands
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// PrintFlags outputs flags in the specified format
func PrintFlags(flags []flag.Record, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(flags)
	case FormatYAML:
		return printYAML(flags)
	case FormatTable:
		return printTable(flags)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// PrintFlag outputs a single flag in the specified format
func PrintFlag(rec *flag.Record, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(rec)
	case FormatYAML:
		return printYAML(rec)
	case FormatTable:
		return printTable([]flag.Record{*rec})
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// PrintDecision outputs an evaluation decision in the specified format
func PrintDecision(d *evaluation.Decision, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(d)
	case FormatYAML:
		return printYAML(d)
	case FormatTable:
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Active", "Reason")
		table.Append(fmt.Sprintf("%t", d.Active), string(d.Reason))
		return table.Render()
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func printJSON(data interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	// Wrap record slices in a "flags" key for consistency with the API
	if flags, ok := data.([]flag.Record); ok {
		return encoder.Encode(map[string][]flag.Record{"flags": flags})
	}
	return encoder.Encode(data)
}

func printYAML(data interface{}) error {
	encoder := yaml.NewEncoder(os.Stdout)
	defer encoder.Close()
	encoder.SetIndent(2)
	return encoder.Encode(data)
}

func printTable(flags []flag.Record) error {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Name", "Env", "Enabled", "Rollout", "Version", "Updated At")

	for _, rec := range flags {
		enabled := "false"
		if rec.Enabled {
			enabled = "true"
		}

		table.Append(
			rec.Key.Name,
			rec.Key.Env,
			enabled,
			fmt.Sprintf("%d%%", rec.Rollout),
			fmt.Sprintf("%d", rec.Version),
			rec.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}

	return table.Render()
}
