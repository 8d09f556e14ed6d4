// Package output renders command results as JSON, JSON lines, YAML or an
// aligned text table.
package output

import (
	"fmt"
	"io"
	"strings"
)

// Format represents output format types.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatTable, FormatJSON, FormatJSONL, FormatYAML:
		return f, nil
	case "":
		return FormatTable, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", s)
	}
}

// Tabular is implemented by values that can be shown as a table.
type Tabular interface {
	Header() []string
	Rows() [][]string
}

// Render writes v in the given format. Table output needs a Tabular
// value; JSON lines output writes one line per element when v is a slice.
func Render(w io.Writer, format Format, v any) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, v)
	case FormatJSONL:
		return writeJSONL(w, v)
	case FormatYAML:
		return writeYAML(w, v)
	case FormatTable, "":
		t, ok := v.(Tabular)
		if !ok {
			return fmt.Errorf("%T cannot be shown as a table", v)
		}
		return writeTable(w, t)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}
