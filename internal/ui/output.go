package ui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Format is a command output format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// ParseFormat validates an --output value. Empty means text.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatText, nil
	case FormatText, FormatJSON, FormatYAML, FormatTOML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, json, yaml or toml)", s)
	}
}

// Print writes v in the given format. For FormatText it calls text, which
// renders the human-readable view.
//
// Structured formats share the JSON field names: v is first passed through
// encoding/json so yaml and toml output uses the same keys.
func Print(w io.Writer, format Format, v any, text func(io.Writer) error) error {
	if format == FormatText {
		return text(w)
	}
	if format == FormatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	generic, err := toGeneric(v)
	if err != nil {
		return err
	}

	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	case FormatTOML:
		// TOML documents must be tables.
		if _, ok := generic.(map[string]any); !ok {
			generic = map[string]any{"items": generic}
		}
		if err := toml.NewEncoder(w).Encode(generic); err != nil {
			return fmt.Errorf("failed to encode toml: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// toGeneric round-trips v through JSON into maps, slices and scalars.
// Integral numbers stay int64.
func toGeneric(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal output: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode output: %w", err)
	}
	return numbers(out), nil
}

func numbers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			// toml cannot encode nil
			if val == nil {
				delete(t, k)
				continue
			}
			t[k] = numbers(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = numbers(val)
		}
		return t
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	default:
		return v
	}
}
