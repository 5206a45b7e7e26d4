// Package render writes command results as json, yaml or a table.
//
// Format selection:
//   - --format always wins; invalid formats are errors
//   - otherwise a TTY gets table and anything else gets json
//
// --no-color affects table output only.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

// Format represents an output format.
type Format string

// Supported formats.
const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

// maxInlineItems is the longest slice printed element by element in a table.
const maxInlineItems = 10

// ParseFormat parses a format string, returning an error for invalid formats.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "table":
		return FormatTable, nil
	case "yaml":
		return FormatYAML, nil
	case "":
		return "", nil // caller picks the default
	default:
		return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
	}
}

// Renderer handles output formatting.
type Renderer struct {
	format  Format
	noColor bool
	out     io.Writer
	key     lipgloss.Style
}

// NewRenderer creates a renderer from the --format and --no-color flags.
// Output goes to the app writer, which defaults to os.Stdout.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	format, err := ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}
	var out io.Writer = os.Stdout
	if c.App != nil && c.App.Writer != nil {
		out = c.App.Writer
	}
	if format == "" {
		if f, ok := out.(*os.File); ok && isTTY(f) {
			format = FormatTable
		} else {
			format = FormatJSON
		}
	}
	return NewRendererWithWriter(format, c.Bool("no-color"), out), nil
}

// NewRendererWithWriter creates a renderer with a custom writer (for testing).
func NewRendererWithWriter(format Format, noColor bool, out io.Writer) *Renderer {
	key := lipgloss.NewStyle()
	if !noColor {
		key = key.Bold(true).Foreground(lipgloss.Color("6"))
	}
	return &Renderer{format: format, noColor: noColor, out: out, key: key}
}

// Format returns the selected format.
func (r *Renderer) Format() Format {
	return r.format
}

// Render outputs the data in the configured format.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return err
		}
		return enc.Close()
	case FormatTable:
		return r.renderTable(data)
	default:
		return fmt.Errorf("unknown format: %s", r.format)
	}
}

func (r *Renderer) renderTable(data any) error {
	v := indirect(reflect.ValueOf(data))
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			fmt.Fprintln(w, "(no results)")
			break
		}
		headers := columns(v.Index(0))
		if headers == nil {
			for i := range v.Len() {
				fmt.Fprintln(w, formatValue(v.Index(i)))
			}
			break
		}
		upper := make([]string, len(headers))
		for i, h := range headers {
			upper[i] = strings.ToUpper(h.name)
		}
		fmt.Fprintln(w, strings.Join(upper, "\t"))
		for i := range v.Len() {
			row := indirect(v.Index(i))
			cells := make([]string, len(headers))
			for j, h := range headers {
				cells[j] = formatValue(h.get(row))
			}
			fmt.Fprintln(w, strings.Join(cells, "\t"))
		}
	case reflect.Struct, reflect.Map:
		for _, h := range columns(v) {
			fmt.Fprintf(w, "%s\t%s\n", r.key.Render(h.name+":"), formatValue(h.get(v)))
		}
	default:
		fmt.Fprintln(w, formatValue(v))
	}
	return w.Flush()
}

type column struct {
	name string
	get  func(reflect.Value) reflect.Value
}

// columns lists the fields of a struct, or the sorted keys of a map.
// It returns nil for other kinds.
func columns(v reflect.Value) []column {
	v = indirect(v)
	switch v.Kind() {
	case reflect.Struct:
		t := v.Type()
		var cols []column
		for i := range t.NumField() {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			name, skip := fieldName(f)
			if skip {
				continue
			}
			cols = append(cols, column{name: name, get: func(s reflect.Value) reflect.Value { return s.Field(i) }})
		}
		return cols
	case reflect.Map:
		keys := v.MapKeys()
		sort.Slice(keys, func(i, j int) bool {
			return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
		})
		cols := make([]column, len(keys))
		for i, k := range keys {
			cols[i] = column{name: fmt.Sprint(k.Interface()), get: func(m reflect.Value) reflect.Value { return m.MapIndex(k) }}
		}
		return cols
	}
	return nil
}

// fieldName prefers the json tag name.
func fieldName(f reflect.StructField) (name string, skip bool) {
	if tag := f.Tag.Get("json"); tag != "" {
		name, _, _ = strings.Cut(tag, ",")
		if name == "-" {
			return "", true
		}
		if name != "" {
			return name, false
		}
	}
	return strings.ToLower(f.Name), false
}

func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func formatValue(v reflect.Value) string {
	v = indirect(v)
	if !v.IsValid() {
		return ""
	}
	if t, ok := v.Interface().(time.Time); ok {
		if t.IsZero() {
			return ""
		}
		return t.Format(time.RFC3339Nano)
	}
	if d, ok := v.Interface().(time.Duration); ok {
		return d.String()
	}

	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'f', 4, 64)
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			return "[]"
		}
		if v.Len() > maxInlineItems {
			return fmt.Sprintf("[%d items]", v.Len())
		}
		items := make([]string, v.Len())
		for i := range v.Len() {
			items[i] = formatValue(v.Index(i))
		}
		return "[" + strings.Join(items, " ") + "]"
	case reflect.Map:
		if v.Len() == 0 {
			return "{}"
		}
		return fmt.Sprintf("{%d keys}", v.Len())
	case reflect.Struct:
		return "{...}"
	default:
		return fmt.Sprint(v.Interface())
	}
}

// isTTY returns true if the file is a terminal.
func isTTY(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
