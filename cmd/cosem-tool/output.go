package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"cosem-go/internal/dlms"
)

// OutputFormat represents output format types
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
)

// Formatter handles output formatting
type Formatter struct {
	format OutputFormat
	writer io.Writer
}

// NewFormatter creates a new formatter
func NewFormatter(w io.Writer, format string) *Formatter {
	return &Formatter{
		format: OutputFormat(format),
		writer: w,
	}
}

// Println prints a line
func (f *Formatter) Println(args ...interface{}) {
	fmt.Fprintln(f.writer, args...)
}

// JSON prints v as indented JSON.
func (f *Formatter) JSON(v any) error {
	enc := json.NewEncoder(f.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// PrintTable prints data in table format
func (f *Formatter) PrintTable(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	for i, h := range headers {
		fmt.Fprintf(f.writer, "%-*s ", widths[i], h)
	}
	fmt.Fprintln(f.writer)
	for i := range headers {
		fmt.Fprint(f.writer, strings.Repeat("-", widths[i])+" ")
	}
	fmt.Fprintln(f.writer)
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				fmt.Fprintf(f.writer, "%-*s ", widths[i], cell)
			}
		}
		fmt.Fprintln(f.writer)
	}
}

// Tree prints a value with one line per node, children indented.
func (f *Formatter) Tree(v dlms.Value) {
	writeTree(f.writer, v, 0)
}

func writeTree(w io.Writer, v dlms.Value, depth int) {
	indent := strings.Repeat("  ", depth)
	items, ok := v.Items()
	if !ok {
		fmt.Fprintf(w, "%s%s\n", indent, v)
		return
	}
	fmt.Fprintf(w, "%s%s (%d)\n", indent, v.Type(), len(items))
	for _, it := range items {
		writeTree(w, it, depth+1)
	}
}

// jsonNode is the JSON form of a value tree.
type jsonNode struct {
	Type  string     `json:"type"`
	Value string     `json:"value,omitempty"`
	Items []jsonNode `json:"items,omitempty"`
}

func valueJSON(v dlms.Value) jsonNode {
	n := jsonNode{Type: v.Type().String()}
	if items, ok := v.Items(); ok {
		n.Items = make([]jsonNode, len(items))
		for i, it := range items {
			n.Items[i] = valueJSON(it)
		}
		return n
	}
	n.Value = v.Text()
	return n
}
