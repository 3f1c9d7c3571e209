// Package cli provides the command-line interface for the bridge.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// Output routes command results either as colored text or as JSON,
// depending on the --json flag.
type Output struct {
	writer   io.Writer
	jsonMode bool

	success *color.Color
	failure *color.Color
	warning *color.Color
	info    *color.Color
	dim     *color.Color
	header  *color.Color
}

// NewOutput builds an Output for the command's stdout. JSON mode
// disables all coloring; otherwise fatih/color's own TTY detection
// decides.
func NewOutput(cmd *cobra.Command) *Output {
	jsonMode, _ := cmd.Flags().GetBool("json")
	o := &Output{
		writer:   cmd.OutOrStdout(),
		jsonMode: jsonMode,
		success:  color.New(color.FgGreen),
		failure:  color.New(color.FgRed),
		warning:  color.New(color.FgYellow),
		info:     color.New(color.FgCyan),
		dim:      color.New(color.Faint),
		header:   color.New(color.Bold),
	}
	if jsonMode {
		for _, c := range []*color.Color{o.success, o.failure, o.warning, o.info, o.dim, o.header} {
			c.DisableColor()
		}
	}
	return o
}

// IsJSON reports whether --json output was requested.
func (o *Output) IsJSON() bool { return o.jsonMode }

// JSON writes data as indented JSON.
func (o *Output) JSON(data interface{}) error {
	enc := json.NewEncoder(o.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func (o *Output) Println(args ...interface{}) {
	fmt.Fprintln(o.writer, args...)
}

func (o *Output) Printf(format string, args ...interface{}) {
	fmt.Fprintf(o.writer, format, args...)
}

// Success prints a green line.
func (o *Output) Success(format string, args ...interface{}) {
	o.success.Fprintf(o.writer, format+"\n", args...)
}

// Error prints a red line.
func (o *Output) Error(format string, args ...interface{}) {
	o.failure.Fprintf(o.writer, format+"\n", args...)
}

// Warning prints a yellow line.
func (o *Output) Warning(format string, args ...interface{}) {
	o.warning.Fprintf(o.writer, format+"\n", args...)
}

// Info prints a cyan line.
func (o *Output) Info(format string, args ...interface{}) {
	o.info.Fprintf(o.writer, format+"\n", args...)
}

// Dim prints a faint line.
func (o *Output) Dim(format string, args ...interface{}) {
	o.dim.Fprintf(o.writer, format+"\n", args...)
}

// Green returns text colored green (for inline use in tables).
func (o *Output) Green(text string) string { return o.success.Sprint(text) }

// Red returns text colored red.
func (o *Output) Red(text string) string { return o.failure.Sprint(text) }

// Yellow returns text colored yellow.
func (o *Output) Yellow(text string) string { return o.warning.Sprint(text) }

// FormatPnL renders a signed dollar amount, green for gains and red
// for losses.
func (o *Output) FormatPnL(pnl float64) string {
	text := FormatPnL(pnl)
	switch {
	case pnl > 0:
		return o.success.Sprint(text)
	case pnl < 0:
		return o.failure.Sprint(text)
	}
	return text
}

// StatusColor colors an order status token by outcome.
func (o *Output) StatusColor(status string) string {
	switch status {
	case "FILLED":
		return o.success.Sprint(status)
	case "CANCELLED", "REJECTED":
		return o.failure.Sprint(status)
	case "PARTIALLY_FILLED":
		return o.warning.Sprint(status)
	}
	return status
}

// Table accumulates rows and renders them with aligned columns. Cell
// widths are computed on the visible text, so colored cells align
// correctly.
type Table struct {
	headers []string
	rows    [][]string
	output  *Output
}

func NewTable(output *Output, headers ...string) *Table {
	return &Table{headers: headers, output: output}
}

func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}

	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = visibleLen(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && visibleLen(cell) > widths[i] {
				widths[i] = visibleLen(cell)
			}
		}
	}

	t.writeRow(t.headers, widths, t.output.header)
	sep := make([]string, len(widths))
	for i, w := range widths {
		sep[i] = strings.Repeat("─", w)
	}
	t.output.dim.Fprintln(t.output.writer, strings.Join(sep, "──"))
	for _, row := range t.rows {
		t.writeRow(row, widths, nil)
	}
}

func (t *Table) writeRow(cells []string, widths []int, style *color.Color) {
	parts := make([]string, 0, len(cells))
	for i, cell := range cells {
		if i >= len(widths) {
			break
		}
		pad := widths[i] - visibleLen(cell)
		if pad < 0 {
			pad = 0
		}
		padded := cell + strings.Repeat(" ", pad)
		if style != nil {
			padded = style.Sprint(padded)
		}
		parts = append(parts, padded)
	}
	fmt.Fprintln(t.output.writer, strings.Join(parts, "  "))
}

// visibleLen is the cell width excluding ANSI escape sequences.
func visibleLen(s string) int {
	n := 0
	inEscape := false
	for _, r := range s {
		switch {
		case inEscape:
			if r == 'm' {
				inEscape = false
			}
		case r == '\x1b':
			inEscape = true
		default:
			n++
		}
	}
	return n
}
