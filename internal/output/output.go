// Package output provides consistent CLI output formatting. Lines are
// styled when the destination is an interactive terminal and rendered
// plain for pipes, redirects, and NO_COLOR.
package output

import (
	"fmt"
	"io"

	"github.com/docrank/docrank/internal/ui"
)

// Writer provides formatted output for CLI commands.
type Writer struct {
	out    io.Writer
	styles ui.Styles
}

// New creates a Writer for out. Styling is enabled only when out is an
// interactive terminal and NO_COLOR is unset.
func New(out io.Writer) *Writer {
	plain := !ui.IsTTY(out) || ui.DetectNoColor()
	return &Writer{out: out, styles: ui.GetStyles(plain)}
}

// Styles exposes the writer's style set for custom line rendering.
func (w *Writer) Styles() ui.Styles {
	return w.styles
}

// Status prints a status message with an icon.
// Errors from writing are intentionally ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf prints a formatted status message with an icon.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a success message with checkmark.
func (w *Writer) Success(msg string) {
	w.Status("✅", w.styles.Success.Render(msg))
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) {
	w.Status("⚠️ ", w.styles.Warning.Render(msg))
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (w *Writer) Error(msg string) {
	w.Status("❌", w.styles.Error.Render(msg))
}

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Header prints a bold section header.
func (w *Writer) Header(msg string) {
	_, _ = fmt.Fprintf(w.out, "%s\n", w.styles.Header.Render(msg))
}

// Field prints an indented label/value line.
func (w *Writer) Field(label, format string, args ...any) {
	value := fmt.Sprintf(format, args...)
	_, _ = fmt.Fprintf(w.out, "  %s %s\n", w.styles.Label.Render(label+":"), value)
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}
