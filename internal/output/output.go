// Package output provides consistent CLI output formatting. Styles apply
// only when the destination is a terminal; pipes get plain text.
package output

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle     = lipgloss.NewStyle().Faint(true)
)

// Writer provides formatted output for the CLI.
type Writer struct {
	out      io.Writer
	useStyle bool
}

// New creates a Writer; styling is enabled when out is a TTY.
func New(out io.Writer) *Writer {
	useStyle := false
	if f, ok := out.(*os.File); ok {
		useStyle = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &Writer{out: out, useStyle: useStyle}
}

func (w *Writer) render(style lipgloss.Style, msg string) string {
	if !w.useStyle {
		return msg
	}
	return style.Render(msg)
}

// Println prints an unstyled line.
func (w *Writer) Println(msg string) {
	_, _ = fmt.Fprintln(w.out, msg)
}

// Printf prints an unstyled formatted line.
func (w *Writer) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(w.out, format+"\n", args...)
}

// Success prints a success line.
func (w *Writer) Success(format string, args ...any) {
	_, _ = fmt.Fprintln(w.out, w.render(successStyle, fmt.Sprintf(format, args...)))
}

// Warning prints a warning line.
func (w *Writer) Warning(format string, args ...any) {
	_, _ = fmt.Fprintln(w.out, w.render(warnStyle, fmt.Sprintf(format, args...)))
}

// Error prints an error line.
func (w *Writer) Error(format string, args ...any) {
	_, _ = fmt.Fprintln(w.out, w.render(errorStyle, fmt.Sprintf(format, args...)))
}

// Dim prints a de-emphasized line.
func (w *Writer) Dim(format string, args ...any) {
	_, _ = fmt.Fprintln(w.out, w.render(dimStyle, fmt.Sprintf(format, args...)))
}
