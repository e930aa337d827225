// Package terminal prints the styled run summary and progress for the CLI.
// Output degrades to plain text when the destination is not a terminal.
package terminal

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/odvcencio/webprobe/pkg/report"
)

const maxNameWidth = 40

// Writer provides styled terminal output.
type Writer struct {
	out      io.Writer
	renderer *lipgloss.Renderer
	mu       sync.Mutex

	// Styles
	errorStyle   lipgloss.Style
	warnStyle    lipgloss.Style
	successStyle lipgloss.Style
	infoStyle    lipgloss.Style
	dimStyle     lipgloss.Style
	boldStyle    lipgloss.Style
	headerStyle  lipgloss.Style
}

// New creates a new terminal Writer with the default output (stdout).
func New() *Writer {
	return NewWithOutput(os.Stdout)
}

// NewWithOutput creates a terminal Writer with a custom output destination.
// The color profile is detected from out, so buffers and pipes get plain text.
func NewWithOutput(out io.Writer) *Writer {
	r := lipgloss.NewRenderer(out)
	return newWriter(out, r)
}

// NewPlain creates a Writer that never emits escape sequences.
func NewPlain(out io.Writer) *Writer {
	r := lipgloss.NewRenderer(out, termenv.WithProfile(termenv.Ascii))
	return newWriter(out, r)
}

func newWriter(out io.Writer, r *lipgloss.Renderer) *Writer {
	return &Writer{
		out:      out,
		renderer: r,

		errorStyle: r.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#D00000", Dark: "#FF5555"}).
			Bold(true),

		warnStyle: r.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#B8860B", Dark: "#FFAA00"}),

		successStyle: r.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#008000", Dark: "#55FF55"}),

		infoStyle: r.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#0066CC", Dark: "#5599FF"}),

		dimStyle: r.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#666666", Dark: "#888888"}),

		boldStyle: r.NewStyle().Bold(true),

		headerStyle: r.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#333333", Dark: "#FFFFFF"}).
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.AdaptiveColor{Light: "#CCCCCC", Dark: "#444444"}),
	}
}

// Interactive reports whether out is a terminal, which gates the spinner.
func (w *Writer) Interactive() bool {
	f, ok := w.out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Output returns the destination writer.
func (w *Writer) Output() io.Writer {
	return w.out
}

// Println writes text with a newline.
func (w *Writer) Println(format string, args ...any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.out, format+"\n", args...)
}

// Error prints an error message in red.
func (w *Writer) Error(format string, args ...any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(w.out, w.errorStyle.Render("error: "+msg))
}

// Warn prints a warning message in yellow.
func (w *Writer) Warn(format string, args ...any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(w.out, w.warnStyle.Render("warning: "+msg))
}

// Success prints a success message in green.
func (w *Writer) Success(format string, args ...any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(w.out, w.successStyle.Render("✓ "+msg))
}

// Info prints an info message in blue.
func (w *Writer) Info(format string, args ...any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(w.out, w.infoStyle.Render(msg))
}

// Dim prints dimmed/secondary text.
func (w *Writer) Dim(format string, args ...any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(w.out, w.dimStyle.Render(msg))
}

// Header prints a section header.
func (w *Writer) Header(title string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintln(w.out, w.headerStyle.Render(title))
}

// Divider prints a horizontal divider.
func (w *Writer) Divider() {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintln(w.out, w.dimStyle.Render(strings.Repeat("─", 60)))
}

// Summary prints the outcome of a run: one line per result, the console and
// network totals, the rating and the path of the full report.
func (w *Writer) Summary(rep *report.RunReport, reportPath string) {
	if rep == nil {
		return
	}
	w.Header(fmt.Sprintf("webprobe run %s", rep.RunID))

	w.mu.Lock()
	width := resultNameWidth(rep.Results)
	for _, res := range rep.Results {
		name := runewidth.FillRight(runewidth.Truncate(res.Name, maxNameWidth, "…"), width)
		if res.Passed {
			fmt.Fprintf(w.out, "  %s %s\n", w.successStyle.Render("✓"), name)
			continue
		}
		line := fmt.Sprintf("  %s %s", w.errorStyle.Render("✗"), name)
		if msg, ok := res.Details["error"]; ok {
			line += "  " + w.dimStyle.Render(fmt.Sprint(msg))
		}
		fmt.Fprintln(w.out, line)
	}
	w.mu.Unlock()

	w.Divider()
	w.Println("Tests: %d passed, %d failed, %d total", rep.Passed(), rep.Failed(), len(rep.Results))
	w.Println("Console: %d errors, %d warnings", len(rep.Errors()), len(rep.Warnings()))
	w.Println("Network: %d requests", len(rep.NetworkEvents))

	style := w.errorStyle
	switch {
	case rep.Rating >= 8:
		style = w.successStyle
	case rep.Rating >= 5:
		style = w.warnStyle
	}
	w.mu.Lock()
	fmt.Fprintln(w.out, style.Render(fmt.Sprintf("Rating: %d/%d", rep.Rating, report.MaxRating)))
	w.mu.Unlock()
	for _, f := range rep.Findings {
		w.Dim("  • %s", f)
	}
	if reportPath != "" {
		w.Info("Report saved to: %s", reportPath)
	}
}

func resultNameWidth(results []report.TestResult) int {
	width := 0
	for _, res := range results {
		width = max(width, runewidth.StringWidth(res.Name))
	}
	return min(width, maxNameWidth)
}

// getTerminalWidth returns the terminal width, defaulting to 80.
func getTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width == 0 {
		return 80
	}
	return width
}
