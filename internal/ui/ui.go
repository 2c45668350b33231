// Package ui renders nestlog output for the terminal and hosts the
// interactive onboarding form.
package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	colorAccent  = lipgloss.AdaptiveColor{Light: "#6c4ab6", Dark: "#c4a7e7"}
	colorSubtext = lipgloss.AdaptiveColor{Light: "#6e6a86", Dark: "#908caa"}
	colorOK      = lipgloss.AdaptiveColor{Light: "#2a7f62", Dark: "#9ccfd8"}
	colorWarn    = lipgloss.AdaptiveColor{Light: "#b4637a", Dark: "#eb6f92"}
	colorGold    = lipgloss.AdaptiveColor{Light: "#ea9d34", Dark: "#f6c177"}
)

// Printer writes styled output to one destination.
type Printer struct {
	w io.Writer
	r *lipgloss.Renderer

	header  lipgloss.Style
	label   lipgloss.Style
	dim     lipgloss.Style
	ok      lipgloss.Style
	warn    lipgloss.Style
	badge   lipgloss.Style
	current lipgloss.Style
}

// New returns a printer for w. Color is used only when w is a terminal and
// NO_COLOR is unset.
func New(w io.Writer) *Printer {
	return newPrinter(w, isTTY(w) && !termenv.EnvNoColor())
}

// Plain returns a printer that never emits escape sequences.
func Plain(w io.Writer) *Printer {
	return newPrinter(w, false)
}

func newPrinter(w io.Writer, color bool) *Printer {
	r := lipgloss.NewRenderer(w)
	if !color {
		r.SetColorProfile(termenv.Ascii)
	}

	return &Printer{
		w:       w,
		r:       r,
		header:  r.NewStyle().Bold(true).Foreground(colorAccent),
		label:   r.NewStyle().Foreground(colorSubtext).Width(16),
		dim:     r.NewStyle().Foreground(colorSubtext),
		ok:      r.NewStyle().Foreground(colorOK),
		warn:    r.NewStyle().Foreground(colorWarn).Bold(true),
		badge:   r.NewStyle().Foreground(colorGold).Bold(true),
		current: r.NewStyle().Foreground(colorOK).Bold(true),
	}
}

// Success prints a confirmation line.
func (p *Printer) Success(format string, args ...any) {
	fmt.Fprintln(p.w, p.ok.Render("✓ "+fmt.Sprintf(format, args...)))
}

// Warn prints a highlighted warning line.
func (p *Printer) Warn(format string, args ...any) {
	fmt.Fprintln(p.w, p.warn.Render("! "+fmt.Sprintf(format, args...)))
}

// Println writes an unstyled line.
func (p *Printer) Println(a ...any) {
	fmt.Fprintln(p.w, a...)
}

// IsTerminal reports whether stdin is an interactive terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
