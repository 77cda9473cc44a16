package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Styles is the palette used by the CLI.
var Styles = NewPalette("#1DB954", "#04B575", "#FF0000", "#FFA500", "#626262")

// struct Palette is a simple stylesheet built with named [lipgloss.Style] fields
type Palette struct {
	title lipgloss.Style
	ok    lipgloss.Style
	err   lipgloss.Style
	warn  lipgloss.Style
	help  lipgloss.Style
	key   lipgloss.Style
}

func NewPalette(t, s, e, w, h string) *Palette {
	return &Palette{
		title: NewBold(t),
		ok:    NewBold(s),
		err:   NewBold(e),
		warn:  NewStyle(w),
		help:  NewEm(h),
		key:   NewStyle(h).Width(14),
	}
}

func NewStyle(fg string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
}

func NewBold(fg string) lipgloss.Style {
	return NewStyle(fg).Bold(true)
}

func NewEm(fg string) lipgloss.Style {
	return NewStyle(fg).Italic(true)
}

func (p *Palette) Title(s string) string { return p.title.Render(s) }
func (p *Palette) Help(s string) string  { return p.help.Render(s) }

// OK renders a success line with a check mark.
func (p *Palette) OK(format string, args ...any) string {
	return p.ok.Render("✓ " + fmt.Sprintf(format, args...))
}

// Err renders a failure line with a cross.
func (p *Palette) Err(format string, args ...any) string {
	return p.err.Render("✗ " + fmt.Sprintf(format, args...))
}

// Warn renders a warning line.
func (p *Palette) Warn(format string, args ...any) string {
	return p.warn.Render("⚠ " + fmt.Sprintf(format, args...))
}

// Step renders a progress line.
func (p *Palette) Step(format string, args ...any) string {
	return "→ " + fmt.Sprintf(format, args...)
}

// Fields renders aligned key/value rows, in the order given.
func (p *Palette) Fields(kv ...string) string {
	var b strings.Builder
	for i := 0; i+1 < len(kv); i += 2 {
		b.WriteString(p.key.Render(kv[i]))
		b.WriteString(kv[i+1])
		b.WriteString("\n")
	}
	return b.String()
}
