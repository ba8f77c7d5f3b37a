// Package ui holds terminal styling for the CLI.
package ui

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

func init() {
	if !ShouldUseColor() {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

var (
	ColorPass   = lipgloss.AdaptiveColor{Light: "#2E7D32", Dark: "#81C784"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#E65100", Dark: "#FFB74D"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#C62828", Dark: "#E57373"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#616161", Dark: "#9E9E9E"}
	ColorAccent = lipgloss.AdaptiveColor{Light: "#1565C0", Dark: "#64B5F6"}

	PassStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	AccentStyle = lipgloss.NewStyle().Foreground(ColorAccent)
	HeaderStyle = lipgloss.NewStyle().Bold(true)
)

// ShouldUseColor honours NO_COLOR and CLICOLOR_FORCE, then falls back to
// whether stdout is a color-capable terminal.
func ShouldUseColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if v := os.Getenv("CLICOLOR_FORCE"); v != "" && v != "0" {
		return true
	}
	if !IsTerminal(os.Stdout) {
		return false
	}
	return termenv.EnvColorProfile() != termenv.Ascii
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Width returns the terminal width of stdout, or 80 when unknown.
func Width() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

// RenderStatus colors a file, stage or job status.
func RenderStatus(status string) string {
	switch strings.ToLower(status) {
	case "done":
		return PassStyle.Render(status)
	case "processing", "running", "pending":
		return WarnStyle.Render(status)
	case "failed":
		return FailStyle.Render(status)
	case "uploaded":
		return AccentStyle.Render(status)
	default:
		return MutedStyle.Render(status)
	}
}

// Header renders a section title.
func Header(s string) string {
	return HeaderStyle.Render(s)
}

// Muted renders secondary text.
func Muted(s string) string {
	return MutedStyle.Render(s)
}

// Table renders rows under headers. statusCol, when >= 0, is colored with
// RenderStatus.
func Table(headers []string, rows [][]string, statusCol int) string {
	if statusCol >= 0 {
		styled := make([][]string, len(rows))
		for i, row := range rows {
			cp := append([]string(nil), row...)
			if statusCol < len(cp) {
				cp[statusCol] = RenderStatus(cp[statusCol])
			}
			styled[i] = cp
		}
		rows = styled
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(MutedStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return HeaderStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	return t.Render()
}

// RenderPass renders a success marker or message.
func RenderPass(s string) string { return PassStyle.Render(s) }

// RenderWarn renders a warning marker or message.
func RenderWarn(s string) string { return WarnStyle.Render(s) }

// RenderFail renders a failure marker or message.
func RenderFail(s string) string { return FailStyle.Render(s) }

// RenderAccent renders highlighted text.
func RenderAccent(s string) string { return AccentStyle.Render(s) }
