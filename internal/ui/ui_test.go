package ui

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

func TestShouldUseColor_Environment(t *testing.T) {
	t.Setenv("CLICOLOR_FORCE", "")
	t.Setenv("NO_COLOR", "1")
	if ShouldUseColor() {
		t.Error("NO_COLOR should disable color")
	}

	t.Setenv("NO_COLOR", "")
	t.Setenv("CLICOLOR_FORCE", "1")
	if !ShouldUseColor() {
		t.Error("CLICOLOR_FORCE should enable color")
	}
}

func TestTable_PlainProfile(t *testing.T) {
	lipgloss.SetColorProfile(termenv.Ascii)

	out := Table([]string{"ID", "STATUS"}, [][]string{{"1", "done"}, {"2", "failed"}}, 1)

	for _, want := range []string{"ID", "STATUS", "done", "failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("table is missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Errorf("plain profile produced escape codes:\n%q", out)
	}
}

func TestRenderStatus_KeepsText(t *testing.T) {
	lipgloss.SetColorProfile(termenv.Ascii)
	for _, s := range []string{"done", "processing", "failed", "uploaded", "other"} {
		if got := RenderStatus(s); got != s {
			t.Errorf("RenderStatus(%q) = %q", s, got)
		}
	}
}
