package ui

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

func TestRenderPlainWithoutColor(t *testing.T) {
	lipgloss.SetColorProfile(termenv.Ascii)

	for name, render := range map[string]func(string) string{
		"accent": RenderAccent,
		"pass":   RenderPass,
		"warn":   RenderWarn,
		"fail":   RenderFail,
		"dim":    RenderDim,
	} {
		if got := render("text"); got != "text" {
			t.Errorf("%s: expected plain text, got %q", name, got)
		}
	}
}

func TestHeader(t *testing.T) {
	lipgloss.SetColorProfile(termenv.Ascii)

	got := Header("status")
	lines := strings.Split(got, "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "STATUS") {
		t.Errorf("Expected upper-cased title, got %q", lines[0])
	}
	if lines[1] != strings.Repeat("─", len("STATUS")) {
		t.Errorf("Unexpected underline %q", lines[1])
	}
}

func TestShouldUseColorRespectsNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	t.Setenv("CLICOLOR_FORCE", "1")
	if ShouldUseColor() {
		t.Error("NO_COLOR must win")
	}

	t.Setenv("NO_COLOR", "")
	if !ShouldUseColor() {
		t.Error("CLICOLOR_FORCE must enable color")
	}
}
